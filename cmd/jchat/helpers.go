package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	jchat "github.com/jchat-im/jchat-go"
)

// getClient builds an API client from the stored config plus environment
// overrides. Exits with an error message when no identity is configured,
// since every command here acts on behalf of a user.
func getClient() (*jchat.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "Error: not logged in. Run 'jchat auth login' first.")
		os.Exit(1)
	}

	var opts []jchat.ClientOption

	baseURL := cfg.Default.BaseURL
	if env := os.Getenv("JCHAT_API_BASE"); env != "" {
		baseURL = env
	}
	if baseURL != "" {
		opts = append(opts, jchat.WithBaseURL(baseURL))
	}
	if cfg.Auth.Token != "" {
		opts = append(opts, jchat.WithToken(cfg.Auth.Token))
	}
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot build logger: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, jchat.WithLogger(logger))
	}

	return jchat.NewClient(opts...), cfg
}

// selfRef returns the configured identity as a Ref.
func selfRef(cfg *Config) jchat.Ref {
	return jchat.RefFromString(cfg.Auth.UserID)
}
