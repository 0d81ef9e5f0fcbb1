package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	jchat "github.com/jchat-im/jchat-go"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the local session",
}

var (
	loginToken string
	loginName  string
)

var authLoginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Store the identity (and optional token) used by all commands",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Auth.UserID = args[0]
		if loginToken != "" {
			cfg.Auth.Token = loginToken
		}
		if loginName != "" {
			cfg.Auth.UserName = loginName
		}

		// Check the identity against the server when reachable; a miss is
		// reported but the login is still stored for offline use.
		var opts []jchat.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, jchat.WithBaseURL(cfg.Default.BaseURL))
		}
		if cfg.Auth.Token != "" {
			opts = append(opts, jchat.WithToken(cfg.Auth.Token))
		}
		client := jchat.NewClient(opts...)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if user, err := client.Users.Get(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not verify user against server: %v\n", err)
		} else if cfg.Auth.UserName == "" {
			cfg.Auth.UserName = user.DisplayName()
		}

		if err := saveConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Logged in as %s\n", cfg.Auth.UserID)
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current identity and token state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.Auth.UserID == "" {
			fmt.Println("Not logged in. Run 'jchat auth login <user-id>'.")
			return
		}
		fmt.Printf("User:  %s", cfg.Auth.UserID)
		if cfg.Auth.UserName != "" {
			fmt.Printf(" (%s)", cfg.Auth.UserName)
		}
		fmt.Println()
		fmt.Printf("Token: %s\n", maskToken(cfg.Auth.Token))

		if cfg.Auth.Token != "" {
			// Expiry only; verification is the server's job.
			token, _, err := jwt.NewParser().ParseUnverified(cfg.Auth.Token, jwt.MapClaims{})
			if err != nil {
				fmt.Println("       token is not a parseable JWT")
				return
			}
			exp, err := token.Claims.GetExpirationTime()
			if err != nil || exp == nil {
				fmt.Println("       token carries no expiry")
				return
			}
			if time.Now().After(exp.Time) {
				fmt.Printf("       expired %s\n", exp.Time.Format(time.RFC3339))
			} else {
				fmt.Printf("       valid until %s\n", exp.Time.Format(time.RFC3339))
			}
		}
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored identity and token",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Logged out.")
	},
}

func init() {
	authLoginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token for authenticated requests")
	authLoginCmd.Flags().StringVar(&loginName, "name", "", "display name to store locally")
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}
