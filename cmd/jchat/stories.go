package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	jchat "github.com/jchat-im/jchat-go"
)

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "View and play stories",
}

var storiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active stories grouped by owner",
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stories, err := client.Stories.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(stories) == 0 {
			fmt.Println("No active stories.")
			return
		}

		byOwner := map[string][]jchat.Story{}
		var order []string
		for _, s := range stories {
			owner := s.OwnerID()
			if _, seen := byOwner[owner]; !seen {
				order = append(order, owner)
			}
			byOwner[owner] = append(byOwner[owner], s)
		}
		for _, owner := range order {
			group := byOwner[owner]
			name := owner
			if group[0].User != nil {
				name = group[0].User.DisplayName()
			}
			fmt.Printf("%s (%d)\n", name, len(group))
			for _, s := range group {
				fmt.Printf("  %s  %s\n", s.ServerID(), storySummary(&s))
			}
		}
	},
}

var storiesPlayCmd = &cobra.Command{
	Use:   "play <owner-id>",
	Short: "Play an owner's story sequence",
	Long:  "Plays the sequence with the usual timing. Keys: enter/n next, p previous, d delete (owner only), q quit.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		player := client.NewStoryPlayer(args[0], selfRef(cfg).Canonical())

		done := make(chan struct{})
		player.OnExit(func() { close(done) })
		player.OnAdvance(func(index int) {
			if story, i, _, ok := player.Current(); ok {
				renderStory(&story, i, player.Len())
			}
		})

		if err := player.Load(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if story, i, _, ok := player.Current(); ok {
			renderStory(&story, i, player.Len())
		}
		player.Start()
		defer player.Close()

		keys := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				keys <- strings.TrimSpace(scanner.Text())
			}
		}()

		for {
			select {
			case <-done:
				fmt.Println("-- end of stories --")
				return
			case key := <-keys:
				switch key {
				case "", "n":
					player.Next()
				case "p":
					player.Prev()
				case "d":
					if err := player.Delete(ctx); err != nil {
						fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					}
				case "q":
					return
				}
			}
		}
	},
}

var storiesDeleteCmd = &cobra.Command{
	Use:   "delete <story-id>",
	Short: "Delete one of your stories by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.Stories.Delete(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Deleted.")
	},
}

var forwardIndex int

var storiesForwardCmd = &cobra.Command{
	Use:   "forward <owner-id> <contact-id>",
	Short: "Forward a story to a contact as a message",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		contact, err := client.Users.Get(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot load contact %s: %v\n", args[1], err)
			os.Exit(1)
		}

		player := client.NewStoryPlayer(args[0], selfRef(cfg).Canonical())
		if err := player.Load(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer player.Close()
		for i := 0; i < forwardIndex; i++ {
			player.Next()
		}
		if _, _, _, ok := player.Current(); !ok {
			fmt.Fprintf(os.Stderr, "Error: no story at index %d\n", forwardIndex)
			os.Exit(1)
		}
		if err := player.Forward(ctx, selfRef(cfg).Canonical(), contact, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Forwarded to %s\n", contact.DisplayName())
	},
}

func storySummary(s *jchat.Story) string {
	switch {
	case s.Text != "" && s.File != "":
		return fmt.Sprintf("%q + media", s.Text)
	case s.File != "":
		return "media: " + s.File
	case s.Text != "":
		return fmt.Sprintf("%q", s.Text)
	default:
		return "(empty)"
	}
}

func renderStory(s *jchat.Story, index, total int) {
	created := ""
	if t := parseStoryTime(s.CreatedAt); !t.IsZero() {
		created = t.Local().Format("Jan 2 15:04")
	}
	fmt.Printf("\n[story %d/%d] %s  %s\n", index+1, total, created, storySummary(s))
}

func parseStoryTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func init() {
	storiesForwardCmd.Flags().IntVar(&forwardIndex, "index", 0, "which story in the sequence to forward")
	storiesCmd.AddCommand(storiesListCmd)
	storiesCmd.AddCommand(storiesPlayCmd)
	storiesCmd.AddCommand(storiesDeleteCmd)
	storiesCmd.AddCommand(storiesForwardCmd)
	rootCmd.AddCommand(storiesCmd)
}
