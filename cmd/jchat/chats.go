package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	jchat "github.com/jchat-im/jchat-go"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Browse and follow conversations",
}

var chatsSearch string

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts with an active conversation",
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		users, err := client.Users.List(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		self := selfRef(cfg).Canonical()
		term := strings.ToLower(chatsSearch)
		shown := 0
		for i := range users {
			u := &users[i]
			if u.CanonicalID("") == self {
				continue
			}
			if u.LastMessage == "" && len(u.Messages) == 0 {
				continue
			}
			if term != "" && !strings.Contains(strings.ToLower(u.DisplayName()), term) {
				continue
			}
			status := " "
			if u.Online {
				status = "*"
			}
			fmt.Printf("%s %-24s %-28s %s\n", status, u.DisplayName(), u.CanonicalID(""), u.LastMessage)
			shown++
		}
		if shown == 0 {
			fmt.Println("No conversations.")
		}
	},
}

var chatsHistoryCmd = &cobra.Command{
	Use:   "history <contact-id>",
	Short: "Print the conversation with a contact",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		contactID := args[0]
		me, contact := loadParticipants(ctx, client, cfg, contactID)
		parties := jchat.NewThreadParties(me, cfg.Auth.UserID, contact, contactID)

		msgs, err := client.Messages.Thread(ctx, parties, contactID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		view := jchat.NewThreadView(parties)
		view.Reset(msgs)
		if chatsSearch != "" {
			view.SetSearch(chatsSearch)
		}
		for _, m := range view.Displayed() {
			printMessage(&m, cfg, contact)
		}
	},
}

var chatsWatchCmd = &cobra.Command{
	Use:   "watch <contact-id>",
	Short: "Follow a conversation live; typed lines are sent as messages",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		contactID := args[0]
		me, contact := loadParticipants(ctx, client, cfg, contactID)
		parties := jchat.NewThreadParties(me, cfg.Auth.UserID, contact, contactID)

		msgs, err := client.Messages.Thread(ctx, parties, contactID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		view := jchat.NewThreadView(parties)
		view.Reset(msgs)
		view.OnReveal(func(latest jchat.Message) {
			printMessage(&latest, cfg, contact)
		})

		session := client.NewSession(&jchat.SessionConfig{AutoReconnect: true})
		if err := session.SetIdentity(ctx, selfRef(cfg).Canonical()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		detach := session.AttachThread(view, contact)
		defer detach()

		offStatus := session.OnStatusChange(func(sc jchat.StatusChange) {
			state := "offline"
			if sc.Online {
				state = "online"
			}
			fmt.Printf("-- %s is %s --\n", contact.DisplayName(), state)
		})
		defer offStatus()
		offDisc := session.OnDisconnected(func(reason string) {
			fmt.Printf("-- disconnected: %s --\n", reason)
		})
		defer offDisc()

		if err := session.Connect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer session.Disconnect()

		for _, m := range view.Displayed() {
			printMessage(&m, cfg, contact)
		}
		fmt.Println("-- connected; type a message and press enter, Ctrl-C to quit --")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		for {
			select {
			case <-sigCh:
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				draft := &jchat.Message{
					SenderID:  selfRef(cfg).Canonical(),
					ContactID: jchat.RefFromString(contact.CanonicalID(contactID)),
					Type:      jchat.TypeText,
					Text:      line,
				}
				if _, err := session.SendMessage(ctx, draft); err != nil {
					fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				}
			}
		}
	},
}

var chatsSendCmd = &cobra.Command{
	Use:   "send <contact-id> <text>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		draft := &jchat.Message{
			SenderID:  selfRef(cfg).Canonical(),
			ContactID: jchat.RefFromString(args[0]),
			Type:      jchat.TypeText,
			Text:      strings.Join(args[1:], " "),
		}
		saved, err := client.Messages.Send(ctx, draft)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := client.Users.SetLastMessage(ctx, args[0], saved.Preview()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not update conversation preview: %v\n", err)
		}
		fmt.Printf("Sent %s\n", saved.ServerID())
	},
}

var chatsPollCmd = &cobra.Command{
	Use:   "poll <contact-id> <question> <option>...",
	Short: "Send a poll message",
	Args:  cobra.MinimumNArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		options := make([]jchat.PollOption, 0, len(args)-2)
		for _, text := range args[2:] {
			options = append(options, jchat.PollOption{Text: text})
		}
		draft := &jchat.Message{
			SenderID:  selfRef(cfg).Canonical(),
			ContactID: jchat.RefFromString(args[0]),
			Type:      jchat.TypePoll,
			Poll:      &jchat.Poll{Question: args[1], Options: options},
		}
		saved, err := client.Messages.Send(ctx, draft)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sent poll %s\n", saved.ServerID())
	},
}

var chatsVoteCmd = &cobra.Command{
	Use:   "vote <message-id> <option-index>",
	Short: "Vote on a poll message",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		index, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: option index must be a number\n")
			os.Exit(1)
		}
		updated, err := client.Messages.Vote(ctx, args[0], selfRef(cfg).Canonical(), index)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if updated.Poll != nil {
			printPoll(updated.Poll, selfRef(cfg).Canonical())
		}
	},
}

var chatsClearCmd = &cobra.Command{
	Use:   "clear <contact-id>",
	Short: "Delete every message in the conversation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		contactID := args[0]
		me, contact := loadParticipants(ctx, client, cfg, contactID)
		parties := jchat.NewThreadParties(me, cfg.Auth.UserID, contact, contactID)

		msgs, err := client.Messages.Thread(ctx, parties, contactID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ids := make([]string, 0, len(msgs))
		for i := range msgs {
			if id := msgs[i].ServerID(); id != "" {
				ids = append(ids, id)
			}
		}
		if err := client.Messages.DeleteAll(ctx, ids); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := client.Users.SetLastMessage(ctx, contactID, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not clear conversation preview: %v\n", err)
		}
		fmt.Printf("Deleted %d messages\n", len(ids))
	},
}

// loadParticipants fetches both ends of a conversation. The self record is
// optional (identity sets degrade to the configured id); the contact must
// exist.
func loadParticipants(ctx context.Context, client *jchat.Client, cfg *Config, contactID string) (me, contact *jchat.User) {
	me, err := client.Users.Get(ctx, cfg.Auth.UserID)
	if err != nil {
		me = nil
	}
	contact, err = client.Users.Get(ctx, contactID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot load contact %s: %v\n", contactID, err)
		os.Exit(1)
	}
	return me, contact
}

// printMessage renders one message as a single line (plus poll detail).
func printMessage(m *jchat.Message, cfg *Config, contact *jchat.User) {
	who := contact.DisplayName()
	self := selfRef(cfg).Canonical()
	sender := m.Sender.Canonical()
	if sender == "" {
		sender = m.SenderID
	}
	if sender == self {
		who = "me"
	}

	ts := ""
	if t := m.Time(); !t.IsZero() {
		ts = t.Local().Format("2006-01-02 15:04")
	}

	switch m.Kind() {
	case jchat.TypeText:
		fmt.Printf("[%s] %s: %s\n", ts, who, m.Text)
	case jchat.TypeImage, jchat.TypeDocument:
		name := m.AttachmentName
		if name == "" {
			name = m.AttachmentURL
		}
		fmt.Printf("[%s] %s: (%s) %s\n", ts, who, m.Kind(), name)
	case jchat.TypeLocation:
		if m.Location != nil {
			fmt.Printf("[%s] %s: (location) %.5f,%.5f %s\n", ts, who, m.Location.Latitude, m.Location.Longitude, m.Location.Address)
		}
	case jchat.TypeContact:
		if m.ContactInfo != nil {
			fmt.Printf("[%s] %s: (contact) %s %s\n", ts, who, m.ContactInfo.Name, m.ContactInfo.Phone)
		}
	case jchat.TypePoll:
		fmt.Printf("[%s] %s: (poll) %s  [id %s]\n", ts, who, pollQuestion(m), m.ServerID())
		if m.Poll != nil {
			printPoll(m.Poll, selfRef(cfg).Canonical())
		}
	case jchat.TypeEvent:
		if m.Event != nil {
			fmt.Printf("[%s] %s: (event) %s on %s\n", ts, who, m.Event.Title, m.Event.Date)
		}
	default:
		fmt.Printf("[%s] %s: %s\n", ts, who, m.Preview())
	}
}

func pollQuestion(m *jchat.Message) string {
	if m.Poll == nil {
		return ""
	}
	return m.Poll.Question
}

func printPoll(p *jchat.Poll, selfID string) {
	percents := p.VotePercentages()
	for i, opt := range p.Options {
		mark := " "
		if p.HasVoted(selfID, i) {
			mark = "x"
		}
		fmt.Printf("    [%s] %d. %-30s %3d%% (%d)\n", mark, i, opt.Text, percents[i], len(opt.Votes))
	}
}

func init() {
	chatsListCmd.Flags().StringVar(&chatsSearch, "search", "", "filter contacts by name")
	chatsHistoryCmd.Flags().StringVar(&chatsSearch, "search", "", "filter messages by text")
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsHistoryCmd)
	chatsCmd.AddCommand(chatsWatchCmd)
	chatsCmd.AddCommand(chatsSendCmd)
	chatsCmd.AddCommand(chatsPollCmd)
	chatsCmd.AddCommand(chatsVoteCmd)
	chatsCmd.AddCommand(chatsClearCmd)
	rootCmd.AddCommand(chatsCmd)
}
