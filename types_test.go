package jchat

import (
	"testing"
	"time"
)

// ============================================================================
// Poll tallies
// ============================================================================

func TestPollVotePercentages(t *testing.T) {
	t.Run("rounded shares", func(t *testing.T) {
		p := &Poll{Options: []PollOption{
			{Text: "a", Votes: []string{"u1", "u2"}},
			{Text: "b", Votes: []string{"u3", "u4", "u5"}},
			{Text: "c", Votes: []string{"u6", "u7", "u8", "u9", "u10"}},
		}}
		got := p.VotePercentages()
		want := []int{20, 30, 50}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("percent[%d] = %d, want %d", i, got[i], want[i])
			}
		}
		if p.TotalVotes() != 10 {
			t.Errorf("TotalVotes = %d, want 10", p.TotalVotes())
		}
	})

	t.Run("zero votes yields zeros", func(t *testing.T) {
		p := &Poll{Options: []PollOption{{Text: "a"}, {Text: "b"}}}
		for i, pct := range p.VotePercentages() {
			if pct != 0 {
				t.Errorf("percent[%d] = %d, want 0", i, pct)
			}
		}
	})

	t.Run("uneven split rounds", func(t *testing.T) {
		p := &Poll{Options: []PollOption{
			{Votes: []string{"u1"}},
			{Votes: []string{"u2", "u3"}},
		}}
		got := p.VotePercentages()
		if got[0] != 33 || got[1] != 67 {
			t.Errorf("percentages = %v, want [33 67]", got)
		}
	})
}

func TestPollHasVoted(t *testing.T) {
	p := &Poll{Options: []PollOption{
		{Votes: []string{"u1"}},
		{Votes: []string{"u2"}},
	}}
	if !p.HasVoted("u1", 0) {
		t.Error("u1 vote on option 0 not found")
	}
	if p.HasVoted("u1", 1) {
		t.Error("u1 reported as voting for option 1")
	}
	if p.HasVoted("", 0) {
		t.Error("empty user id matched a vote")
	}
	if p.HasVoted("u1", 5) || p.HasVoted("u1", -1) {
		t.Error("out-of-range option index matched")
	}
}

// ============================================================================
// Message helpers
// ============================================================================

func TestMessagePreview(t *testing.T) {
	m := &Message{Text: "hello"}
	if m.Preview() != "hello" {
		t.Errorf("Preview = %q", m.Preview())
	}
	att := &Message{Type: TypeImage, AttachmentURL: "http://x/pic.png"}
	if att.Preview() != "📎 Attachment" {
		t.Errorf("attachment Preview = %q", att.Preview())
	}
}

func TestMessageKind(t *testing.T) {
	if (&Message{}).Kind() != TypeText {
		t.Error("missing type should fall back to text")
	}
	if (&Message{Type: TypePoll}).Kind() != TypePoll {
		t.Error("explicit type not honored")
	}
}

func TestMessageServerID(t *testing.T) {
	m := &Message{MongoID: "m1", ID: "legacy"}
	if m.ServerID() != "m1" {
		t.Errorf("ServerID = %q, want m1", m.ServerID())
	}
	if (&Message{ID: "legacy"}).ServerID() != "legacy" {
		t.Error("legacy id not used as fallback")
	}
	if (&Message{ClientID: "client-x"}).ServerID() != "" {
		t.Error("unpersisted message has a server id")
	}
}

// ============================================================================
// User helpers
// ============================================================================

func TestUserDisplayName(t *testing.T) {
	cases := []struct {
		name string
		user *User
		want string
	}{
		{"first and last", &User{FirstName: "Ada", LastName: "Lovelace"}, "Ada Lovelace"},
		{"name field", &User{Name: "ada"}, "ada"},
		{"email local part", &User{Email: "ada@example.com"}, "ada"},
		{"nothing", &User{}, "Unknown"},
		{"nil", nil, "Unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.user.DisplayName(); got != tc.want {
				t.Errorf("DisplayName = %q, want %q", got, tc.want)
			}
		})
	}
}

// ============================================================================
// Story eligibility
// ============================================================================

func TestStoryPlayable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("future expiry", func(t *testing.T) {
		s := &Story{ExpiresAt: "2026-01-01T13:00:00Z"}
		if !s.Playable(now) {
			t.Error("unexpired story not playable")
		}
	})

	t.Run("past expiry", func(t *testing.T) {
		s := &Story{ExpiresAt: "2026-01-01T11:00:00Z"}
		if s.Playable(now) {
			t.Error("expired story still playable")
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		s := &Story{}
		if !s.Playable(now) {
			t.Error("story without expiry not playable")
		}
	})

	t.Run("unparseable expiry", func(t *testing.T) {
		s := &Story{ExpiresAt: "not-a-time"}
		if !s.Playable(now) {
			t.Error("unparseable expiry treated as expired")
		}
	})
}

func TestStoryOwnerID(t *testing.T) {
	s := &Story{UserID: RefFromString("u1"), User: &User{MongoID: "m1"}}
	if s.OwnerID() != "u1" {
		t.Errorf("OwnerID = %q, want inline id u1", s.OwnerID())
	}
	embedded := &Story{User: &User{MongoID: "m1"}}
	if embedded.OwnerID() != "m1" {
		t.Errorf("OwnerID = %q, want embedded m1", embedded.OwnerID())
	}
}
