package jchat

import (
	"testing"
)

// ============================================================================
// Reset and ordering
// ============================================================================

func TestThreadViewReset(t *testing.T) {
	view := NewThreadView(testParties())
	msgs := []Message{
		textMsg("2", "me", "them", "2026-01-01T10:01:00Z", "second"),
		textMsg("1", "them", "me", "2026-01-01T10:00:00Z", "first"),
	}
	view.Reset(msgs)

	got := view.Messages()
	if len(got) != 2 || got[0].Text != "first" || got[1].Text != "second" {
		t.Errorf("Reset did not sort: %v", texts(got))
	}

	// The view must not alias the caller's slice.
	msgs[0].Text = "mutated"
	if view.Messages()[1].Text == "mutated" {
		t.Error("view aliases the caller-owned slice")
	}
}

// ============================================================================
// Merge semantics
// ============================================================================

func TestThreadViewApply(t *testing.T) {
	t.Run("append keeps order", func(t *testing.T) {
		view := NewThreadView(testParties())
		view.Apply(textMsg("2", "me", "them", "2026-01-01T10:01:00Z", "later"))
		view.Apply(textMsg("1", "them", "me", "2026-01-01T10:00:00Z", "earlier"))

		got := view.Messages()
		if got[0].Text != "earlier" || got[1].Text != "later" {
			t.Errorf("order after out-of-order apply: %v", texts(got))
		}
	})

	t.Run("replace by server id", func(t *testing.T) {
		view := NewThreadView(testParties())
		poll := textMsg("m1", "me", "them", "2026-01-01T10:00:00Z", "")
		poll.Type = TypePoll
		poll.Poll = &Poll{Question: "q", Options: []PollOption{{Text: "a"}}}
		view.Apply(poll)

		updated := poll
		updated.Poll = &Poll{Question: "q", Options: []PollOption{{Text: "a", Votes: []string{"them"}}}}
		view.Apply(updated)

		got := view.Messages()
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].Poll.TotalVotes() != 1 {
			t.Error("in-place replacement by server id did not take the new tally")
		}
	})

	t.Run("replacement preserves correlation token", func(t *testing.T) {
		view := NewThreadView(testParties())
		optimistic := textMsg("m1", "me", "them", "2026-01-01T10:00:00Z", "hi")
		optimistic.ClientID = "client-abc"
		view.Apply(optimistic)

		echo := textMsg("m1", "me", "them", "2026-01-01T10:00:00Z", "hi")
		view.Apply(echo)

		got := view.Messages()
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].ClientID != "client-abc" {
			t.Error("server-id replacement dropped the correlation token")
		}
	})

	t.Run("confirm replaces optimistic copy by token", func(t *testing.T) {
		view := NewThreadView(testParties())
		optimistic := Message{
			ClientID:  "client-abc",
			Sender:    RefFromString("me"),
			ContactID: RefFromString("them"),
			Timestamp: "2026-01-01T10:00:00Z",
			Text:      "hi",
		}
		view.Apply(optimistic)

		confirmed := textMsg("m1", "me", "them", "2026-01-01T10:00:00Z", "hi")
		confirmed.ClientID = "client-abc"
		view.Apply(confirmed)

		got := view.Messages()
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].ServerID() != "m1" {
			t.Error("confirmation did not replace the optimistic copy")
		}
	})

	t.Run("double confirm is idempotent", func(t *testing.T) {
		view := NewThreadView(testParties())
		confirmed := textMsg("m1", "me", "them", "2026-01-01T10:00:00Z", "hi")
		confirmed.ClientID = "client-abc"
		view.Apply(confirmed)
		view.Apply(confirmed)

		if view.Len() != 1 {
			t.Errorf("Len = %d after double apply, want 1", view.Len())
		}
	})
}

// TestThreadViewSendEchoRace covers the send flow end to end: an optimistic
// copy, then the persistence confirmation, then the push echo of the same
// record. The view must end with exactly one entry.
func TestThreadViewSendEchoRace(t *testing.T) {
	view := NewThreadView(testParties())

	optimistic := Message{
		ClientID:  "client-abc",
		Sender:    RefFromString("me"),
		ContactID: RefFromString("them"),
		Timestamp: "2026-01-01T10:00:00Z",
		Text:      "hi",
	}
	view.Apply(optimistic)

	confirmed := textMsg("m1", "me", "them", "2026-01-01T10:00:00Z", "hi")
	confirmed.ClientID = "client-abc"
	view.Apply(confirmed)

	echo := textMsg("m1", "me", "them", "2026-01-01T10:00:00Z", "hi")
	view.Apply(echo)

	got := view.Messages()
	if len(got) != 1 {
		t.Fatalf("len = %d, want exactly 1 entry for one sent message", len(got))
	}
	if got[0].ServerID() != "m1" || got[0].Text != "hi" {
		t.Errorf("final entry = %+v", got[0])
	}
}

// ============================================================================
// Reveal signal
// ============================================================================

func TestThreadViewReveal(t *testing.T) {
	view := NewThreadView(testParties())
	var revealed []string
	view.OnReveal(func(latest Message) {
		revealed = append(revealed, latest.Text)
	})

	view.Apply(textMsg("1", "me", "them", "2026-01-01T10:00:00Z", "one"))
	view.Apply(textMsg("2", "them", "me", "2026-01-01T10:01:00Z", "two"))

	if len(revealed) != 2 || revealed[0] != "one" || revealed[1] != "two" {
		t.Errorf("reveal calls = %v", revealed)
	}
}

// ============================================================================
// Removal
// ============================================================================

func TestThreadViewRemove(t *testing.T) {
	view := NewThreadView(testParties())
	view.Reset([]Message{
		textMsg("1", "me", "them", "2026-01-01T10:00:00Z", "a"),
		textMsg("2", "them", "me", "2026-01-01T10:01:00Z", "b"),
		textMsg("3", "me", "them", "2026-01-01T10:02:00Z", "c"),
	})

	view.Remove([]string{"1", "3", "does-not-exist"})

	got := view.Messages()
	if len(got) != 1 || got[0].Text != "b" {
		t.Errorf("after Remove: %v", texts(got))
	}
}

// ============================================================================
// Search projection
// ============================================================================

func TestThreadViewSearch(t *testing.T) {
	view := NewThreadView(testParties())
	view.Reset([]Message{
		textMsg("1", "me", "them", "2026-01-01T10:00:00Z", "Hello world"),
		textMsg("2", "them", "me", "2026-01-01T10:01:00Z", "bye"),
		textMsg("3", "me", "them", "2026-01-01T10:02:00Z", "HELLO again"),
	})

	view.SetSearch("hello")
	shown := view.Displayed()
	if len(shown) != 2 {
		t.Fatalf("Displayed() = %v, want 2 matches", texts(shown))
	}

	// Searching narrows the projection, never the merged list.
	if view.Len() != 3 {
		t.Errorf("Len = %d after search, want 3", view.Len())
	}

	view.SetSearch("")
	if len(view.Displayed()) != 3 {
		t.Error("clearing the search did not restore the full list")
	}
}

// ============================================================================
// Stale-response guard
// ============================================================================

func TestThreadViewMatches(t *testing.T) {
	view := NewThreadView(testParties())
	if !view.Matches(view.Thread()) {
		t.Error("view does not match its own thread")
	}
	other := Thread{MeID: "me-mongo", CounterpartID: "somebody-else"}
	if view.Matches(other) {
		t.Error("view matched a different conversation")
	}
}

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Text
	}
	return out
}
