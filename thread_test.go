package jchat

import (
	"testing"
)

// ============================================================================
// Test helpers
// ============================================================================

func textMsg(id, sender, contact, ts, text string) Message {
	return Message{
		MongoID:   id,
		Sender:    RefFromString(sender),
		ContactID: RefFromString(contact),
		Timestamp: ts,
		Type:      TypeText,
		Text:      text,
	}
}

func testParties() ThreadParties {
	me := &User{MongoID: "me-mongo", ID: "me"}
	them := &User{MongoID: "them-mongo", ID: "them"}
	return NewThreadParties(me, "me", them, "them")
}

// ============================================================================
// Thread value
// ============================================================================

func TestThread(t *testing.T) {
	th := Thread{MeID: "a", CounterpartID: "b"}
	if !th.Valid() {
		t.Error("Valid() = false for a populated thread")
	}
	if (Thread{MeID: "a"}).Valid() {
		t.Error("Valid() = true with a missing counterpart")
	}
	if th.Reverse() != (Thread{MeID: "b", CounterpartID: "a"}) {
		t.Errorf("Reverse() = %+v", th.Reverse())
	}

	parties := testParties()
	want := Thread{MeID: "me-mongo", CounterpartID: "them-mongo"}
	if got := parties.Thread(); got != want {
		t.Errorf("Thread() = %+v, want %+v", got, want)
	}
}

// ============================================================================
// Membership
// ============================================================================

func TestContains(t *testing.T) {
	parties := testParties()

	t.Run("sent by me", func(t *testing.T) {
		m := textMsg("1", "me", "them", "2026-01-01T10:00:00Z", "hi")
		if !parties.Contains(&m) {
			t.Error("outgoing message not recognized")
		}
	})

	t.Run("received from them", func(t *testing.T) {
		m := textMsg("2", "them", "me", "2026-01-01T10:01:00Z", "hey")
		if !parties.Contains(&m) {
			t.Error("incoming message not recognized")
		}
	})

	t.Run("alternate id representations", func(t *testing.T) {
		m := textMsg("3", "me-mongo", "them-mongo", "2026-01-01T10:02:00Z", "x")
		if !parties.Contains(&m) {
			t.Error("primary-store ids not recognized")
		}
	})

	t.Run("senderId fallback", func(t *testing.T) {
		m := Message{SenderID: "them", ContactID: RefFromString("me"), Text: "x"}
		if !parties.Contains(&m) {
			t.Error("senderId fallback not applied")
		}
	})

	t.Run("third party excluded", func(t *testing.T) {
		m := textMsg("4", "intruder", "me", "2026-01-01T10:03:00Z", "spam")
		if parties.Contains(&m) {
			t.Error("message from a third party accepted")
		}
		m2 := textMsg("5", "me", "someone-else", "2026-01-01T10:04:00Z", "other chat")
		if parties.Contains(&m2) {
			t.Error("message to another contact accepted")
		}
	})

	t.Run("empty identities never match", func(t *testing.T) {
		empty := ThreadParties{Me: []string{""}, Them: []string{""}}
		m := Message{Text: "x"}
		if empty.Contains(&m) {
			t.Error("two absent identities conflated")
		}
	})
}

// ============================================================================
// Selection and ordering
// ============================================================================

func TestSelectThread(t *testing.T) {
	parties := testParties()
	msgs := []Message{
		textMsg("3", "them", "me", "2026-01-01T10:02:00Z", "third"),
		textMsg("x", "intruder", "me", "2026-01-01T10:00:30Z", "noise"),
		textMsg("1", "me", "them", "2026-01-01T10:00:00Z", "first"),
		textMsg("2", "me-mongo", "them-mongo", "2026-01-01T10:01:00Z", "second"),
	}

	got := SelectThread(msgs, parties)
	if len(got) != 3 {
		t.Fatalf("selected %d messages, want 3", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Text != want {
			t.Errorf("got[%d].Text = %q, want %q", i, got[i].Text, want)
		}
	}
	if len(msgs) != 4 {
		t.Error("input slice was modified")
	}
}

func TestSelectThreadMissingTimestamps(t *testing.T) {
	parties := testParties()
	msgs := []Message{
		textMsg("2", "me", "them", "2026-01-01T10:00:00Z", "dated"),
		textMsg("1", "me", "them", "", "undated"),
	}
	got := SelectThread(msgs, parties)
	if len(got) != 2 {
		t.Fatalf("selected %d messages, want 2", len(got))
	}
	if got[0].Text != "undated" {
		t.Errorf("message without timestamp should sort first, got %q", got[0].Text)
	}
}

func TestSelectThreadStableOnTies(t *testing.T) {
	parties := testParties()
	ts := "2026-01-01T10:00:00Z"
	msgs := []Message{
		textMsg("1", "me", "them", ts, "a"),
		textMsg("2", "me", "them", ts, "b"),
		textMsg("3", "me", "them", ts, "c"),
	}
	got := SelectThread(msgs, parties)
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Text != want {
			t.Errorf("tie order not preserved: got[%d].Text = %q, want %q", i, got[i].Text, want)
		}
	}
}
