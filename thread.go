package jchat

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// ============================================================================
// Threads
// ============================================================================

// Thread identifies the implicit conversation between two participants by
// their canonical ids. Threads are comparable and usable as map keys, so
// filtered message projections can be cached per conversation instead of
// recomputed inline.
type Thread struct {
	MeID          string
	CounterpartID string
}

// Valid reports whether both parties resolved to an identity.
func (t Thread) Valid() bool {
	return t.MeID != "" && t.CounterpartID != ""
}

// Reverse returns the same conversation seen from the other side.
func (t Thread) Reverse() Thread {
	return Thread{MeID: t.CounterpartID, CounterpartID: t.MeID}
}

// ThreadParties carries the full identity sets of both sides of a
// conversation. A participant may appear in stored messages under any of
// several representations (primary-store id, external id, route id), so
// membership checks run against all of them.
type ThreadParties struct {
	Me   []string
	Them []string
}

// NewThreadParties builds the identity sets from the fetched user records,
// with route-parameter fallbacks for records that have not loaded yet.
func NewThreadParties(me *User, meFallback string, them *User, themFallback string) ThreadParties {
	return ThreadParties{
		Me:   me.IDs(meFallback),
		Them: them.IDs(themFallback),
	}
}

// Thread collapses the parties to their canonical pair.
func (p ThreadParties) Thread() Thread {
	t := Thread{}
	if len(p.Me) > 0 {
		t.MeID = p.Me[0]
	}
	if len(p.Them) > 0 {
		t.CounterpartID = p.Them[0]
	}
	return t
}

// Contains reports whether the message belongs to this conversation:
// sent by me to them, or by them to me, under any identity representation.
func (p ThreadParties) Contains(m *Message) bool {
	sender := m.Sender
	if sender.IsZero() {
		sender = RefFromString(m.SenderID)
	}

	sentByMe := matchAny(sender, p.Me) && matchAny(m.ContactID, p.Them)
	received := matchAny(sender, p.Them) && matchAny(m.ContactID, p.Me)
	return sentByMe || received
}

// SelectThread filters the full message set down to one conversation and
// sorts it ascending by timestamp. Messages without a timestamp sort as
// earliest. The input slice is not modified.
func SelectThread(msgs []Message, parties ThreadParties) []Message {
	var selected []Message
	for i := range msgs {
		if parties.Contains(&msgs[i]) {
			selected = append(selected, msgs[i])
		}
	}
	sortByTimestamp(selected)
	return selected
}

func sortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Time().Before(msgs[j].Time())
	})
}

// Thread fetches the message store and selects the conversation for the
// given parties. When the primary store yields nothing, it falls back to
// the legacy embedded message array on the counterpart's user record, a
// degraded path for older data shapes. counterpartID is the id used for
// the fallback fetch, typically the route parameter.
func (mc *MessagesClient) Thread(ctx context.Context, parties ThreadParties, counterpartID string) ([]Message, error) {
	all, err := mc.List(ctx)
	if err != nil {
		return nil, err
	}

	selected := SelectThread(all, parties)
	if len(selected) > 0 {
		return selected, nil
	}

	if counterpartID == "" {
		return nil, nil
	}
	contact, err := mc.client.Users.Get(ctx, counterpartID)
	if err != nil {
		// Primary path succeeded with an empty set; the fallback failing
		// is not fatal to the conversation view.
		mc.client.log.Debug("legacy thread fallback failed", zap.Error(err))
		return nil, nil
	}
	legacy := append([]Message(nil), contact.Messages...)
	sortByTimestamp(legacy)
	return legacy, nil
}
