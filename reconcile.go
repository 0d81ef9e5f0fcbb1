package jchat

import (
	"strings"
	"sync"
)

// ============================================================================
// Thread view (message reconciliation)
// ============================================================================

// RevealFunc is called after every merge that changes the list, so the
// presentation layer can scroll the newest entry into view.
type RevealFunc func(latest Message)

// ThreadView is the merged, de-duplicated, time-ordered message list for a
// single conversation. It reconciles three sources — REST fetch, optimistic
// local sends, and real-time pushes — into one consistent view.
//
// A view is bound to its Thread at creation; late-arriving results fetched
// for a different conversation are rejected by Matches rather than applied
// (there is no request cancellation on rapid navigation).
type ThreadView struct {
	mu      sync.Mutex
	thread  Thread
	parties ThreadParties
	msgs    []Message
	search  string
	reveal  RevealFunc
}

// NewThreadView creates an empty view for the given conversation.
func NewThreadView(parties ThreadParties) *ThreadView {
	return &ThreadView{
		thread:  parties.Thread(),
		parties: parties,
	}
}

// Thread returns the conversation identity this view is bound to.
func (v *ThreadView) Thread() Thread {
	return v.thread
}

// Matches is the stale-response guard: a fetch completion must only be
// applied when the identities it was issued for still name this view.
func (v *ThreadView) Matches(t Thread) bool {
	return v.thread == t
}

// OnReveal registers the scroll-to-latest signal. Only one handler is
// kept; registering replaces the previous one.
func (v *ThreadView) OnReveal(fn RevealFunc) {
	v.mu.Lock()
	v.reveal = fn
	v.mu.Unlock()
}

// Reset replaces the whole merged list, e.g. after the initial thread
// fetch. The input is copied and re-sorted; the view never aliases
// caller-owned slices.
func (v *ThreadView) Reset(msgs []Message) {
	next := append([]Message(nil), msgs...)
	sortByTimestamp(next)

	v.mu.Lock()
	v.msgs = next
	v.mu.Unlock()
}

// Apply merges one message into the view:
//
//   - a server id matching an existing entry replaces that entry in place
//     (mutable rich messages such as poll tallies),
//   - a correlation token matching an existing optimistic entry replaces
//     it (the persistence confirmation, or a push echo that beat it),
//   - anything else appends, keeping timestamp order.
//
// Applying the same server-confirmed message twice is idempotent.
func (v *ThreadView) Apply(msg Message) {
	v.mu.Lock()

	replaced := false
	if sid := msg.ServerID(); sid != "" {
		for i := range v.msgs {
			if v.msgs[i].ServerID() == sid {
				if msg.ClientID == "" {
					msg.ClientID = v.msgs[i].ClientID
				}
				v.msgs[i] = msg
				replaced = true
				break
			}
		}
	}
	if !replaced && msg.ClientID != "" {
		for i := range v.msgs {
			if v.msgs[i].ClientID == msg.ClientID {
				v.msgs[i] = msg
				replaced = true
				break
			}
		}
	}
	if !replaced {
		v.msgs = append(v.msgs, msg)
		sortByTimestamp(v.msgs)
	}

	reveal := v.reveal
	v.mu.Unlock()

	if reveal != nil {
		reveal(msg)
	}
}

// Remove drops messages by server id (bulk delete).
func (v *ThreadView) Remove(ids []string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	v.mu.Lock()
	kept := v.msgs[:0]
	for _, m := range v.msgs {
		if !drop[m.ServerID()] {
			kept = append(kept, m)
		}
	}
	v.msgs = kept
	v.mu.Unlock()
}

// Messages returns a snapshot of the full merged list.
func (v *ThreadView) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Message(nil), v.msgs...)
}

// Len returns the merged list length.
func (v *ThreadView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.msgs)
}

// SetSearch sets the display filter term. The underlying merged list is
// never mutated by searching; an empty term shows everything.
func (v *ThreadView) SetSearch(term string) {
	v.mu.Lock()
	v.search = strings.TrimSpace(term)
	v.mu.Unlock()
}

// Displayed returns the projection shown to the user: the merged list,
// narrowed by a case-insensitive substring match on message text when a
// search term is set.
func (v *ThreadView) Displayed() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.search == "" {
		return append([]Message(nil), v.msgs...)
	}
	needle := strings.ToLower(v.search)
	var out []Message
	for _, m := range v.msgs {
		if strings.Contains(strings.ToLower(m.Text), needle) {
			out = append(out, m)
		}
	}
	return out
}

// Parties returns the identity sets the view was built for.
func (v *ThreadView) Parties() ThreadParties {
	return v.parties
}
