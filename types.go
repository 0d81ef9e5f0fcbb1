package jchat

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

// APIError represents a non-OK response from the JChat backend.
type APIError struct {
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

// ============================================================================
// Messages
// ============================================================================

// Message types. Text is the fallback when the type field is absent.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeDocument = "document"
	TypeLocation = "location"
	TypeContact  = "contact"
	TypePoll     = "poll"
	TypeEvent    = "event"
)

// Message is one chat message. Exactly one of the type-specific payload
// fields (Location, ContactInfo, Poll, Event, or the attachment pair) is
// populated, matching Type.
type Message struct {
	MongoID  string `json:"_id,omitempty"`
	ID       string `json:"id,omitempty"`
	ClientID string `json:"clientId,omitempty"`

	Sender    Ref    `json:"sender,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	ContactID Ref    `json:"contactId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`

	AttachmentURL  string        `json:"attachmentUrl,omitempty"`
	AttachmentName string        `json:"attachmentName,omitempty"`
	Location       *LocationInfo `json:"location,omitempty"`
	ContactInfo    *ContactCard  `json:"contactInfo,omitempty"`
	Poll           *Poll         `json:"poll,omitempty"`
	Event          *EventInfo    `json:"event,omitempty"`
}

// ServerID returns the server-assigned id, preferring the primary-store
// form. Empty for a message that has not been persisted yet.
func (m *Message) ServerID() string {
	if m.MongoID != "" {
		return m.MongoID
	}
	return m.ID
}

// Time parses the message timestamp. Messages without a timestamp sort
// as earliest, so absence parses to the zero time.
func (m *Message) Time() time.Time {
	return parseInstant(m.Timestamp)
}

// Kind returns the effective message type, applying the text fallback.
func (m *Message) Kind() string {
	if m.Type == "" {
		return TypeText
	}
	return m.Type
}

// Preview returns the one-line contact-list preview for the message.
func (m *Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	return "📎 Attachment"
}

// LocationInfo is a shared geographic position.
type LocationInfo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// ContactCard is a forwarded contact.
type ContactCard struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Phone  string `json:"phone,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// EventInfo is a calendar-style event message payload.
type EventInfo struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Location string `json:"location,omitempty"`
}

// ============================================================================
// Polls
// ============================================================================

// Poll is a mutable rich message payload: votes change in place and the
// updated message replaces the old one by id.
type Poll struct {
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
}

// PollOption holds option text and the set of voter ids. Re-voting moves
// the voter's id rather than duplicating it; that invariant is enforced
// server-side and relied on here.
type PollOption struct {
	Text  string   `json:"text"`
	Votes []string `json:"votes"`
}

// TotalVotes returns the vote count across all options.
func (p *Poll) TotalVotes() int {
	total := 0
	for _, opt := range p.Options {
		total += len(opt.Votes)
	}
	return total
}

// VotePercentages returns the per-option share of the total vote count,
// rounded to the nearest integer. All zeros when nobody has voted.
func (p *Poll) VotePercentages() []int {
	percents := make([]int, len(p.Options))
	total := p.TotalVotes()
	if total == 0 {
		return percents
	}
	for i, opt := range p.Options {
		percents[i] = int(math.Round(float64(len(opt.Votes)) / float64(total) * 100))
	}
	return percents
}

// HasVoted reports whether the given canonical user id voted for the
// option at index i.
func (p *Poll) HasVoted(userID string, i int) bool {
	if userID == "" || i < 0 || i >= len(p.Options) {
		return false
	}
	for _, v := range p.Options[i].Votes {
		if v == userID {
			return true
		}
	}
	return false
}

// ============================================================================
// Users
// ============================================================================

// User is a contact/participant record.
type User struct {
	MongoID    string `json:"_id,omitempty"`
	ID         string `json:"id,omitempty"`
	ExternalID string `json:"externalId,omitempty"`

	Name      string `json:"name,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Avatar    string `json:"avatar,omitempty"`

	Online      bool   `json:"online"`
	LastMessage string `json:"lastMessage,omitempty"`

	// Legacy data shape: older records embed their thread directly.
	Messages []Message `json:"messages,omitempty"`
}

// IDs returns the distinct canonical representations this user may appear
// under in message records: primary-store id, external/legacy id, and the
// caller-supplied fallback (typically the route parameter).
func (u *User) IDs(fallback string) []string {
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		for _, seen := range ids {
			if seen == id {
				return
			}
		}
		ids = append(ids, id)
	}
	if u != nil {
		add(u.MongoID)
		if u.ExternalID != "" {
			add(u.ExternalID)
		} else {
			add(u.ID)
		}
		add(u.ID)
	}
	add(fallback)
	return ids
}

// CanonicalID returns the user's single canonical id, with the same
// precedence as Ref: primary-store id, then external/plain id.
func (u *User) CanonicalID(fallback string) string {
	ids := u.IDs(fallback)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// DisplayName resolves the best human-readable name for the user.
func (u *User) DisplayName() string {
	if u == nil {
		return "Unknown"
	}
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		if at := strings.Index(u.Email, "@"); at > 0 {
			return u.Email[:at]
		}
		return u.Email
	}
	return "Unknown"
}

// ============================================================================
// Stories
// ============================================================================

// Story is a time-limited, ownership-gated post played back sequentially.
type Story struct {
	MongoID string `json:"_id,omitempty"`
	ID      string `json:"id,omitempty"`
	UserID  Ref    `json:"userId,omitempty"`
	User    *User  `json:"user,omitempty"`

	File      string `json:"file,omitempty"`
	Text      string `json:"text,omitempty"`
	BgColor   string `json:"bgColor,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// ServerID returns the story's server-assigned id.
func (s *Story) ServerID() string {
	if s.MongoID != "" {
		return s.MongoID
	}
	return s.ID
}

// OwnerID returns the canonical id of the story's owner, resolving the
// inline userId field first and the embedded user object second.
func (s *Story) OwnerID() string {
	if id := s.UserID.Canonical(); id != "" {
		return id
	}
	if s.User != nil {
		return s.User.CanonicalID("")
	}
	return ""
}

// Playable reports whether the story is eligible for playback at the given
// instant: no expiry, or an expiry still in the future.
func (s *Story) Playable(now time.Time) bool {
	if s.ExpiresAt == "" {
		return true
	}
	exp := parseInstant(s.ExpiresAt)
	if exp.IsZero() {
		return true
	}
	return exp.After(now)
}

func parseInstant(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
