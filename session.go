package jchat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// Inbound and outbound event names on the real-time channel.
const (
	eventJoin         = "join"
	eventSendMessage  = "send_message"
	eventReceive      = "receive_message"
	eventStatusChange = "user_status_change"
	eventVoteUpdate   = "vote_update"
	eventNewStory     = "new_story"
	eventDeleteStory  = "delete_story"
)

// envelope is the wire format for all real-time events.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// command is a client-to-server event.
type command struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// directedMessage is the payload of send_message and vote_update: the
// server-confirmed record, addressed to the counterpart's personal room.
type directedMessage struct {
	To      string   `json:"to"`
	Message *Message `json:"message"`
}

// StatusChange is the payload of user_status_change.
type StatusChange struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// ============================================================================
// Configuration
// ============================================================================

// SessionConfig configures the real-time session.
type SessionConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *SessionConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// SessionState represents the connection state.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateReconnecting SessionState = "reconnecting"
)

// ============================================================================
// Event dispatcher
// ============================================================================

// RemoveFunc deregisters a handler. Every registration returns one, and
// views must call it on teardown so remounting never installs duplicate
// handlers.
type RemoveFunc func()

type dispatcher struct {
	mu     sync.Mutex
	nextID int

	onMessage       map[int]func(Message)
	onStatus        map[int]func(StatusChange)
	onVote          map[int]func(Message)
	onStoriesChange map[int]func()
	onConnect       map[int]func()
	onDisconnect    map[int]func(reason string)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		onMessage:       make(map[int]func(Message)),
		onStatus:        make(map[int]func(StatusChange)),
		onVote:          make(map[int]func(Message)),
		onStoriesChange: make(map[int]func()),
		onConnect:       make(map[int]func()),
		onDisconnect:    make(map[int]func(reason string)),
	}
}

func addHandler[T any](d *dispatcher, reg map[int]T, h T) RemoveFunc {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	reg[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(reg, id)
		d.mu.Unlock()
	}
}

func snapshot[T any](d *dispatcher, reg map[int]T) []T {
	d.mu.Lock()
	out := make([]T, 0, len(reg))
	for _, h := range reg {
		out = append(out, h)
	}
	d.mu.Unlock()
	return out
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *SessionConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Session
// ============================================================================

// Session owns the real-time connection lifecycle: join/room semantics,
// reconnect state, and routing of inbound events to the reconciler and to
// presence state. Created via Client.NewSession; consumers receive it by
// injection rather than through a process-wide singleton.
type Session struct {
	client *Client
	config *SessionConfig
	log    *zap.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            SessionState
	intentionalClose bool
	cancelFn         context.CancelFunc

	selfID string
	joined string // identity joined on the current connection

	view    *ThreadView
	contact *User

	dispatch *dispatcher
	recon    *reconnector
}

// NewSession creates a real-time session bound to this client. Call
// Connect to establish the connection. A nil config uses defaults.
func (c *Client) NewSession(config *SessionConfig) *Session {
	cfg := SessionConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Session{
		client:   c,
		config:   &cfg,
		log:      c.log,
		state:    StateDisconnected,
		dispatch: newDispatcher(),
		recon:    newReconnector(&cfg),
	}
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetIdentity records the current user's canonical id. On the next
// connect (or immediately, when already connected) the session joins the
// personal room for that identity, exactly once per connection.
func (s *Session) SetIdentity(ctx context.Context, id string) error {
	s.mu.Lock()
	s.selfID = id
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected {
		return s.join(ctx)
	}
	return nil
}

// join emits the join directive once per (connection, identity) pair.
func (s *Session) join(ctx context.Context) error {
	s.mu.Lock()
	id := s.selfID
	already := id == "" || s.joined == id
	s.mu.Unlock()
	if already {
		return nil
	}

	if err := s.send(ctx, &command{Event: eventJoin, Payload: id}); err != nil {
		return err
	}
	s.mu.Lock()
	s.joined = id
	s.mu.Unlock()
	s.log.Debug("joined personal room", zap.String("id", id))
	return nil
}

// AttachThread binds the active conversation: inbound messages are routed
// into the view, and presence changes patch the contact record. Any
// previous attachment is replaced. Returns a RemoveFunc that detaches.
func (s *Session) AttachThread(view *ThreadView, contact *User) RemoveFunc {
	s.mu.Lock()
	s.view = view
	s.contact = contact
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if s.view == view {
			s.view = nil
			s.contact = nil
		}
		s.mu.Unlock()
	}
}

// Handler registration. Each returns a RemoveFunc; see RemoveFunc.

func (s *Session) OnMessage(h func(Message)) RemoveFunc {
	return addHandler(s.dispatch, s.dispatch.onMessage, h)
}

func (s *Session) OnStatusChange(h func(StatusChange)) RemoveFunc {
	return addHandler(s.dispatch, s.dispatch.onStatus, h)
}

func (s *Session) OnVoteUpdate(h func(Message)) RemoveFunc {
	return addHandler(s.dispatch, s.dispatch.onVote, h)
}

// OnStoriesChanged fires for both new_story and delete_story. Story lists
// are small and infrequent, so consumers re-fetch the collection rather
// than merging incrementally.
func (s *Session) OnStoriesChanged(h func()) RemoveFunc {
	return addHandler(s.dispatch, s.dispatch.onStoriesChange, h)
}

func (s *Session) OnConnected(h func()) RemoveFunc {
	return addHandler(s.dispatch, s.dispatch.onConnect, h)
}

func (s *Session) OnDisconnected(h func(reason string)) RemoveFunc {
	return addHandler(s.dispatch, s.dispatch.onDisconnect, h)
}

// ============================================================================
// Lifecycle
// ============================================================================

// Connect establishes the websocket connection and joins the personal
// room when an identity is set.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.intentionalClose = false
	s.mu.Unlock()

	wsURL := strings.Replace(s.client.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws"
	if s.client.token != "" {
		wsURL += "?token=" + s.client.token
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.joined = ""
	s.mu.Unlock()
	s.recon.markConnected()

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancelFn = cancel
	s.mu.Unlock()

	go s.readLoop(connCtx)
	go s.heartbeatLoop(connCtx)

	for _, h := range snapshot(s.dispatch, s.dispatch.onConnect) {
		h()
	}

	if err := s.join(ctx); err != nil {
		s.log.Warn("join after connect failed", zap.Error(err))
	}
	return nil
}

// Disconnect gracefully closes the connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.intentionalClose = true
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.joined = ""
	s.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (s *Session) send(ctx context.Context, cmd *command) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			intentional := s.intentionalClose
			s.mu.Unlock()
			if intentional {
				return
			}

			s.mu.Lock()
			s.state = StateDisconnected
			s.conn = nil
			s.joined = ""
			s.mu.Unlock()

			for _, h := range snapshot(s.dispatch, s.dispatch.onDisconnect) {
				h(err.Error())
			}

			if s.config.AutoReconnect && s.recon.shouldReconnect() {
				s.scheduleReconnect(ctx)
			}
			return
		}

		var env envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		s.route(env)
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.Ping(ctx); err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (s *Session) scheduleReconnect(ctx context.Context) {
	delay := s.recon.nextDelay()
	s.mu.Lock()
	s.state = StateReconnecting
	s.mu.Unlock()
	s.log.Info("reconnecting", zap.Int("attempt", s.recon.attempt), zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := s.Connect(ctx); err != nil {
		if s.config.AutoReconnect && s.recon.shouldReconnect() {
			s.scheduleReconnect(ctx)
		} else {
			s.mu.Lock()
			s.state = StateDisconnected
			s.mu.Unlock()
		}
	}
}

// ============================================================================
// Inbound routing
// ============================================================================

func (s *Session) route(env envelope) {
	switch env.Event {
	case eventReceive:
		var msg Message
		if json.Unmarshal(env.Payload, &msg) != nil {
			return
		}
		s.routeMessage(msg, false)

	case eventVoteUpdate:
		var msg Message
		if json.Unmarshal(env.Payload, &msg) != nil {
			return
		}
		s.routeMessage(msg, true)

	case eventStatusChange:
		var sc StatusChange
		if json.Unmarshal(env.Payload, &sc) != nil {
			return
		}
		s.routeStatus(sc)

	case eventNewStory, eventDeleteStory:
		for _, h := range snapshot(s.dispatch, s.dispatch.onStoriesChange) {
			h()
		}
	}
}

// routeMessage applies the acceptance rule for pushed messages: the sender
// must be the active counterpart (under any of its representations) or the
// current user (multi-device echo). Anything else is discarded with no
// state change. Accepted messages go through the reconciler's
// replace-or-append rule.
func (s *Session) routeMessage(msg Message, vote bool) {
	s.mu.Lock()
	view := s.view
	selfID := s.selfID
	s.mu.Unlock()

	if view == nil {
		s.log.Debug("push dropped, no active thread", zap.String("event", eventReceive))
		return
	}

	sender := msg.Sender
	if sender.IsZero() {
		sender = RefFromString(msg.SenderID)
	}
	accepted := matchAny(sender, view.Parties().Them) ||
		(selfID != "" && sender.Canonical() == selfID)
	if !accepted && vote {
		// Vote tallies mutate an existing entry; the voter may be neither
		// party we track (group-visible polls), so fall back to matching
		// by message id.
		sid := msg.ServerID()
		for _, m := range view.Messages() {
			if sid != "" && m.ServerID() == sid {
				accepted = true
				break
			}
		}
	}
	if !accepted {
		s.log.Debug("push dropped, sender not in conversation",
			zap.String("sender", sender.Canonical()))
		return
	}

	view.Apply(msg)

	if vote {
		for _, h := range snapshot(s.dispatch, s.dispatch.onVote) {
			h(msg)
		}
	} else {
		for _, h := range snapshot(s.dispatch, s.dispatch.onMessage) {
			h(msg)
		}
	}
}

// routeStatus patches only the presence flag on the in-memory counterpart
// record when the event names the active counterpart; all other fields
// are preserved.
func (s *Session) routeStatus(sc StatusChange) {
	s.mu.Lock()
	contact := s.contact
	view := s.view
	s.mu.Unlock()

	if contact != nil && view != nil {
		if matchAny(RefFromString(sc.UserID), view.Parties().Them) {
			contact.Online = sc.Online
		}
	}

	for _, h := range snapshot(s.dispatch, s.dispatch.onStatus) {
		h(sc)
	}
}

// ============================================================================
// Outbound operations
// ============================================================================

// SendMessage persists the draft and, only after the backend confirms with
// an OK response, merges the server record into the active view and emits
// send_message with the confirmed record. Nothing is emitted — and nothing
// enters the view — when persistence fails.
func (s *Session) SendMessage(ctx context.Context, draft *Message) (*Message, error) {
	saved, err := s.client.Messages.Send(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	to := saved.ContactID.Canonical()
	if to == "" {
		to = draft.ContactID.Canonical()
	}

	s.mu.Lock()
	view := s.view
	s.mu.Unlock()
	if view != nil && view.Thread().CounterpartID == to {
		view.Apply(*saved)
	}

	// Contact-list preview; best effort, a failure never rolls back the send.
	if to != "" {
		if err := s.client.Users.SetLastMessage(ctx, to, saved.Preview()); err != nil {
			s.log.Debug("last-message patch failed", zap.Error(err))
		}
	}

	if s.State() == StateConnected {
		if err := s.send(ctx, &command{
			Event:   eventSendMessage,
			Payload: directedMessage{To: to, Message: saved},
		}); err != nil {
			s.log.Warn("send_message emit failed", zap.Error(err))
		}
	}
	return saved, nil
}

// SendVote persists the vote and, on success, merges the updated tally by
// id and emits vote_update with the server-confirmed record.
func (s *Session) SendVote(ctx context.Context, messageID, userID string, optionIndex int) (*Message, error) {
	updated, err := s.client.Messages.Vote(ctx, messageID, userID, optionIndex)
	if err != nil {
		return nil, fmt.Errorf("vote: %w", err)
	}

	s.mu.Lock()
	view := s.view
	s.mu.Unlock()

	to := updated.ContactID.Canonical()
	if view != nil {
		if to == "" {
			to = view.Thread().CounterpartID
		}
		view.Apply(*updated)
	}

	if s.State() == StateConnected {
		if err := s.send(ctx, &command{
			Event:   eventVoteUpdate,
			Payload: directedMessage{To: to, Message: updated},
		}); err != nil {
			s.log.Warn("vote_update emit failed", zap.Error(err))
		}
	}
	return updated, nil
}
