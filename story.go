package jchat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Story playback
// ============================================================================

const (
	// One story plays for 5 seconds, with progress sampled every 50 ms.
	StoryDuration = 5 * time.Second
	StoryTick     = 50 * time.Millisecond
)

// ErrNotStoryOwner is returned when a viewer attempts to delete a story
// they do not own. The presentation layer should not expose the action at
// all; this is the backstop.
var ErrNotStoryOwner = errors.New("only the story owner can delete it")

// StoryPlayer is a bounded, auto-advancing player over one user's ordered
// story sequence. The state is an index into the sequence plus a 0–100
// progress counter; reaching 100% advances, and advancing past the last
// story exits playback. Timers are cancelled on every index change and on
// Close, so a torn-down player never advances a no-longer-visible story.
type StoryPlayer struct {
	client   *Client
	log      *zap.Logger
	ownerID  string // whose sequence is playing
	viewerID string // canonical id of the viewer

	duration time.Duration
	tick     time.Duration

	mu        sync.Mutex
	stories   []Story
	index     int
	progress  float64
	cancel    context.CancelFunc
	exited    bool
	onAdvance func(index int)
	onExit    func()
}

// NewStoryPlayer creates a player for ownerID's stories as seen by
// viewerID (both canonical ids). Call Load, then Start.
func (c *Client) NewStoryPlayer(ownerID, viewerID string) *StoryPlayer {
	return &StoryPlayer{
		client:   c,
		log:      c.log,
		ownerID:  ownerID,
		viewerID: viewerID,
		duration: StoryDuration,
		tick:     StoryTick,
	}
}

// OnAdvance registers the index-change callback.
func (p *StoryPlayer) OnAdvance(fn func(index int)) {
	p.mu.Lock()
	p.onAdvance = fn
	p.mu.Unlock()
}

// OnExit registers the playback-exit callback, fired when the sequence is
// exhausted, empty, or fully deleted. Fired at most once.
func (p *StoryPlayer) OnExit(fn func()) {
	p.mu.Lock()
	p.onExit = fn
	p.mu.Unlock()
}

// Load fetches the owner's playable sequence (non-expired, ascending by
// creation time) and resets the player to the first story. A sequence
// that comes back empty exits immediately rather than rendering an empty
// player.
func (p *StoryPlayer) Load(ctx context.Context) error {
	if p.ownerID == "" {
		return errors.New("story owner id is required")
	}
	stories, err := p.client.Stories.ListForUser(ctx, p.ownerID)
	if err != nil {
		return fmt.Errorf("load stories: %w", err)
	}

	p.mu.Lock()
	p.stories = stories
	p.index = 0
	p.progress = 0
	empty := len(stories) == 0
	p.mu.Unlock()

	if empty {
		p.exit()
	}
	return nil
}

// Start begins timer-driven playback from the current index.
func (p *StoryPlayer) Start() {
	p.mu.Lock()
	if p.exited || len(p.stories) == 0 {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.restartTimer()
}

// Close cancels the playback timer. Safe to call repeatedly.
func (p *StoryPlayer) Close() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Current returns the story at the playback position, its index, and the
// progress percentage. ok is false once playback has exited.
func (p *StoryPlayer) Current() (story Story, index int, progress float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited || p.index >= len(p.stories) {
		return Story{}, 0, 0, false
	}
	return p.stories[p.index], p.index, p.progress, true
}

// Len returns the sequence length.
func (p *StoryPlayer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stories)
}

// IsOwner reports whether the viewer may take destructive actions on the
// playing sequence.
func (p *StoryPlayer) IsOwner() bool {
	return p.viewerID != "" && p.viewerID == p.ownerID
}

// Next advances to the following story, or exits playback at the end of
// the sequence. Manual taps on the right two-thirds of the viewport map
// here.
func (p *StoryPlayer) Next() {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	if p.index < len(p.stories)-1 {
		p.index++
		p.progress = 0
		onAdvance := p.onAdvance
		idx := p.index
		p.mu.Unlock()
		if onAdvance != nil {
			onAdvance(idx)
		}
		p.restartTimer()
		return
	}
	p.mu.Unlock()
	p.exit()
}

// Prev retreats to the previous story; at the first story it is a no-op
// rather than an exit. Taps on the left third of the viewport map here.
func (p *StoryPlayer) Prev() {
	p.mu.Lock()
	if p.exited || p.index == 0 {
		p.mu.Unlock()
		return
	}
	p.index--
	p.progress = 0
	onAdvance := p.onAdvance
	idx := p.index
	p.mu.Unlock()
	if onAdvance != nil {
		onAdvance(idx)
	}
	p.restartTimer()
}

// Tap routes a viewport tap: the left third retreats, the rest advances.
// x is the horizontal position as a fraction of the viewport width.
func (p *StoryPlayer) Tap(x float64) {
	if x < 1.0/3.0 {
		p.Prev()
	} else {
		p.Next()
	}
}

// Advance moves the progress counter by one sampling step and advances
// the index on reaching 100%. The timer loop calls this every tick;
// tests may drive it directly.
func (p *StoryPlayer) Advance(step float64) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.progress += step
	done := p.progress >= 100
	if done {
		p.progress = 100
	}
	p.mu.Unlock()

	if done {
		p.Next()
	}
}

// Delete removes the current story. Owner-only. Deleting the last
// remaining story exits playback; otherwise the sequence is re-fetched
// and the position restored (one earlier when the deleted story was the
// final one).
func (p *StoryPlayer) Delete(ctx context.Context) error {
	if !p.IsOwner() {
		return ErrNotStoryOwner
	}

	p.mu.Lock()
	if p.exited || p.index >= len(p.stories) {
		p.mu.Unlock()
		return errors.New("no story to delete")
	}
	current := p.stories[p.index]
	last := len(p.stories) == 1
	nextIndex := p.index
	if p.index == len(p.stories)-1 && p.index > 0 {
		nextIndex = p.index - 1
	}
	p.mu.Unlock()

	if err := p.client.Stories.Delete(ctx, current.ServerID()); err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	p.log.Info("story deleted", zap.String("id", current.ServerID()))

	if last {
		p.exit()
		return nil
	}

	stories, err := p.client.Stories.ListForUser(ctx, p.ownerID)
	if err != nil {
		return fmt.Errorf("refresh stories: %w", err)
	}

	p.mu.Lock()
	p.stories = stories
	if len(stories) == 0 {
		p.mu.Unlock()
		p.exit()
		return nil
	}
	if nextIndex >= len(stories) {
		nextIndex = len(stories) - 1
	}
	p.index = nextIndex
	p.progress = 0
	p.mu.Unlock()

	p.restartTimer()
	return nil
}

// Forward packages the current story as a new message to the given
// contact, through the normal persistence path. It does not touch any
// open conversation's reconciliation; the target thread picks the message
// up on its own fetch.
func (p *StoryPlayer) Forward(ctx context.Context, senderID string, contact *User, contactFallbackID string) error {
	p.mu.Lock()
	if p.exited || p.index >= len(p.stories) {
		p.mu.Unlock()
		return errors.New("no story to forward")
	}
	story := p.stories[p.index]
	p.mu.Unlock()

	to := contact.CanonicalID(contactFallbackID)
	if to == "" {
		return errors.New("cannot forward without a resolvable contact identity")
	}

	draft := &Message{
		SenderID:  senderID,
		Sender:    RefFromString(senderID),
		ContactID: RefFromString(to),
		Text:      "Check out this story: " + story.Text,
		Type:      TypeText,
	}
	if story.File != "" {
		draft.Type = TypeImage
		draft.AttachmentURL = story.File
	}

	if _, err := p.client.Messages.Send(ctx, draft); err != nil {
		return fmt.Errorf("forward story: %w", err)
	}
	return nil
}

// ============================================================================
// Timer
// ============================================================================

// restartTimer replaces the playback timer. Any previous timer is
// cancelled first, so an index change never leaves two tickers racing.
func (p *StoryPlayer) restartTimer() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.exited {
		p.cancel = nil
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	step := float64(p.tick) / float64(p.duration) * 100
	tick := p.tick
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Advance(step)
			}
		}
	}()
}

// exit terminates playback exactly once.
func (p *StoryPlayer) exit() {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	cancel := p.cancel
	p.cancel = nil
	onExit := p.onExit
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if onExit != nil {
		onExit()
	}
}
