// Package jchat provides a Go client for the JChat messaging API.
//
// Covers the REST surface (users, messages, stories) and the real-time
// event channel, plus the client-side core that the web app builds on:
// identity normalization, per-conversation message filtering, message
// reconciliation, and story playback.
//
// Example:
//
//	client := jchat.NewClient(jchat.WithBaseURL("http://localhost:3000"))
//
//	msgs, _ := client.Messages.List(ctx)
//	sent, _ := client.Messages.Send(ctx, &jchat.Message{
//		SenderID:  "me",
//		ContactID: jchat.RefFromString("them"),
//		Text:      "hello",
//	})
//
//	session := client.NewSession(nil)
//	session.Connect(ctx)
package jchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:3000"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client talks to the JChat backend. Sub-modules expose the REST surface;
// NewSession creates a real-time session bound to this client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger

	Users    *UsersClient
	Messages *MessagesClient
	Stories  *StoriesClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token used for authenticated calls
// (user patches, story deletion).
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a JChat client. With no options it targets the local
// development backend.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Users = &UsersClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Stories = &StoriesClient{client: c}
	return c
}

// SetToken sets or replaces the bearer token after login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + "/api" + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug("api request", zap.String("method", method), zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		apiErr.Status = resp.StatusCode
		c.log.Warn("api error", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, apiErr
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// newClientID generates the correlation token attached to optimistic
// sends. Distinguishable from server ids, which the backend assigns.
func newClientID() string {
	return "client-" + uuid.NewString()
}

// ============================================================================
// Users
// ============================================================================

// UsersClient handles contact/participant records.
type UsersClient struct{ client *Client }

func (uc *UsersClient) List(ctx context.Context) ([]User, error) {
	data, err := uc.client.doRequest(ctx, "GET", "/users", nil, nil)
	if err != nil {
		return nil, err
	}
	users, err := decodeJSON[[]User](data)
	if err != nil {
		return nil, err
	}
	return *users, nil
}

func (uc *UsersClient) Get(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, errors.New("user id is required")
	}
	data, err := uc.client.doRequest(ctx, "GET", "/users/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Update patches a user record. Requires a bearer token.
func (uc *UsersClient) Update(ctx context.Context, id string, patch map[string]any) (*User, error) {
	if id == "" {
		return nil, errors.New("user id is required")
	}
	data, err := uc.client.doRequest(ctx, "PATCH", "/users/"+id, patch, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

func (uc *UsersClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("user id is required")
	}
	_, err := uc.client.doRequest(ctx, "DELETE", "/users/"+id, nil, nil)
	return err
}

// SetLastMessage patches the contact-list preview after a send.
func (uc *UsersClient) SetLastMessage(ctx context.Context, id, preview string) error {
	_, err := uc.Update(ctx, id, map[string]any{"lastMessage": preview})
	return err
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles the message store.
type MessagesClient struct{ client *Client }

func (mc *MessagesClient) List(ctx context.Context) ([]Message, error) {
	return mc.list(ctx, nil)
}

// ListForContact narrows server-side by conversation id; used for
// last-message preview lookups.
func (mc *MessagesClient) ListForContact(ctx context.Context, contactID string) ([]Message, error) {
	return mc.list(ctx, map[string]string{"contactId": contactID})
}

func (mc *MessagesClient) list(ctx context.Context, query map[string]string) ([]Message, error) {
	data, err := mc.client.doRequest(ctx, "GET", "/messages", nil, query)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// Send persists a message and returns the server record, which carries the
// server-assigned id. The draft's sender must resolve to an identity; the
// returned record keeps the draft's correlation token so the optimistic
// local copy can be replaced once the confirmation lands.
func (mc *MessagesClient) Send(ctx context.Context, draft *Message) (*Message, error) {
	if draft == nil {
		return nil, errors.New("message is required")
	}
	if draft.SenderID == "" && draft.Sender.IsZero() {
		return nil, errors.New("cannot send without a resolvable sender identity")
	}
	if draft.ContactID.IsZero() {
		return nil, errors.New("cannot send without a recipient identity")
	}
	if draft.ClientID == "" {
		draft.ClientID = newClientID()
	}
	if draft.Timestamp == "" {
		draft.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if draft.Sender.IsZero() {
		draft.Sender = RefFromString(draft.SenderID)
	}

	data, err := mc.client.doRequest(ctx, "POST", "/messages", draft, nil)
	if err != nil {
		return nil, err
	}
	saved, err := decodeJSON[Message](data)
	if err != nil {
		return nil, err
	}
	if saved.ClientID == "" {
		saved.ClientID = draft.ClientID
	}
	return saved, nil
}

func (mc *MessagesClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("message id is required")
	}
	_, err := mc.client.doRequest(ctx, "DELETE", "/messages/"+id, nil, nil)
	return err
}

// DeleteAll removes a set of messages by id. Failures are collected so one
// bad id does not stop the rest of the batch.
func (mc *MessagesClient) DeleteAll(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		if err := mc.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Vote records a poll vote and returns the message with the mutated tally.
func (mc *MessagesClient) Vote(ctx context.Context, messageID, userID string, optionIndex int) (*Message, error) {
	if messageID == "" {
		return nil, errors.New("message id is required")
	}
	if userID == "" {
		return nil, errors.New("cannot vote without a resolvable user identity")
	}
	body := map[string]any{"userId": userID, "optionIndex": optionIndex}
	data, err := mc.client.doRequest(ctx, "PUT", "/messages/"+messageID+"/vote", body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// ============================================================================
// Stories
// ============================================================================

// StoriesClient handles the story collection.
type StoriesClient struct{ client *Client }

// List fetches all stories, dropping expired ones and sorting ascending by
// creation time so they play in order.
func (sc *StoriesClient) List(ctx context.Context) ([]Story, error) {
	return sc.list(ctx, nil)
}

// ListForUser fetches one user's playable story sequence.
func (sc *StoriesClient) ListForUser(ctx context.Context, userID string) ([]Story, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return sc.list(ctx, map[string]string{"userId": userID})
}

func (sc *StoriesClient) list(ctx context.Context, query map[string]string) ([]Story, error) {
	data, err := sc.client.doRequest(ctx, "GET", "/stories", nil, query)
	if err != nil {
		return nil, err
	}
	stories, err := decodeJSON[[]Story](data)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	playable := make([]Story, 0, len(*stories))
	for _, s := range *stories {
		if s.Playable(now) {
			playable = append(playable, s)
		}
	}
	sort.SliceStable(playable, func(i, j int) bool {
		return parseInstant(playable[i].CreatedAt).Before(parseInstant(playable[j].CreatedAt))
	})
	return playable, nil
}

// Delete removes a story. Requires a bearer token; the backend enforces
// ownership, the client additionally gates the action (see StoryPlayer).
func (sc *StoriesClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("story id is required")
	}
	_, err := sc.client.doRequest(ctx, "DELETE", "/stories/"+id, nil, nil)
	return err
}
