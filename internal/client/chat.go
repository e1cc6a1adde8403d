// Package client implements the chat consumer: it owns the conversation
// state, opens stream connections, decodes incoming frames into events, folds
// them into an in-progress assistant message, and exposes cancellation.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pdfchat/internal/models"
)

// ConnectionState describes the consumer's view of the stream connection.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnError        ConnectionState = "error"
)

const framePrefix = "data: "

// Callbacks are optional hooks fired by the consumer. Nil fields are skipped.
// OnStreamEnd fires exactly once per stream attempt, regardless of success,
// failure, or cancellation. OnMessageReceived fires once per finalized
// assistant message, streaming or sync.
type Callbacks struct {
	OnMessageSent     func(models.Message)
	OnMessageReceived func(models.Message)
	OnError           func(error)
	OnStreamStart     func()
	OnStreamEnd       func()
}

// Chat owns the conversation state for one session. All state is mutated
// under an internal lock: SendMessage drives the stream on its calling
// goroutine while StopStreaming may arrive from another.
type Chat struct {
	sessionID string
	cfg       models.ChatConfig
	transport Transport
	callbacks Callbacks
	logger    *slog.Logger

	mu        sync.Mutex
	messages  []models.Message
	streaming *models.StreamingMessage
	isSending bool
	streamOn  bool
	chatErr   error
	connState ConnectionState

	// cancel aborts the in-flight stream request; stopped records that the
	// abort was user-initiated so the read loop doesn't treat it as teardown.
	cancel  context.CancelFunc
	stopped bool
}

// Option configures a Chat.
type Option func(*Chat)

// WithConfig overrides the default ChatConfig.
func WithConfig(cfg models.ChatConfig) Option {
	return func(c *Chat) { c.cfg = cfg }
}

// WithCallbacks registers the hook functions.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Chat) { c.callbacks = cb }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chat) { c.logger = logger }
}

// NewChat creates a consumer for the given session.
func NewChat(sessionID string, transport Transport, opts ...Option) *Chat {
	c := &Chat{
		sessionID: sessionID,
		cfg:       models.DefaultChatConfig(),
		transport: transport,
		logger:    slog.Default(),
		connState: ConnDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("module", "client"), slog.String("sessionID", sessionID))
	return c
}

// ValidateMessage checks content against the chat configuration without
// mutating any state. The trimmed length must fall within
// [MinMessageLength, MaxMessageLength], bounds inclusive.
func (c *Chat) ValidateMessage(content string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	if n < c.cfg.MinMessageLength {
		return fmt.Errorf("message must be at least %d %s: %w",
			c.cfg.MinMessageLength, plural(c.cfg.MinMessageLength), ErrValidation)
	}
	if n > c.cfg.MaxMessageLength {
		return fmt.Errorf("message must be at most %d %s: %w",
			c.cfg.MaxMessageLength, plural(c.cfg.MaxMessageLength), ErrValidation)
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return "character"
	}
	return "characters"
}

// SendMessage validates and appends the user message, then obtains the
// assistant response: streamed token-by-token when streaming is enabled, via
// the synchronous fallback otherwise. It blocks until the response completes,
// fails, or is cancelled. All error conditions are also folded into the chat
// error state.
func (c *Chat) SendMessage(ctx context.Context, content string) error {
	if c.sessionID == "" {
		return ErrNoSession
	}
	if err := c.ValidateMessage(content); err != nil {
		c.mu.Lock()
		c.chatErr = err
		c.mu.Unlock()
		c.fireError(err)
		return err
	}

	c.mu.Lock()
	if c.streamOn {
		c.mu.Unlock()
		return ErrStreamActive
	}
	c.isSending = true
	userMsg := models.Message{
		ID:        uuid.New().String(),
		SessionID: c.sessionID,
		Role:      models.RoleUser,
		Content:   strings.TrimSpace(content),
		Timestamp: time.Now(),
	}
	c.messages = append(c.messages, userMsg)
	c.isSending = false
	c.mu.Unlock()

	if c.callbacks.OnMessageSent != nil {
		c.callbacks.OnMessageSent(userMsg)
	}

	if c.cfg.EnableStreaming {
		return c.streamResponse(ctx, userMsg.Content)
	}
	return c.syncResponse(ctx, userMsg.Content)
}

// streamResponse opens the stream connection and consumes it to completion.
func (c *Chat) streamResponse(ctx context.Context, prompt string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sm := &models.StreamingMessage{
		Message: models.Message{
			ID:        uuid.New().String(),
			SessionID: c.sessionID,
			Role:      models.RoleAssistant,
			Timestamp: time.Now(),
		},
		IsStreaming: true,
	}

	c.mu.Lock()
	c.streamOn = true
	c.connState = ConnConnecting
	c.chatErr = nil
	c.stopped = false
	c.cancel = cancel
	c.streaming = sm
	c.mu.Unlock()

	if c.callbacks.OnStreamStart != nil {
		c.callbacks.OnStreamStart()
	}
	defer func() {
		c.mu.Lock()
		c.streamOn = false
		c.cancel = nil
		c.mu.Unlock()
		if c.callbacks.OnStreamEnd != nil {
			c.callbacks.OnStreamEnd()
		}
	}()

	body, err := c.transport.OpenStream(ctx, c.sessionID, prompt, sm.ID)
	if err != nil {
		if c.userStopped() {
			// StopStreaming raced the connection attempt and already
			// finalized; not an error.
			return nil
		}
		err = fmt.Errorf("failed to open stream: %w", err)
		c.mu.Lock()
		c.streaming = nil
		c.chatErr = err
		c.connState = ConnError
		c.mu.Unlock()
		c.fireError(err)
		c.setConnState(ConnDisconnected)
		return err
	}
	defer body.Close()

	c.mu.Lock()
	if !c.stopped {
		c.connState = ConnConnected
	}
	c.mu.Unlock()

	return c.consume(ctx, bufio.NewScanner(body))
}

// consume decodes frames line by line and applies the resulting events. A
// frame may span multiple reads; bufio.Scanner retains incomplete trailing
// lines across reads, so only complete lines reach the parser. Malformed
// frames are skipped silently.
func (c *Chat) consume(ctx context.Context, scanner *bufio.Scanner) error {
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, framePrefix) {
			continue
		}

		var evt models.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, framePrefix)), &evt); err != nil {
			c.logger.Debug("Skipping malformed frame", slog.String("line", line))
			continue
		}

		switch evt.Type {
		case models.EventToken:
			c.mu.Lock()
			if c.streaming != nil {
				c.streaming.Content += evt.Data
			}
			c.mu.Unlock()

		case models.EventDone:
			// A done terminates consumption even if more bytes remain.
			c.finalizeStream()
			return nil

		case models.EventError:
			streamErr := errors.New(evt.Data)
			c.mu.Lock()
			c.chatErr = streamErr
			c.streaming = nil
			c.mu.Unlock()
			c.fireError(streamErr)
			// The subsequent done still performs stream teardown.
		}
	}

	// The stream ended without a done event: either an abort or a broken
	// transport.
	if ctx.Err() != nil {
		if c.userStopped() {
			// StopStreaming already finalized the partial message.
			return nil
		}
		// Consumer teardown: discard quietly, never a user-visible error.
		c.discardStream()
		return nil
	}

	err := scanner.Err()
	if err == nil {
		err = errors.New("stream ended unexpectedly")
	}
	c.mu.Lock()
	c.streaming = nil
	c.chatErr = err
	c.connState = ConnError
	c.mu.Unlock()
	c.fireError(err)
	c.setConnState(ConnDisconnected)
	return err
}

// finalizeStream converts the in-flight streaming message into an immutable
// Message and appends it. It is a no-op if the message was already finalized
// or discarded.
func (c *Chat) finalizeStream() {
	c.mu.Lock()
	sm := c.streaming
	var final models.Message
	if sm != nil {
		final = sm.Finalize()
		c.messages = append(c.messages, final)
		c.streaming = nil
	}
	c.connState = ConnDisconnected
	c.mu.Unlock()

	if sm != nil && c.callbacks.OnMessageReceived != nil {
		c.callbacks.OnMessageReceived(final)
	}
}

// discardStream drops the in-flight streaming message without appending it.
func (c *Chat) discardStream() {
	c.mu.Lock()
	c.streaming = nil
	c.connState = ConnDisconnected
	c.mu.Unlock()
}

// StopStreaming cancels the in-flight stream, finalizing the content received
// so far exactly as a done event would. It is safe to call at any time; when
// no stream is active it is a no-op.
func (c *Chat) StopStreaming() {
	c.mu.Lock()
	if !c.streamOn {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	c.finalizeStream()

	if cancel != nil {
		cancel()
	}
}

// syncResponse delegates to the non-streaming fallback endpoint. The
// assistant message is appended in the same lock section that observes the
// response, with no intermediate streaming message.
func (c *Chat) syncResponse(ctx context.Context, prompt string) error {
	_, assistantMsg, err := c.transport.SendSync(ctx, c.sessionID, prompt)
	if err != nil {
		err = fmt.Errorf("sync request failed: %w", err)
		c.mu.Lock()
		c.chatErr = err
		c.mu.Unlock()
		c.fireError(err)
		return err
	}

	c.mu.Lock()
	c.messages = append(c.messages, assistantMsg)
	c.mu.Unlock()

	if c.callbacks.OnMessageReceived != nil {
		c.callbacks.OnMessageReceived(assistantMsg)
	}
	return nil
}

// ClearMessages resets the message list, any in-flight streaming message, and
// the error state. The connection state is left untouched.
func (c *Chat) ClearMessages() {
	c.mu.Lock()
	c.messages = nil
	c.streaming = nil
	c.chatErr = nil
	c.mu.Unlock()
}

// Messages returns a copy of the finalized message list.
func (c *Chat) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Streaming returns a copy of the in-flight streaming message, or nil when no
// stream is active.
func (c *Chat) Streaming() *models.StreamingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming == nil {
		return nil
	}
	sm := *c.streaming
	return &sm
}

// Err returns the current chat-level error, if any.
func (c *Chat) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatErr
}

// ConnectionState returns the current connection state.
func (c *Chat) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// IsStreaming reports whether a stream attempt is in flight.
func (c *Chat) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamOn
}

// IsSending reports whether a send is being validated and appended.
func (c *Chat) IsSending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSending
}

func (c *Chat) setConnState(state ConnectionState) {
	c.mu.Lock()
	c.connState = state
	c.mu.Unlock()
}

func (c *Chat) userStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Chat) fireError(err error) {
	c.logger.Error("Chat error", slog.String(errLoggerKey, err.Error()))
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

const errLoggerKey = "err"
