// Package stream implements the server-side chat stream: a pull-based
// encoder that turns a prompt into the ordered event sequence
// token* (done | error done), paced for incremental delivery.
package stream

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"pdfchat/internal/chatbot"
	"pdfchat/internal/models"
)

// DefaultTokenDelay is the simulated pacing between token events.
const DefaultTokenDelay = 80 * time.Millisecond

// GenerateFunc produces the full response text for a prompt.
type GenerateFunc func(sessionID, prompt string) string

type encoderState int

const (
	stateStarting encoderState = iota
	stateEmitting
	stateComplete
)

// Encoder lazily produces the event sequence for one stream request. It is
// finite and not restartable: create a fresh Encoder per request. The caller
// drives it by calling Next until io.EOF.
type Encoder struct {
	sessionID string
	prompt    string

	generate  GenerateFunc
	chunkSize int
	delay     time.Duration

	state  encoderState
	chunks []string
	cursor int

	// doneAfterError is set once an error event has been emitted; the next
	// pull yields the trailing done event.
	doneAfterError bool
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithGenerator overrides the response generator.
func WithGenerator(g GenerateFunc) Option {
	return func(e *Encoder) { e.generate = g }
}

// WithChunkSize overrides the tokenizer chunk size.
func WithChunkSize(n int) Option {
	return func(e *Encoder) { e.chunkSize = n }
}

// WithTokenDelay overrides the inter-token pacing delay. Zero disables
// pacing, which is valid and useful in tests.
func WithTokenDelay(d time.Duration) Option {
	return func(e *Encoder) { e.delay = d }
}

// NewEncoder creates an encoder for one (session, prompt) request.
func NewEncoder(sessionID, prompt string, opts ...Option) *Encoder {
	e := &Encoder{
		sessionID: sessionID,
		prompt:    prompt,
		generate:  chatbot.Generate,
		chunkSize: chatbot.DefaultChunkSize,
		delay:     DefaultTokenDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Next returns the next event in the sequence. It returns io.EOF after the
// terminal done event, and ctx.Err() if the context is cancelled during the
// pacing delay. A failure during generation or tokenization is reported
// in-band: exactly one error event, then one done event, then io.EOF.
func (e *Encoder) Next(ctx context.Context) (models.StreamEvent, error) {
	switch e.state {
	case stateComplete:
		return models.StreamEvent{}, io.EOF

	case stateStarting:
		evt, err := e.start()
		if err != nil {
			e.doneAfterError = true
			e.state = stateEmitting
			return models.ErrorEvent(err.Error()), nil
		}
		if evt != nil {
			e.state = stateComplete
			return *evt, nil
		}
		e.state = stateEmitting
		fallthrough

	case stateEmitting:
		if e.doneAfterError {
			e.state = stateComplete
			return models.DoneEvent(), nil
		}
		if e.cursor >= len(e.chunks) {
			e.state = stateComplete
			return models.DoneEvent(), nil
		}
		if err := e.pace(ctx); err != nil {
			e.state = stateComplete
			return models.StreamEvent{}, err
		}
		chunk := e.chunks[e.cursor]
		e.cursor++
		return models.TokenEvent(chunk), nil
	}

	return models.StreamEvent{}, io.EOF
}

// start runs generation and tokenization. It returns a non-nil event when the
// stream completes immediately (empty response), and converts panics from the
// generator into errors so they surface in-band.
func (e *Encoder) start() (evt *models.StreamEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			evt = nil
			err = fmt.Errorf("response generation failed: %v", r)
		}
	}()

	text := e.generate(e.sessionID, e.prompt)
	if strings.TrimSpace(text) == "" {
		done := models.DoneEvent()
		return &done, nil
	}

	e.chunks = chatbot.Tokenize(text, e.chunkSize)
	return nil, nil
}

// pace suspends for the inter-token delay, honoring cancellation.
func (e *Encoder) pace(ctx context.Context) error {
	if e.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
