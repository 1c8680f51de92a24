package chat

import (
	"context"
	"io"
	"sync"

	"github.com/zhouzirui/fireworks-chat/backend/internal/model/chat"
)

// State tracks one generation request.
type State string

const (
	StateDispatched State = "dispatched"
	StateStreaming  State = "streaming"
	StateFinalized  State = "finalized"
	StateFailed     State = "failed"
)

// Terminal reports whether the request has resolved.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// Outcome is the resolved result of a reply. Message is the assistant entry that
// was appended to the transcript: the full response, or the fallback text when
// Err is set.
type Outcome struct {
	State   State
	Message chat.Message
	Err     error
}

// Reply is the handle for one in-flight assistant response. Chunks are read
// with Recv until io.EOF; the producer never waits for the reader.
type Reply struct {
	id string

	mu      sync.Mutex
	state   State
	chunks  []string
	next    int
	outcome Outcome

	wake chan struct{}
	done chan struct{}
}

func newReply(id string) *Reply {
	return &Reply{
		id:    id,
		state: StateDispatched,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// ID identifies the reply; it matches the user message that triggered it.
func (r *Reply) ID() string {
	return r.id
}

// State returns the current request state.
func (r *Reply) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the reply is finalized or failed.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Recv returns the next streamed chunk in order. It returns io.EOF after the
// reply resolved and every chunk was read, or ctx.Err() if ctx ends first.
func (r *Reply) Recv(ctx context.Context) (string, error) {
	for {
		r.mu.Lock()
		if r.next < len(r.chunks) {
			chunk := r.chunks[r.next]
			r.next++
			r.mu.Unlock()
			return chunk, nil
		}
		resolved := r.state.Terminal()
		r.mu.Unlock()

		if resolved {
			return "", io.EOF
		}

		select {
		case <-r.wake:
		case <-r.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Wait blocks until the reply resolves or ctx ends.
func (r *Reply) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (r *Reply) streaming() {
	r.mu.Lock()
	if r.state == StateDispatched {
		r.state = StateStreaming
	}
	r.mu.Unlock()
}

func (r *Reply) push(chunk string) {
	r.mu.Lock()
	r.state = StateStreaming
	r.chunks = append(r.chunks, chunk)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Reply) resolve(outcome Outcome) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = outcome.State
	r.outcome = outcome
	r.mu.Unlock()
	close(r.done)
}
