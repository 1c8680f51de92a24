// Package chattest provides completers for tests of code built on the chat service.
package chattest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	chat "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
)

// Completer replays Chunks for every request, then fails with Err if set.
type Completer struct {
	Chunks      []string
	Err         error
	DispatchErr error

	mu       sync.Mutex
	requests []chat.GenerationRequest
}

// StreamCompletion implements chat.Completer.
func (c *Completer) StreamCompletion(_ context.Context, req chat.GenerationRequest) (*schema.StreamReader[*schema.Message], error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.DispatchErr != nil {
		return nil, c.DispatchErr
	}

	sr, sw := schema.Pipe[*schema.Message](len(c.Chunks) + 1)
	for _, chunk := range c.Chunks {
		sw.Send(schema.AssistantMessage(chunk, nil), nil)
	}
	if c.Err != nil {
		sw.Send(nil, c.Err)
	}
	sw.Close()
	return sr, nil
}

// Requests returns every request seen so far.
func (c *Completer) Requests() []chat.GenerationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.GenerationRequest(nil), c.requests...)
}

// Hold blocks every request until Release is called or the request context ends.
type Hold struct {
	once    sync.Once
	release chan struct{}
	Chunk   string
}

// NewHold returns a completer that emits chunk once released.
func NewHold(chunk string) *Hold {
	return &Hold{release: make(chan struct{}), Chunk: chunk}
}

// Release lets every pending and future request finish.
func (h *Hold) Release() {
	h.once.Do(func() { close(h.release) })
}

// StreamCompletion implements chat.Completer.
func (h *Hold) StreamCompletion(ctx context.Context, _ chat.GenerationRequest) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](2)
	go func() {
		defer sw.Close()
		select {
		case <-h.release:
			sw.Send(schema.AssistantMessage(h.Chunk, nil), nil)
		case <-ctx.Done():
			sw.Send(nil, ctx.Err())
		}
	}()
	return sr, nil
}
