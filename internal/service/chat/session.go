package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/fireworks-chat/backend/internal/model/chat"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
)

// FallbackReply replaces any response whose generation failed.
const FallbackReply = "I apologize, but I'm having trouble processing your request right now. Please try again in a moment."

// DefaultTitle labels a conversation until its first exchange is titled.
const DefaultTitle = "New chat"

// GenerationRequest is handed to the completer for every accepted submit.
type GenerationRequest struct {
	SessionID string
	Input     string
	Model     string // empty selects the completer default
}

// Completer produces a lazy, finite stream of response chunks. The stream ends
// with io.EOF on success or any other error on failure, and cannot be restarted.
type Completer interface {
	StreamCompletion(ctx context.Context, req GenerationRequest) (*schema.StreamReader[*schema.Message], error)
}

// PendingView exposes the in-flight response while it streams.
type PendingView struct {
	ReplyID string `json:"replyId"`
	State   State  `json:"state"`
	Text    string `json:"text"`
}

// Snapshot is a consistent copy of a session's observable state.
type Snapshot struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Transcript []chat.Message `json:"transcript"`
	Pending    *PendingView   `json:"pending,omitempty"`
	Quota      QuotaView      `json:"quota"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type pendingResponse struct {
	reply  *Reply
	cancel context.CancelFunc
	text   strings.Builder
}

// Session is one conversation: an append-only transcript, a message quota and
// at most one streaming assistant response. All mutations happen under mu and
// are driven by discrete events (submit, chunk, end of stream).
type Session struct {
	id        string
	ownerID   string
	createdAt time.Time
	completer Completer
	modelFor  func(*identity.Identity) string
	onResolve func(*Session, Outcome)
	now       func() time.Time

	mu         sync.RWMutex
	title      string
	updatedAt  time.Time
	transcript []chat.Message
	pending    *pendingResponse
	identity   *identity.Identity
	quota      quota
}

// SessionOptions configures NewSession. Zero values are valid.
type SessionOptions struct {
	OwnerID  string
	Identity *identity.Identity
	Greeting string
	// Anonymous is the visitor's message counter; nil gives the session its own.
	Anonymous *AnonymousUsage
	// ModelFor picks the model identifier for a request; nil uses the completer default.
	ModelFor func(*identity.Identity) string
	// OnResolve runs on the reply goroutine after every finalized or failed reply.
	OnResolve func(*Session, Outcome)
	Now       func() time.Time
}

// NewSession creates an empty conversation bound to completer.
func NewSession(completer Completer, opts SessionOptions) *Session {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	created := now()

	s := &Session{
		id:         uuid.NewString(),
		ownerID:    opts.OwnerID,
		createdAt:  created,
		completer:  completer,
		modelFor:   opts.ModelFor,
		onResolve:  opts.OnResolve,
		now:        now,
		title:      DefaultTitle,
		updatedAt:  created,
		transcript: make([]chat.Message, 0, 16),
	}
	s.quota.anonymous = opts.Anonymous
	if s.quota.anonymous == nil {
		s.quota.anonymous = &AnonymousUsage{}
	}
	s.setIdentityLocked(opts.Identity)

	if greeting := strings.TrimSpace(opts.Greeting); greeting != "" {
		s.transcript = append(s.transcript, chat.Message{
			ID:        newMessageID(),
			Role:      chat.RoleAssistant,
			Content:   greeting,
			CreatedAt: created,
		})
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// OwnerID returns the client that created the session.
func (s *Session) OwnerID() string {
	return s.ownerID
}

// Identity returns a copy of the cached identity snapshot, or nil when anonymous.
func (s *Session) Identity() *identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.Clone()
}

// SetIdentity replaces the cached identity snapshot. For the same account the
// consumed counter only moves forward; a different account starts from the
// provider's count. The anonymous counter is left untouched.
func (s *Session) SetIdentity(id *identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setIdentityLocked(id)
}

func (s *Session) setIdentityLocked(id *identity.Identity) {
	snapshot := id.Clone()
	switch {
	case snapshot == nil:
	case s.identity != nil && s.identity.ID == snapshot.ID:
		s.quota.identityConsumed = max(s.quota.identityConsumed, snapshot.MessageCount)
	default:
		s.quota.identityConsumed = snapshot.MessageCount
	}
	s.identity = snapshot
}

// CanSend reports whether the active identity class has quota left.
func (s *Session) CanSend() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quota.canSend(s.identity)
}

// Busy reports whether a reply is in flight.
func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending != nil
}

// Submit appends the trimmed text as a user message, consumes one quota unit
// and dispatches a generation request. The returned reply resolves once the
// assistant entry has been appended to the transcript.
func (s *Session) Submit(ctx context.Context, text string) (*Reply, error) {
	input := strings.TrimSpace(text)
	if input == "" {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if !s.quota.tryConsume(s.identity) {
		err := s.quota.exceeded(s.identity)
		s.mu.Unlock()
		return nil, err
	}

	msg := chat.Message{
		ID:        newMessageID(),
		Role:      chat.RoleUser,
		Content:   input,
		CreatedAt: s.now(),
	}
	if s.identity != nil {
		msg.AuthorID = s.identity.ID
	}
	s.transcript = append(s.transcript, msg)
	s.updatedAt = msg.CreatedAt

	dispatchCtx, cancel := context.WithCancel(ctx)
	reply := newReply(msg.ID)
	s.pending = &pendingResponse{reply: reply, cancel: cancel}

	req := GenerationRequest{SessionID: s.id, Input: input}
	if s.modelFor != nil {
		req.Model = s.modelFor(s.identity)
	}
	s.mu.Unlock()

	go s.run(dispatchCtx, reply, req)
	return reply, nil
}

// Cancel aborts the in-flight reply, if any. The partial text is discarded and
// the reply fails like any other generation error.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return false
	}
	s.pending.cancel()
	return true
}

func (s *Session) run(ctx context.Context, reply *Reply, req GenerationRequest) {
	stream, err := s.completer.StreamCompletion(ctx, req)
	if err != nil {
		s.fail(reply, fmt.Errorf("dispatch: %w", err))
		return
	}
	defer stream.Close()
	reply.streaming()

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			s.fail(reply, fmt.Errorf("stream: %w", recvErr))
			return
		}
		if err := ctx.Err(); err != nil {
			s.fail(reply, err)
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		s.appendChunk(reply, chunk.Content)
	}

	s.finalize(ctx, reply)
}

func (s *Session) appendChunk(reply *Reply, chunk string) {
	s.mu.Lock()
	if s.pending == nil || s.pending.reply != reply {
		s.mu.Unlock()
		return
	}
	s.pending.text.WriteString(chunk)
	s.mu.Unlock()

	reply.push(chunk)
}

// finalize promotes the accumulated text unless the dispatch context was
// cancelled first.
func (s *Session) finalize(ctx context.Context, reply *Reply) {
	s.mu.Lock()
	if s.pending == nil || s.pending.reply != reply {
		s.mu.Unlock()
		return
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		s.fail(reply, err)
		return
	}
	text := s.pending.text.String()
	if strings.TrimSpace(text) == "" {
		s.mu.Unlock()
		s.fail(reply, errors.New("empty completion"))
		return
	}

	msg := s.closePendingLocked(text)
	s.mu.Unlock()

	s.resolve(reply, Outcome{State: StateFinalized, Message: msg})
}

func (s *Session) fail(reply *Reply, cause error) {
	s.mu.Lock()
	if s.pending == nil || s.pending.reply != reply {
		s.mu.Unlock()
		return
	}
	msg := s.closePendingLocked(FallbackReply)
	s.mu.Unlock()

	log.Printf("[chat] generation failed session=%s reply=%s: %v", s.id, reply.ID(), cause)
	s.resolve(reply, Outcome{
		State:   StateFailed,
		Message: msg,
		Err:     fmt.Errorf("%w: %w", ErrGenerationFailed, cause),
	})
}

// closePendingLocked appends the assistant entry and clears the accumulator.
func (s *Session) closePendingLocked(content string) chat.Message {
	msg := chat.Message{
		ID:        newMessageID(),
		Role:      chat.RoleAssistant,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.transcript = append(s.transcript, msg)
	s.updatedAt = msg.CreatedAt
	s.pending.cancel()
	s.pending = nil
	return msg
}

func (s *Session) resolve(reply *Reply, outcome Outcome) {
	reply.resolve(outcome)
	if s.onResolve != nil {
		s.onResolve(s, outcome)
	}
}

// Title returns the sidebar title.
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// SetTitle renames the conversation; blank titles are ignored.
func (s *Session) SetTitle(title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
}

// Transcript returns a copy of the finalized messages.
func (s *Session) Transcript() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Message(nil), s.transcript...)
}

// Snapshot returns the full read view, including partially streamed text.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:         s.id,
		Title:      s.title,
		Transcript: append([]chat.Message(nil), s.transcript...),
		Quota:      s.quota.view(s.identity),
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
	if s.pending != nil {
		snap.Pending = &PendingView{
			ReplyID: s.pending.reply.ID(),
			State:   s.pending.reply.State(),
			Text:    s.pending.text.String(),
		}
	}
	return snap
}

// Summary returns the sidebar entry for the session.
func (s *Session) Summary() chat.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chat.Summary{
		ID:           s.id,
		Title:        s.title,
		MessageCount: len(s.transcript),
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
}

// newMessageID returns a time-ordered identifier so IDs sort in creation order.
func newMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}
