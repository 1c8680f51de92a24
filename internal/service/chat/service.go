package chat

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/fireworks-chat/backend/internal/model/chat"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
)

// IdentitySource is the part of the identity provider the chat service reads.
type IdentitySource interface {
	Current(ctx context.Context, clientID string) (*identity.Identity, error)
	RecordMessage(ctx context.Context, clientID string) error
	Subscribe(fn func(identity.Event)) (unsubscribe func())
}

// Titler names a conversation from its first exchange.
type Titler interface {
	Title(ctx context.Context, userMessage, assistantMessage string) string
}

// Config controls the chat service. Zero values are valid.
type Config struct {
	Greeting     string
	TitleTimeout time.Duration
	ModelFor     func(*identity.Identity) string
	Titler       Titler
	Now          func() time.Time
}

// Service owns every open conversation, keyed by session ID and scoped to the
// client that created it.
type Service struct {
	completer  Completer
	identities IdentitySource
	cfg        Config

	mu        sync.RWMutex
	sessions  map[string]*Session
	anonymous map[string]*AnonymousUsage

	unsubscribe func()
}

// NewService bootstraps the in-memory chat service. identities may be nil, in
// which case every client is anonymous.
func NewService(completer Completer, identities IdentitySource, cfg Config) *Service {
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = 15 * time.Second
	}

	s := &Service{
		completer:  completer,
		identities: identities,
		cfg:        cfg,
		sessions:   make(map[string]*Session),
		anonymous:  make(map[string]*AnonymousUsage),
	}
	if identities != nil {
		s.unsubscribe = identities.Subscribe(s.handleIdentityEvent)
	}
	return s
}

// Close detaches the service from the identity provider and cancels in-flight replies.
func (s *Service) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		sess.Cancel()
	}
}

// CreateSession starts a new conversation for the client.
func (s *Service) CreateSession(ctx context.Context, clientID string) (*Session, error) {
	if clientID == "" {
		return nil, ErrClientRequired
	}

	var current *identity.Identity
	if s.identities != nil {
		id, err := s.identities.Current(ctx, clientID)
		if err != nil {
			return nil, err
		}
		current = id
	}

	s.mu.Lock()
	usage, ok := s.anonymous[clientID]
	if !ok {
		usage = &AnonymousUsage{}
		s.anonymous[clientID] = usage
	}
	sess := NewSession(s.completer, SessionOptions{
		OwnerID:   clientID,
		Identity:  current,
		Greeting:  s.cfg.Greeting,
		Anonymous: usage,
		ModelFor:  s.cfg.ModelFor,
		OnResolve: s.handleResolved,
		Now:       s.cfg.Now,
	})
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	log.Printf("[chat] session created id=%s client=%s", sess.ID(), clientID)
	return sess, nil
}

// GetSession retrieves a session owned by the client.
func (s *Service) GetSession(_ context.Context, clientID, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.OwnerID() != clientID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns the client's conversations, most recently updated first.
func (s *Service) ListSessions(_ context.Context, clientID string) []chat.Summary {
	s.mu.RLock()
	summaries := make([]chat.Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.OwnerID() == clientID {
			summaries = append(summaries, sess.Summary())
		}
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries
}

// DeleteSession discards a conversation and aborts its in-flight reply.
func (s *Service) DeleteSession(_ context.Context, clientID, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.OwnerID() != clientID {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	sess.Cancel()
	log.Printf("[chat] session deleted id=%s client=%s", sessionID, clientID)
	return nil
}

// Submit sends a user message to one of the client's sessions. Accepted
// messages from signed-in clients are also recorded with the identity provider.
func (s *Service) Submit(ctx context.Context, clientID, sessionID, text string) (*Reply, error) {
	sess, err := s.GetSession(ctx, clientID, sessionID)
	if err != nil {
		return nil, err
	}

	reply, err := sess.Submit(ctx, text)
	if err != nil {
		return nil, err
	}

	if s.identities != nil && sess.Identity() != nil {
		if err := s.identities.RecordMessage(ctx, clientID); err != nil {
			log.Printf("[chat] failed to record usage client=%s: %v", clientID, err)
		}
	}
	return reply, nil
}

func (s *Service) handleIdentityEvent(evt identity.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.OwnerID() == evt.ClientID {
			sess.SetIdentity(evt.Identity)
		}
	}
}

// handleResolved titles a conversation after its first successful exchange.
func (s *Service) handleResolved(sess *Session, outcome Outcome) {
	if s.cfg.Titler == nil || outcome.State != StateFinalized || sess.Title() != DefaultTitle {
		return
	}

	var userMessage string
	for _, msg := range sess.Transcript() {
		if msg.Role == chat.RoleUser {
			userMessage = msg.Content
			break
		}
	}
	if userMessage == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TitleTimeout)
	defer cancel()
	sess.SetTitle(s.cfg.Titler.Title(ctx, userMessage, outcome.Message.Content))
}
