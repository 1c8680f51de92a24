package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	idmodel "github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/plan"
	"github.com/zhouzirui/fireworks-chat/backend/internal/store"
)

var (
	ErrClientRequired = errors.New("client id is required")
	ErrInvalidEmail   = errors.New("invalid email address")
	ErrNotSignedIn    = errors.New("not signed in")
	ErrPlanNotFound   = errors.New("plan not found")
)

const avatarBaseURL = "https://api.dicebear.com/7.x/avataaars/svg"

// ProfileUpdate lists the editable profile fields. Nil fields are left as is.
type ProfileUpdate struct {
	DisplayName      *string
	RegenerateAvatar bool
}

// Provider signs clients in and out and owns every account mutation. Accounts
// live in the repository; which client (browser) is signed in as which account
// is kept in memory.
type Provider struct {
	repo  store.Repository
	plans plan.Store
	now   func() time.Time

	mu           sync.Mutex
	bindings     map[string]string
	listeners    map[int]func(idmodel.Event)
	nextListener int
}

// NewProvider creates an identity provider.
func NewProvider(repo store.Repository, plans plan.Store) *Provider {
	return &Provider{
		repo:      repo,
		plans:     plans,
		now:       func() time.Time { return time.Now().UTC() },
		bindings:  make(map[string]string),
		listeners: make(map[int]func(idmodel.Event)),
	}
}

// Subscribe registers fn for identity events. Events are delivered
// synchronously, after the provider has released its lock.
func (p *Provider) Subscribe(fn func(idmodel.Event)) func() {
	p.mu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// SignIn binds the client to the account for email, creating it on first use.
func (p *Provider) SignIn(ctx context.Context, clientID, email, displayName string) (*idmodel.Identity, error) {
	if clientID == "" {
		return nil, ErrClientRequired
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := p.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if user == nil {
		user, err = p.createAccount(ctx, email, displayName)
		if err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	p.bindings[clientID] = user.ID
	p.mu.Unlock()

	log.Printf("[identity] client=%s signed in as user=%s", clientID, user.ID)
	p.emit(user)
	return user.Clone(), nil
}

func (p *Provider) createAccount(ctx context.Context, email, displayName string) (*idmodel.Identity, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}

	maxMessages := idmodel.DefaultMessageLimit
	if free, ok := p.plans.FindByID(plan.Free); ok {
		maxMessages = free.MaxMessages
	}

	now := p.now()
	user := &idmodel.Identity{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		Avatar:      avatarURL(email),
		Plan:        plan.Free,
		Badges:      []string{},
		MaxMessages: maxMessages,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.repo.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	log.Printf("[identity] account created user=%s", user.ID)
	return user, nil
}

// SignOut detaches the client from its account. Signing out an anonymous
// client is a no-op.
func (p *Provider) SignOut(_ context.Context, clientID string) error {
	p.mu.Lock()
	_, bound := p.bindings[clientID]
	delete(p.bindings, clientID)
	p.mu.Unlock()

	if bound {
		log.Printf("[identity] client=%s signed out", clientID)
		p.notify([]string{clientID}, nil)
	}
	return nil
}

// Current returns the client's account, or nil when anonymous.
func (p *Provider) Current(ctx context.Context, clientID string) (*idmodel.Identity, error) {
	userID, ok := p.boundUser(clientID)
	if !ok {
		return nil, nil
	}

	user, err := p.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if user == nil {
		p.mu.Lock()
		delete(p.bindings, clientID)
		p.mu.Unlock()
		return nil, nil
	}
	return user, nil
}

// UpdateProfile edits the signed-in account's profile.
func (p *Provider) UpdateProfile(ctx context.Context, clientID string, upd ProfileUpdate) (*idmodel.Identity, error) {
	return p.mutate(ctx, clientID, func(user *idmodel.Identity) error {
		if upd.DisplayName != nil {
			if name := strings.TrimSpace(*upd.DisplayName); name != "" {
				user.DisplayName = name
			}
		}
		if upd.RegenerateAvatar {
			user.Avatar = avatarURL(strconv.FormatInt(p.now().UnixNano(), 10))
		}
		return nil
	})
}

// ChangePlan moves the signed-in account to planID. There is no payment step.
func (p *Provider) ChangePlan(ctx context.Context, clientID, planID string) (*idmodel.Identity, error) {
	target, ok := p.plans.FindByID(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	return p.mutate(ctx, clientID, func(user *idmodel.Identity) error {
		user.Plan = target.ID
		user.MaxMessages = target.MaxMessages
		user.Badges = planBadges(user.Badges, target)
		return nil
	})
}

// RecordMessage counts one accepted message against the client's account.
// Anonymous clients are ignored.
func (p *Provider) RecordMessage(ctx context.Context, clientID string) error {
	userID, ok := p.boundUser(clientID)
	if !ok {
		return nil
	}

	if _, err := p.repo.IncrementMessageCount(ctx, userID); err != nil {
		return fmt.Errorf("record message: %w", err)
	}

	user, err := p.repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("reload account: %w", err)
	}
	if user != nil {
		p.emit(user)
	}
	return nil
}

func (p *Provider) mutate(ctx context.Context, clientID string, apply func(*idmodel.Identity) error) (*idmodel.Identity, error) {
	user, err := p.Current(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotSignedIn
	}

	if err := apply(user); err != nil {
		return nil, err
	}
	user.UpdatedAt = p.now()
	if err := p.repo.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}

	p.emit(user)
	return user.Clone(), nil
}

func (p *Provider) boundUser(clientID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	userID, ok := p.bindings[clientID]
	return userID, ok
}

// emit notifies every client currently signed in as user.
func (p *Provider) emit(user *idmodel.Identity) {
	p.mu.Lock()
	var clients []string
	for clientID, userID := range p.bindings {
		if userID == user.ID {
			clients = append(clients, clientID)
		}
	}
	p.mu.Unlock()

	p.notify(clients, user)
}

func (p *Provider) notify(clients []string, user *idmodel.Identity) {
	p.mu.Lock()
	listeners := make([]func(idmodel.Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, clientID := range clients {
		for _, fn := range listeners {
			fn(idmodel.Event{ClientID: clientID, Identity: user.Clone()})
		}
	}
}

// planBadges drops badges granted by other plans and adds the target's.
func planBadges(current []string, target plan.Plan) []string {
	badges := slices.DeleteFunc(slices.Clone(current), func(b string) bool {
		return b == idmodel.BadgeDeveloper && !slices.Contains(target.Badges, b)
	})
	for _, b := range target.Badges {
		if !slices.Contains(badges, b) {
			badges = append(badges, b)
		}
	}
	if badges == nil {
		badges = []string{}
	}
	return badges
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return strings.ToLower(addr.Address), nil
}

func avatarURL(seed string) string {
	return avatarBaseURL + "?seed=" + url.QueryEscape(seed)
}
