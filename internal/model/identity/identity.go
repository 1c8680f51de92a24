package identity

import (
	"slices"
	"time"
)

// Unlimited marks a message quota without an upper bound.
const Unlimited = -1

const (
	// AnonymousMessageLimit is the number of messages a visitor may send before signing in.
	AnonymousMessageLimit = 3
	// DefaultMessageLimit applies to freshly created accounts.
	DefaultMessageLimit = 50
)

// BadgeDeveloper is granted together with the pro plan.
const BadgeDeveloper = "developer"

// Identity is the signed-in user as seen by the chat core. It is owned by the
// identity provider; everyone else works on copies.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Plan         string    `json:"plan"`
	Badges       []string  `json:"badges"`
	MessageCount int       `json:"messageCount"`
	MaxMessages  int       `json:"maxMessages"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Unbounded reports whether the identity has no message limit.
func (i *Identity) Unbounded() bool {
	return i.MaxMessages == Unlimited
}

// HasBadge reports whether the badge set contains badge.
func (i *Identity) HasBadge(badge string) bool {
	return slices.Contains(i.Badges, badge)
}

// Clone returns a deep copy so callers cannot alias the badge slice.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Badges = slices.Clone(i.Badges)
	if cp.Badges == nil {
		cp.Badges = []string{}
	}
	return &cp
}

// Event reports an identity transition for one client. Identity is nil after
// sign-out.
type Event struct {
	ClientID string
	Identity *Identity
}
