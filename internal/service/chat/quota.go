package chat

import (
	"sync"

	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
)

// QuotaView is the read-only quota state exposed with a snapshot.
type QuotaView struct {
	Anonymous bool `json:"anonymous"`
	Consumed  int  `json:"consumed"`
	Limit     int  `json:"limit"`     // identity.Unlimited when unbounded
	Remaining int  `json:"remaining"` // identity.Unlimited when unbounded
	CanSend   bool `json:"canSend"`
}

// AnonymousUsage counts a visitor's messages across all of their conversations.
// It is never reset, so signing out cannot grant a fresh anonymous allowance.
type AnonymousUsage struct {
	mu       sync.Mutex
	consumed int
}

// Consumed returns the number of accepted anonymous messages.
func (u *AnonymousUsage) Consumed() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.consumed
}

// tryConsume takes one message if the visitor still has one left.
func (u *AnonymousUsage) tryConsume() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.consumed >= identity.AnonymousMessageLimit {
		return false
	}
	u.consumed++
	return true
}

// quota counts accepted user messages per identity class. The anonymous
// counter may be shared between sessions of the same client.
type quota struct {
	anonymous        *AnonymousUsage
	identityConsumed int
}

func (q *quota) canSend(id *identity.Identity) bool {
	if id == nil {
		return q.anonymous.Consumed() < identity.AnonymousMessageLimit
	}
	if id.Unbounded() {
		return true
	}
	return q.identityConsumed < id.MaxMessages
}

// tryConsume records one accepted message against the active class.
func (q *quota) tryConsume(id *identity.Identity) bool {
	if id == nil {
		return q.anonymous.tryConsume()
	}
	if !id.Unbounded() && q.identityConsumed >= id.MaxMessages {
		return false
	}
	q.identityConsumed++
	return true
}

func (q *quota) exceeded(id *identity.Identity) *QuotaExceededError {
	if id == nil {
		return &QuotaExceededError{
			Remedy:   RemedyAuthenticate,
			Consumed: q.anonymous.Consumed(),
			Limit:    identity.AnonymousMessageLimit,
		}
	}
	return &QuotaExceededError{
		Remedy:   RemedyUpgrade,
		Consumed: q.identityConsumed,
		Limit:    id.MaxMessages,
	}
}

func (q *quota) view(id *identity.Identity) QuotaView {
	v := QuotaView{CanSend: q.canSend(id)}
	switch {
	case id == nil:
		v.Anonymous = true
		v.Consumed = q.anonymous.Consumed()
		v.Limit = identity.AnonymousMessageLimit
	case id.Unbounded():
		v.Consumed = q.identityConsumed
		v.Limit = identity.Unlimited
		v.Remaining = identity.Unlimited
		return v
	default:
		v.Consumed = q.identityConsumed
		v.Limit = id.MaxMessages
	}
	v.Remaining = max(v.Limit-v.Consumed, 0)
	return v
}
