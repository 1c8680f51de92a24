package plan

import "github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"

const (
	Free    = "free"
	Premium = "premium"
	Pro     = "pro"
)

// Plan describes a subscription tier shown on the pricing page.
type Plan struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Price       string   `json:"price"`
	Period      string   `json:"period"`
	Description string   `json:"description"`
	MaxMessages int      `json:"maxMessages"`           // identity.Unlimited for no cap
	Features    []string `json:"features"`
	Badges      []string `json:"badges,omitempty"`      // granted while on the plan
	Popular     bool     `json:"popular,omitempty"`
	Premium     bool     `json:"premiumModel,omitempty"` // routes generation to the premium model
}

// Seed provides the plans offered at launch.
func Seed() []Plan {
	return []Plan{
		{
			ID:          Free,
			Name:        "Free",
			Price:       "$0",
			Period:      "forever",
			Description: "Perfect for trying out Fire Works AI",
			MaxMessages: identity.DefaultMessageLimit,
			Features: []string{
				"50 messages per month",
				"Basic AI responses",
				"Chat history (7 days)",
				"Community support",
				"Standard response time",
			},
		},
		{
			ID:          Premium,
			Name:        "Premium",
			Price:       "$19",
			Period:      "per month",
			Description: "Great for regular users",
			MaxMessages: 500,
			Features: []string{
				"500 messages per month",
				"Advanced AI responses",
				"Unlimited chat history",
				"Priority support",
				"Faster response time",
				"Custom chat themes",
				"Export conversations",
			},
			Popular: true,
		},
		{
			ID:          Pro,
			Name:        "Pro",
			Price:       "$49",
			Period:      "per month",
			Description: "For power users and developers",
			MaxMessages: identity.Unlimited,
			Features: []string{
				"Unlimited messages",
				"Premium AI models",
				"Developer badge",
				"AI training tools",
				"Custom knowledge base",
				"API access",
				"White-label options",
				"Dedicated support",
				"Advanced analytics",
			},
			Badges:  []string{identity.BadgeDeveloper},
			Premium: true,
		},
	}
}
