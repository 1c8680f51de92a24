package ai

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const inputPlaceholder = "{{input}}"

// Prompt frames every user message before it reaches the model.
type Prompt struct {
	System string `toml:"system"`
	User   string `toml:"user"`
}

// DefaultPrompt is the built-in HR and SHRM assistant framing.
func DefaultPrompt() *Prompt {
	return &Prompt{
		System: "You are Fire Works AI, an HR and SHRM assistant.",
		User:   "Respond helpfully to: " + inputPlaceholder,
	}
}

// LoadPrompt reads a TOML prompt file. A missing user template falls back to
// the default one.
func LoadPrompt(filePath string) (*Prompt, error) {
	var p Prompt
	if _, err := toml.DecodeFile(filePath, &p); err != nil {
		return nil, fmt.Errorf("decode prompt file %s: %w", filePath, err)
	}
	if strings.TrimSpace(p.User) == "" {
		p.User = DefaultPrompt().User
	}
	return &p, nil
}

// Format substitutes the user input into both templates. When neither template
// references the input it is sent as the user message unchanged.
func (p *Prompt) Format(input string) (system, user string) {
	system = strings.ReplaceAll(p.System, inputPlaceholder, input)
	if !strings.Contains(p.System, inputPlaceholder) && !strings.Contains(p.User, inputPlaceholder) {
		return system, input
	}
	return system, strings.ReplaceAll(p.User, inputPlaceholder, input)
}
