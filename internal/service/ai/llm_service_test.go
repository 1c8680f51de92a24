package ai

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	chatservice "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
)

type fakeChatModel struct {
	mu       sync.Mutex
	inputs   [][]*schema.Message
	models   []string
	chunks   []string
	genCalls int
}

func (f *fakeChatModel) record(input []*schema.Message, opts []model.Option) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	var name string
	if o := model.GetCommonOptions(&model.Options{}, opts...); o.Model != nil {
		name = *o.Model
	}
	f.models = append(f.models, name)
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.record(input, opts)
	f.mu.Lock()
	f.genCalls++
	f.mu.Unlock()
	return schema.AssistantMessage(strings.Join(f.chunks, ""), nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.record(input, opts)
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, chunk := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(chunk, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func drain(t *testing.T, sr *schema.StreamReader[*schema.Message]) []string {
	t.Helper()
	defer sr.Close()
	var out []string
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		out = append(out, msg.Content)
	}
}

func TestStreamCompletionFramesInput(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hel", "lo"}}
	svc, err := NewServiceWithModel(context.Background(), fake, nil, true)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	sr, err := svc.StreamCompletion(context.Background(), chatservice.GenerationRequest{
		SessionID: "s1",
		Input:     "What is FMLA?",
	})
	if err != nil {
		t.Fatalf("StreamCompletion err: %v", err)
	}
	if got := strings.Join(drain(t, sr), ""); got != "Hello" {
		t.Fatalf("unexpected stream: %q", got)
	}

	if len(fake.inputs) != 1 {
		t.Fatalf("expected one model call, got %d", len(fake.inputs))
	}
	msgs := fake.inputs[0]
	if len(msgs) != 2 || msgs[0].Role != schema.System || msgs[1].Role != schema.User {
		t.Fatalf("unexpected prompt messages: %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "HR and SHRM assistant") {
		t.Fatalf("unexpected system prompt: %q", msgs[0].Content)
	}
	if msgs[1].Content != "Respond helpfully to: What is FMLA?" {
		t.Fatalf("unexpected user prompt: %q", msgs[1].Content)
	}
	if fake.models[0] != "" {
		t.Fatalf("no model override expected, got %q", fake.models[0])
	}
}

func TestStreamCompletionModelOverride(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"ok"}}
	svc, err := NewServiceWithModel(context.Background(), fake, nil, true)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	sr, err := svc.StreamCompletion(context.Background(), chatservice.GenerationRequest{Input: "hi", Model: "premium"})
	if err != nil {
		t.Fatalf("StreamCompletion err: %v", err)
	}
	drain(t, sr)

	if fake.models[0] != "premium" {
		t.Fatalf("model = %q, want premium", fake.models[0])
	}
}

func TestStreamCompletionWithoutStreaming(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hel", "lo"}}
	svc, err := NewServiceWithModel(context.Background(), fake, nil, false)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	sr, err := svc.StreamCompletion(context.Background(), chatservice.GenerationRequest{Input: "hi"})
	if err != nil {
		t.Fatalf("StreamCompletion err: %v", err)
	}
	chunks := drain(t, sr)
	if len(chunks) != 1 || chunks[0] != "Hello" {
		t.Fatalf("expected one full chunk, got %q", chunks)
	}
	if fake.genCalls != 1 {
		t.Fatalf("expected Generate to be used, calls=%d", fake.genCalls)
	}
}

func TestLoadPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.toml")
	content := "system = \"You advise on {{input}}\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}

	p, err := LoadPrompt(path)
	if err != nil {
		t.Fatalf("LoadPrompt err: %v", err)
	}
	system, user := p.Format("payroll")
	if system != "You advise on payroll" {
		t.Fatalf("unexpected system: %q", system)
	}
	if user != "Respond helpfully to: payroll" {
		t.Fatalf("unexpected user: %q", user)
	}
}

func TestLoadPromptInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("system = "), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	if _, err := LoadPrompt(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPromptFormatWithoutPlaceholder(t *testing.T) {
	p := &Prompt{System: "Be brief.", User: "Answer carefully."}
	system, user := p.Format("What is COBRA?")
	if system != "Be brief." || user != "What is COBRA?" {
		t.Fatalf("unexpected framing: %q / %q", system, user)
	}
}
