package chat_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	chatmodel "github.com/zhouzirui/fireworks-chat/backend/internal/model/chat"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
	chat "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
	"github.com/zhouzirui/fireworks-chat/backend/internal/service/chat/chattest"
)

// manualCompleter hands every stream writer to the test.
type manualCompleter struct {
	writers chan *schema.StreamWriter[*schema.Message]
}

func newManualCompleter() *manualCompleter {
	return &manualCompleter{writers: make(chan *schema.StreamWriter[*schema.Message], 4)}
}

func (c *manualCompleter) StreamCompletion(_ context.Context, _ chat.GenerationRequest) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](8)
	c.writers <- sw
	return sr, nil
}

func (c *manualCompleter) next(t *testing.T) *schema.StreamWriter[*schema.Message] {
	t.Helper()
	select {
	case sw := <-c.writers:
		return sw
	case <-time.After(2 * time.Second):
		t.Fatal("completer was not called")
		return nil
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func submitAndWait(t *testing.T, sess *chat.Session, text string) chat.Outcome {
	t.Helper()
	ctx := testContext(t)
	reply, err := sess.Submit(ctx, text)
	if err != nil {
		t.Fatalf("Submit(%q) err: %v", text, err)
	}
	outcome, err := reply.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait err: %v", err)
	}
	return outcome
}

func recvChunk(t *testing.T, reply *chat.Reply) string {
	t.Helper()
	chunk, err := reply.Recv(testContext(t))
	if err != nil {
		t.Fatalf("Recv err: %v", err)
	}
	return chunk
}

func member(limit, consumed int) *identity.Identity {
	return &identity.Identity{
		ID:           "user-1",
		Email:        "ada@example.com",
		Plan:         "free",
		MaxMessages:  limit,
		MessageCount: consumed,
	}
}

func TestSubmitBlankInputIsNoop(t *testing.T) {
	completer := &chattest.Completer{Chunks: []string{"hi"}}
	sess := chat.NewSession(completer, chat.SessionOptions{})

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := sess.Submit(context.Background(), text); !errors.Is(err, chat.ErrEmptyInput) {
			t.Fatalf("Submit(%q) err = %v, want ErrEmptyInput", text, err)
		}
	}

	snap := sess.Snapshot()
	if len(snap.Transcript) != 0 {
		t.Fatalf("transcript mutated: %d entries", len(snap.Transcript))
	}
	if snap.Quota.Consumed != 0 {
		t.Fatalf("quota consumed = %d, want 0", snap.Quota.Consumed)
	}
	if len(completer.Requests()) != 0 {
		t.Fatal("completer should not be called for blank input")
	}
}

func TestSubmitAppendsTrimmedUserMessage(t *testing.T) {
	completer := &chattest.Completer{Chunks: []string{"ok"}}
	sess := chat.NewSession(completer, chat.SessionOptions{})

	reply, err := sess.Submit(testContext(t), "  What is FMLA?  ")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	transcript := sess.Transcript()
	if len(transcript) == 0 {
		t.Fatal("expected user message in transcript")
	}
	first := transcript[0]
	if first.Role != chatmodel.RoleUser || first.Content != "What is FMLA?" {
		t.Fatalf("unexpected user message: %+v", first)
	}
	if first.AuthorID != "" {
		t.Fatalf("anonymous message should have no author, got %q", first.AuthorID)
	}
	if reply.ID() != first.ID {
		t.Fatalf("reply id %s should match user message id %s", reply.ID(), first.ID)
	}
	if got := sess.Snapshot().Quota.Consumed; got != 1 {
		t.Fatalf("quota consumed = %d, want 1", got)
	}

	if _, err := reply.Wait(testContext(t)); err != nil {
		t.Fatalf("Wait err: %v", err)
	}
	reqs := completer.Requests()
	if len(reqs) != 1 || reqs[0].Input != "What is FMLA?" || reqs[0].SessionID != sess.ID() {
		t.Fatalf("unexpected generation requests: %+v", reqs)
	}
}

func TestStreamingAccumulatesThenFinalizes(t *testing.T) {
	completer := newManualCompleter()
	sess := chat.NewSession(completer, chat.SessionOptions{})

	reply, err := sess.Submit(testContext(t), "greet me")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	sw := completer.next(t)

	sw.Send(schema.AssistantMessage("Hel", nil), nil)
	if got := recvChunk(t, reply); got != "Hel" {
		t.Fatalf("first chunk = %q", got)
	}
	snap := sess.Snapshot()
	if snap.Pending == nil || snap.Pending.Text != "Hel" {
		t.Fatalf("pending = %+v, want Hel", snap.Pending)
	}
	if snap.Pending.State != chat.StateStreaming {
		t.Fatalf("pending state = %s, want streaming", snap.Pending.State)
	}
	if len(snap.Transcript) != 1 {
		t.Fatalf("partial text must not reach transcript, got %d entries", len(snap.Transcript))
	}

	sw.Send(schema.AssistantMessage("lo", nil), nil)
	if got := recvChunk(t, reply); got != "lo" {
		t.Fatalf("second chunk = %q", got)
	}
	if got := sess.Snapshot().Pending.Text; got != "Hello" {
		t.Fatalf("pending text = %q, want Hello", got)
	}

	sw.Close()
	if _, err := reply.Recv(testContext(t)); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after completion err = %v, want EOF", err)
	}

	outcome, err := reply.Wait(testContext(t))
	if err != nil {
		t.Fatalf("Wait err: %v", err)
	}
	if outcome.State != chat.StateFinalized || outcome.Err != nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	snap = sess.Snapshot()
	if snap.Pending != nil {
		t.Fatal("pending should be cleared after completion")
	}
	if len(snap.Transcript) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(snap.Transcript))
	}
	last := snap.Transcript[1]
	if last.Role != chatmodel.RoleAssistant || last.Content != "Hello" {
		t.Fatalf("final entry = %+v, want assistant Hello", last)
	}
	if last.ID != outcome.Message.ID {
		t.Fatal("outcome message should be the appended entry")
	}
}

func TestStreamErrorAppendsFallback(t *testing.T) {
	completer := &chattest.Completer{Chunks: []string{"Hel"}, Err: errors.New("upstream reset")}
	sess := chat.NewSession(completer, chat.SessionOptions{})

	outcome := submitAndWait(t, sess, "hello")
	if outcome.State != chat.StateFailed {
		t.Fatalf("state = %s, want failed", outcome.State)
	}
	if !errors.Is(outcome.Err, chat.ErrGenerationFailed) {
		t.Fatalf("outcome err = %v, want ErrGenerationFailed", outcome.Err)
	}

	transcript := sess.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(transcript))
	}
	if got := transcript[1].Content; got != chat.FallbackReply {
		t.Fatalf("final entry = %q, want fallback", got)
	}
	for _, msg := range transcript {
		if strings.Contains(msg.Content, "Hel") && msg.Role == chatmodel.RoleAssistant {
			t.Fatal("partial text leaked into transcript")
		}
	}
	if sess.Snapshot().Pending != nil {
		t.Fatal("pending should be discarded")
	}
}

func TestDispatchErrorFailsWithoutStreaming(t *testing.T) {
	completer := &chattest.Completer{DispatchErr: errors.New("no credentials")}
	sess := chat.NewSession(completer, chat.SessionOptions{})

	ctx := testContext(t)
	reply, err := sess.Submit(ctx, "hello")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if _, err := reply.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv err = %v, want EOF without chunks", err)
	}
	outcome, _ := reply.Wait(ctx)
	if outcome.State != chat.StateFailed || outcome.Message.Content != chat.FallbackReply {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := sess.Snapshot().Quota.Consumed; got != 1 {
		t.Fatalf("failed generation must still consume quota, consumed = %d", got)
	}
}

func TestEmptyCompletionFallsBack(t *testing.T) {
	sess := chat.NewSession(&chattest.Completer{}, chat.SessionOptions{})

	outcome := submitAndWait(t, sess, "hello")
	if outcome.State != chat.StateFailed {
		t.Fatalf("state = %s, want failed", outcome.State)
	}
	for _, msg := range sess.Transcript() {
		if msg.Content == "" {
			t.Fatal("transcript must not contain empty messages")
		}
	}
}

func TestSubmitWhileStreamingIsRejected(t *testing.T) {
	completer := newManualCompleter()
	sess := chat.NewSession(completer, chat.SessionOptions{})

	reply, err := sess.Submit(testContext(t), "first")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	sw := completer.next(t)

	if _, err := sess.Submit(testContext(t), "second"); !errors.Is(err, chat.ErrBusy) {
		t.Fatalf("re-entrant Submit err = %v, want ErrBusy", err)
	}
	if !sess.Busy() {
		t.Fatal("session should report busy")
	}
	if got := sess.Snapshot().Quota.Consumed; got != 1 {
		t.Fatalf("rejected submit consumed quota: %d", got)
	}

	sw.Send(schema.AssistantMessage("done", nil), nil)
	sw.Close()
	if _, err := reply.Wait(testContext(t)); err != nil {
		t.Fatalf("Wait err: %v", err)
	}
	if sess.Busy() {
		t.Fatal("session should be idle after completion")
	}
}

func TestCancelDiscardsPartialText(t *testing.T) {
	sess := chat.NewSession(cancelAwareCompleter{}, chat.SessionOptions{})

	ctx := testContext(t)
	reply, err := sess.Submit(ctx, "long answer please")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if got := recvChunk(t, reply); got != "partial" {
		t.Fatalf("chunk = %q", got)
	}

	if !sess.Cancel() {
		t.Fatal("Cancel should report an in-flight reply")
	}
	outcome, err := reply.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait err: %v", err)
	}
	if outcome.State != chat.StateFailed || !errors.Is(outcome.Err, context.Canceled) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := sess.Transcript()[1].Content; got != chat.FallbackReply {
		t.Fatalf("final entry = %q, want fallback", got)
	}
	if sess.Cancel() {
		t.Fatal("Cancel on idle session should report false")
	}
}

func TestCancelBeforeStreamEndDiscardsPartialText(t *testing.T) {
	completer := newManualCompleter()
	sess := chat.NewSession(completer, chat.SessionOptions{})

	ctx := testContext(t)
	reply, err := sess.Submit(ctx, "explain FMLA")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	sw := completer.next(t)
	sw.Send(schema.AssistantMessage("Hel", nil), nil)
	if got := recvChunk(t, reply); got != "Hel" {
		t.Fatalf("chunk = %q", got)
	}

	if !sess.Cancel() {
		t.Fatal("Cancel should report an in-flight reply")
	}
	sw.Close()

	outcome, err := reply.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait err: %v", err)
	}
	if outcome.State != chat.StateFailed || !errors.Is(outcome.Err, context.Canceled) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	transcript := sess.Transcript()
	if last := transcript[len(transcript)-1]; last.Content != chat.FallbackReply {
		t.Fatalf("final entry = %q, want fallback", last.Content)
	}
}

func TestCallerContextCancelledBeforeStreamEnd(t *testing.T) {
	completer := newManualCompleter()
	sess := chat.NewSession(completer, chat.SessionOptions{})

	callerCtx, cancel := context.WithCancel(context.Background())
	reply, err := sess.Submit(callerCtx, "explain FMLA")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	sw := completer.next(t)
	sw.Send(schema.AssistantMessage("Hel", nil), nil)
	recvChunk(t, reply)

	cancel()
	sw.Close()

	outcome, err := reply.Wait(testContext(t))
	if err != nil {
		t.Fatalf("Wait err: %v", err)
	}
	if outcome.State != chat.StateFailed || outcome.Message.Content != chat.FallbackReply {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

// cancelAwareCompleter emits one chunk and then waits for cancellation.
type cancelAwareCompleter struct{}

func (cancelAwareCompleter) StreamCompletion(ctx context.Context, _ chat.GenerationRequest) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](2)
	go func() {
		defer sw.Close()
		sw.Send(schema.AssistantMessage("partial", nil), nil)
		<-ctx.Done()
		sw.Send(nil, ctx.Err())
	}()
	return sr, nil
}

func TestAnonymousQuota(t *testing.T) {
	sess := chat.NewSession(&chattest.Completer{Chunks: []string{"answer"}}, chat.SessionOptions{})

	for i := 0; i < identity.AnonymousMessageLimit; i++ {
		if !sess.CanSend() {
			t.Fatalf("CanSend false after %d submissions", i)
		}
		submitAndWait(t, sess, "question")
	}
	if sess.CanSend() {
		t.Fatal("CanSend should be false after 3 anonymous submissions")
	}

	before := len(sess.Transcript())
	_, err := sess.Submit(context.Background(), "one more")
	var quotaErr *chat.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("Submit err = %v, want QuotaExceededError", err)
	}
	if quotaErr.Remedy != chat.RemedyAuthenticate {
		t.Fatalf("remedy = %s, want authenticate", quotaErr.Remedy)
	}
	if !errors.Is(err, chat.ErrQuotaExceeded) {
		t.Fatal("quota error should match ErrQuotaExceeded")
	}
	if got := len(sess.Transcript()); got != before {
		t.Fatalf("transcript changed from %d to %d", before, got)
	}

	sess.SetIdentity(member(identity.DefaultMessageLimit, 0))
	if !sess.CanSend() {
		t.Fatal("CanSend should be true once an identity is attached")
	}

	sess.SetIdentity(nil)
	if sess.CanSend() {
		t.Fatal("signing out must not reset the anonymous counter")
	}
}

func TestAuthenticatedAtLimitNeedsUpgrade(t *testing.T) {
	sess := chat.NewSession(&chattest.Completer{Chunks: []string{"x"}}, chat.SessionOptions{
		Identity: member(50, 50),
	})

	_, err := sess.Submit(context.Background(), "hello")
	var quotaErr *chat.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("Submit err = %v, want QuotaExceededError", err)
	}
	if quotaErr.Remedy != chat.RemedyUpgrade {
		t.Fatalf("remedy = %s, want upgrade", quotaErr.Remedy)
	}
	if quotaErr.Consumed != 50 || quotaErr.Limit != 50 {
		t.Fatalf("unexpected quota numbers: %+v", quotaErr)
	}
}

func TestUnlimitedIdentityAlwaysSends(t *testing.T) {
	sess := chat.NewSession(&chattest.Completer{Chunks: []string{"x"}}, chat.SessionOptions{
		Identity: member(identity.Unlimited, 10_000),
	})

	for i := 0; i < 5; i++ {
		submitAndWait(t, sess, "again")
	}
	if !sess.CanSend() {
		t.Fatal("unlimited identity should always be able to send")
	}
	q := sess.Snapshot().Quota
	if q.Limit != identity.Unlimited || q.Remaining != identity.Unlimited {
		t.Fatalf("unexpected quota view: %+v", q)
	}
}

func TestAuthenticatedSubmitRecordsAuthorAndConsumes(t *testing.T) {
	sess := chat.NewSession(&chattest.Completer{Chunks: []string{"x"}}, chat.SessionOptions{
		Identity: member(50, 7),
	})

	submitAndWait(t, sess, "hello")

	if got := sess.Transcript()[0].AuthorID; got != "user-1" {
		t.Fatalf("author = %q, want user-1", got)
	}
	q := sess.Snapshot().Quota
	if q.Anonymous || q.Consumed != 8 || q.Remaining != 42 {
		t.Fatalf("unexpected quota view: %+v", q)
	}
}

func TestSetIdentityKeepsHigherCount(t *testing.T) {
	sess := chat.NewSession(&chattest.Completer{Chunks: []string{"x"}}, chat.SessionOptions{
		Identity: member(50, 3),
	})
	submitAndWait(t, sess, "hello")

	sess.SetIdentity(member(50, 2))
	if got := sess.Snapshot().Quota.Consumed; got != 4 {
		t.Fatalf("stale snapshot lowered consumed to %d", got)
	}

	sess.SetIdentity(member(50, 9))
	if got := sess.Snapshot().Quota.Consumed; got != 9 {
		t.Fatalf("consumed = %d, want provider count 9", got)
	}

	other := member(500, 1)
	other.ID = "user-2"
	sess.SetIdentity(other)
	if got := sess.Snapshot().Quota.Consumed; got != 1 {
		t.Fatalf("new identity should start from its own count, got %d", got)
	}
}

func TestModelSelection(t *testing.T) {
	completer := &chattest.Completer{Chunks: []string{"x"}}
	sess := chat.NewSession(completer, chat.SessionOptions{
		Identity: member(identity.Unlimited, 0),
		ModelFor: func(id *identity.Identity) string {
			if id != nil && id.Unbounded() {
				return "premium-model"
			}
			return ""
		},
	})

	submitAndWait(t, sess, "hello")
	if got := completer.Requests()[0].Model; got != "premium-model" {
		t.Fatalf("model = %q, want premium-model", got)
	}
}

func TestGreetingSeedsTranscript(t *testing.T) {
	sess := chat.NewSession(&chattest.Completer{}, chat.SessionOptions{Greeting: "Hi there"})

	transcript := sess.Transcript()
	if len(transcript) != 1 || transcript[0].Role != chatmodel.RoleAssistant {
		t.Fatalf("unexpected greeting transcript: %+v", transcript)
	}
	if sess.Snapshot().Quota.Consumed != 0 {
		t.Fatal("greeting must not consume quota")
	}
}

func TestMessageIDsAreOrdered(t *testing.T) {
	sess := chat.NewSession(&chattest.Completer{Chunks: []string{"x"}}, chat.SessionOptions{})
	submitAndWait(t, sess, "one")
	submitAndWait(t, sess, "two")

	transcript := sess.Transcript()
	seen := make(map[string]bool)
	for i, msg := range transcript {
		if seen[msg.ID] {
			t.Fatalf("duplicate message id %s", msg.ID)
		}
		seen[msg.ID] = true
		if i > 0 && msg.ID <= transcript[i-1].ID {
			t.Fatalf("message ids not increasing: %s then %s", transcript[i-1].ID, msg.ID)
		}
	}
}
