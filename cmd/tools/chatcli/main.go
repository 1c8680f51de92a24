package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/fireworks-chat/backend/internal/config"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/plan"
	"github.com/zhouzirui/fireworks-chat/backend/internal/service/ai"
	"github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
)

type options struct {
	anonymous  bool
	limit      int
	planID     string
	promptFile string
	greeting   string
	timeout    time.Duration
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "chatcli [message]",
		Short: "Chat with Fire Works AI from the terminal",
		Long: `chatcli runs a local conversation against the configured Ark model and
prints the reply as it streams.

With a message argument it sends that one message; otherwise it reads one
message per line from stdin until EOF. The --anonymous and --limit flags
simulate the visitor and signed-in message quotas.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if opts.promptFile != "" {
				cfg.AI.PromptFile = opts.promptFile
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			aiService, err := ai.NewService(ctx, cfg.AI)
			if err != nil {
				return fmt.Errorf("initializing AI service: %w", err)
			}

			p, _ := plan.NewMemoryStore(plan.Seed()).FindByID(opts.planID)
			session := chat.NewSession(aiService, chat.SessionOptions{
				OwnerID:  "chatcli",
				Identity: simulatedIdentity(opts),
				Greeting: opts.greeting,
				ModelFor: func(*identity.Identity) string { return cfg.AI.ModelFor(p.Premium) },
			})

			in := cmd.InOrStdin()
			if len(args) > 0 {
				in = strings.NewReader(strings.Join(args, " "))
			}
			return runConversation(ctx, session, in, cmd.OutOrStdout(), opts.timeout)
		},
	}

	cmd.Flags().BoolVar(&opts.anonymous, "anonymous", false, "chat as a visitor with the anonymous message quota")
	cmd.Flags().IntVar(&opts.limit, "limit", identity.DefaultMessageLimit, "message limit of the simulated account (-1 for unlimited)")
	cmd.Flags().StringVar(&opts.planID, "plan", plan.Free, "plan of the simulated account")
	cmd.Flags().StringVar(&opts.promptFile, "prompt", "", "TOML prompt file overriding PROMPT_FILE")
	cmd.Flags().StringVar(&opts.greeting, "greeting", "", "assistant greeting printed before the first message")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-reply timeout")

	return cmd
}

// simulatedIdentity returns nil for anonymous sessions.
func simulatedIdentity(opts options) *identity.Identity {
	if opts.anonymous {
		return nil
	}
	now := time.Now().UTC()
	return &identity.Identity{
		ID:          uuid.NewString(),
		Email:       "chatcli@localhost",
		DisplayName: "chatcli",
		Plan:        opts.planID,
		Badges:      []string{},
		MaxMessages: opts.limit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// runConversation submits every non-blank line of in and streams the replies to out.
func runConversation(ctx context.Context, session *chat.Session, in io.Reader, out io.Writer, timeout time.Duration) error {
	for _, msg := range session.Transcript() {
		fmt.Fprintf(out, "assistant> %s\n", msg.Content)
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if err := sendOne(ctx, session, line, out, timeout); err != nil {
			var quotaErr *chat.QuotaExceededError
			if errors.As(err, &quotaErr) {
				fmt.Fprintf(out, "quota> %d/%d messages used, %s to continue\n", quotaErr.Consumed, quotaErr.Limit, quotaErr.Remedy)
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}

func sendOne(ctx context.Context, session *chat.Session, text string, out io.Writer, timeout time.Duration) error {
	replyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := session.Submit(replyCtx, text)
	if err != nil {
		return err
	}

	fmt.Fprint(out, "assistant> ")
	streamed := false
	for {
		chunk, recvErr := reply.Recv(replyCtx)
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return recvErr
		}
		streamed = true
		fmt.Fprint(out, chunk)
	}

	outcome, err := reply.Wait(replyCtx)
	if err != nil {
		return err
	}
	if outcome.Err != nil {
		if streamed {
			fmt.Fprintln(out)
		}
		log.Printf("[chatcli] %v", outcome.Err)
		fmt.Fprint(out, outcome.Message.Content)
	}
	fmt.Fprintln(out)

	view := session.Snapshot().Quota
	if view.Remaining != identity.Unlimited {
		fmt.Fprintf(out, "quota> %d remaining\n", view.Remaining)
	}
	return nil
}
