package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/skyegpt/skyegpt-web/internal/backend"
	"github.com/skyegpt/skyegpt-web/internal/chat"
	"github.com/skyegpt/skyegpt-web/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

type askOptions struct {
	backendHost   string
	runtimeConfig string
	raw           bool
	wordWrap      int
	idleTimeout   time.Duration
	retries       int
	verbose       bool
}

var opts askOptions

// errUnanswered is returned when the question got no answer, so the process exits non-zero.
var errUnanswered = errors.New("no answer")

var rootCmd = &cobra.Command{
	Use:   "skyeask [question]",
	Short: "Ask SkyeGPT a question from the terminal",
	Long: `skyeask sends one question to the SkyeGPT backend and prints the streamed answer.

By default the answer is rendered as markdown once it is complete, while the
backend's status texts are shown as progress. With --raw the answer is printed
as it arrives. Press Ctrl-C to stop a running answer.`,
	Version:       version,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.Flags()
	flags.StringVar(&opts.backendHost, "backend", "", "backend base URL (default from the runtime config or BACKEND_HOST)")
	flags.StringVar(&opts.runtimeConfig, "runtime-config", "public/skyeconfig.json", "path of the runtime config file")
	flags.BoolVar(&opts.raw, "raw", false, "print the answer as it streams instead of rendering it")
	flags.IntVar(&opts.wordWrap, "width", 80, "word wrap width of the rendered answer")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", 0, "give up when the stream is silent this long (0 waits forever)")
	flags.IntVar(&opts.retries, "retries", 0, "retry failed or empty answers this many times")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log requests to stderr")
}

func runAsk(ctx context.Context, question string, stdout, stderr io.Writer) error {
	if err := config.LoadEnv(".env", ".env.local"); err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var hosts backend.HostResolver = config.NewRuntimeLoader(opts.runtimeConfig)
	if opts.backendHost != "" {
		hosts = config.NewStaticRuntimeLoader(config.Runtime{BackendHost: opts.backendHost})
	}
	client := backend.NewClient(hosts, nil, logger)

	convID, err := client.CreateConversation(ctx)
	if err != nil {
		return err
	}

	printer := newLivePrinter(stdout, stderr, opts.raw)
	chatOpts := []chat.Option{chat.WithLogger(logger), chat.WithIdleTimeout(opts.idleTimeout)}
	if opts.retries > 0 {
		p := chat.DefaultRetryPolicy
		p.MaxRetries = opts.retries
		chatOpts = append(chatOpts, chat.WithRetry(p))
	}
	c := chat.NewController(convID, client, printer, chatOpts...)
	defer c.Close()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	botID, err := c.Send(question)
	if err != nil {
		return err
	}

	done := make(chan chat.Outcome, 1)
	go func() { done <- c.Wait() }()

	var outcome chat.Outcome
	select {
	case outcome = <-done:
	case <-sigCtx.Done():
		c.Stop()
		outcome = <-done
	}
	printer.clearStatus()

	msg, _ := c.Message(botID)
	if opts.raw {
		printer.finish(msg.Text)
	} else if err := renderAnswer(stdout, msg.Text, opts.wordWrap); err != nil {
		return err
	}

	switch outcome {
	case chat.OutcomeCompleted, chat.OutcomeCancelled:
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnanswered, outcome)
	}
}

// renderAnswer renders text as markdown for the terminal, falling back to the plain text when the
// renderer cannot be created.
func renderAnswer(w io.Writer, text string, wordWrap int) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		_, err := fmt.Fprintln(w, text)
		return err
	}

	out, err := r.Render(text)
	if err != nil {
		return fmt.Errorf("failed to render answer: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
