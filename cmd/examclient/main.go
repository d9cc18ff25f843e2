package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/api"
	"github.com/voxiscribe/examclient/internal/config"
	"github.com/voxiscribe/examclient/internal/logger"
	"github.com/voxiscribe/examclient/internal/session"
	"github.com/voxiscribe/examclient/internal/validator"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func main() {
	examFile := flag.String("exam", "exam.json", "path to the exam session document")
	noCamera := flag.Bool("no-camera", false, "simulate a denied camera permission")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	if cfg.LogFormat == "" && term.IsTerminal(int(os.Stderr.Fd())) {
		cfg.LogFormat = "pretty"
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("server", cfg.ServerURL).
		Str("exam_file", *examFile).
		Str("log_level", cfg.LogLevel).
		Msg("Starting exam client")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	// ─── Read Exam Document ────────────────────────────────────────────
	raw, err := os.ReadFile(*examFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", *examFile).Msg("Failed to read exam document")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Wire Session ──────────────────────────────────────────────────
	client := api.NewClient(cfg, log)
	engine := &consoleEngine{}
	source := &syntheticSource{deny: *noCamera}
	ui := &consoleUI{}

	controller := session.New(cfg, client, engine, source, ui, consoleSynth{}, log)
	defer controller.Dispose()

	if err := controller.Load(ctx, raw); err != nil {
		log.Fatal().Err(err).Msg("Session failed to start")
	}

	// ─── Command Loop ──────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return commandLoop(gctx, controller, engine, ui)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Client stopped")
	}
	log.Info().Msg("Shutdown complete")
}

// commandLoop reads console commands until stdin closes, the exam is
// submitted, or the context is cancelled. Input is processed on its own
// goroutine so a blocked read never stalls session callbacks.
func commandLoop(ctx context.Context, c *session.Controller, engine *consoleEngine, ui *consoleUI) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	printHelp()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := dispatch(ctx, c, engine, ui, line); done {
				return nil
			}
			if c.Submitted() {
				return nil
			}
		}
	}
}

// dispatch executes one console command. Returns true when the loop
// should end.
func dispatch(ctx context.Context, c *session.Controller, engine *consoleEngine, ui *consoleUI, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(cmd) {
	case "":
	case "help", "?":
		printHelp()
	case "next", "n":
		c.Next()
	case "prev", "p":
		c.Previous()
	case "goto", "g":
		var idx int
		if _, err := fmt.Sscanf(arg, "%d", &idx); err != nil {
			ui.ShowWarning("usage: goto <question number>")
			break
		}
		c.GoTo(idx - 1)
	case "select", "s":
		if err := c.SetDraftOption(arg); err != nil {
			ui.ShowWarning(err.Error())
		}
	case "answer", "a":
		c.SetDraftText(arg)
	case "mark", "m":
		c.ToggleMarkForReview()
	case "repeat", "r":
		c.RepeatQuestion()
	case "say":
		// Feed text into the speech pipeline, wakeword phase included:
		// `say start answering`, then `say The answer is oxygen.`
		engine.Say(arg)
	case "dictate":
		if err := c.StartDictation(); err != nil {
			ui.ShowWarning(err.Error())
		}
	case "stopdictate":
		c.StopDictation()
	case "submit":
		if err := c.Submit(ctx); err != nil {
			return false
		}
		return c.Submitted()
	case "quit", "exit", "q":
		return true
	default:
		ui.ShowWarning("unknown command " + cmd + " (try: help)")
	}
	return false
}

func printHelp() {
	fmt.Print(`commands:
  next / prev / goto <n>   navigate questions
  select <A-E>             choose an option
  answer <text>            set free text answer
  mark                     toggle mark for review
  repeat                   read the question aloud again
  say <text>               simulate speech ("say start answering" wakes dictation)
  dictate / stopdictate    control dictation directly
  submit                   finish the exam
  quit                     leave without submitting
`)
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
