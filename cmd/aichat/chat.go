package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/config"
	"github.com/user/aichat/internal/orchestrator"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation on stdin/stdout",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().String("mode", "general", "conversation mode: general or spec")
	chatCmd.Flags().String("resume", "", "resume a stored conversation by id")
	chatCmd.Flags().Bool("check", false, "validate the model API key before starting")
	rootCmd.AddCommand(chatCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr, false)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if check, _ := cmd.Flags().GetBool("check"); check {
		if err := a.ping(ctx); err != nil {
			return fmt.Errorf("model API key check failed: %w", err)
		}
		fmt.Fprintln(os.Stderr, "model API key ok")
	}

	var conv *orchestrator.Conversation
	if id, _ := cmd.Flags().GetString("resume"); id != "" {
		conv, err = a.orch.Open(ctx, id)
	} else {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, perr := orchestrator.ParseMode(modeFlag)
		if perr != nil {
			return perr
		}
		conv, err = a.orch.Create(ctx, mode)
	}
	if err != nil {
		return err
	}
	return runREPL(ctx, a.orch, conv, os.Stdin, os.Stdout)
}

// runREPL reads one user turn per line until EOF, /quit, or ctx ends.
func runREPL(ctx context.Context, orch *orchestrator.Orchestrator, conv *orchestrator.Conversation, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "conversation %s (%s mode). Commands: /history, /quit\n", conv.ID(), conv.Mode())
	printTurns(out, conv.Turns())

	lines, readErr := readLines(ctx, in)
	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return <-readErr
			}
			line = l
		}
		input := strings.TrimSpace(line)
		switch strings.ToLower(input) {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			printTurns(out, conv.Turns())
			continue
		}

		turns, err := orch.SubmitUserTurn(ctx, conv, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, orchestrator.ErrEmptyReply) {
				fmt.Fprintln(out, "(no reply)")
				continue
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printTurns(out, turns)
	}
}

// readLines scans in on its own goroutine so a blocked read never holds
// up cancellation. The error channel yields the scan error after lines
// is closed.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

func printTurns(out io.Writer, turns []agent.Turn) {
	for _, t := range turns {
		fmt.Fprintf(out, "[%s] %s\n", t.Label, t.Content)
		for _, s := range t.Suggestions {
			fmt.Fprintf(out, "  suggestion: %s\n", s)
		}
	}
}
