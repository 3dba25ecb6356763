package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/mealkit/internal/assistant"
	"github.com/kalambet/mealkit/internal/config"
	"github.com/kalambet/mealkit/internal/sanitize"
	"github.com/kalambet/mealkit/internal/storage"
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Chat with the meal assistant",
	Long: `Chat with the meal assistant.

Press Ctrl-C while a reply is pending to cancel it, or at the prompt to quit.
Type /clear to start a new conversation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Keep routine logs out of the conversation.
		logCfg := cfg.Log
		if !strings.EqualFold(logCfg.Level, "debug") {
			logCfg.Level = "warn"
		}
		if err := setupLogging(logCfg, os.Stderr); err != nil {
			return err
		}

		// Raw errors go to the diagnostics table, never to the terminal.
		var sink sanitize.Sink = sanitize.LogSink{}
		if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
			defer store.Close()
			sink = sanitize.StoreSink{Store: store}
		}
		sanitizer := sanitize.New(sink)

		m := assistant.New(newBackend(cfg).client, assistantOptions(cfg, sanitizer, nil))
		defer m.Close()

		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)

		return chatLoop(cmd.Context(), m, sanitizer, os.Stdin, interrupts)
	},
}

// chatLoop reads one message per line and prints each reply. An interrupt
// cancels the pending reply, or ends the loop when nothing is pending.
func chatLoop(ctx context.Context, m *assistant.Manager, s *sanitize.Sanitizer, in io.Reader, interrupts <-chan os.Signal) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64<<10), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Fprint(os.Stderr, colorize(colorBold, "you> "))

		var line string
		select {
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(os.Stderr)
				return nil
			}
			line = strings.TrimSpace(l)
		case <-interrupts:
			fmt.Fprintln(os.Stderr)
			return nil
		case <-ctx.Done():
			return nil
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			m.Clear()
			printSuccess("Started a new conversation")
			continue
		}

		if err := m.SubmitErr(ctx, line); err != nil {
			printError("%s", s.Present(ctx, err, "").UserMessage)
			continue
		}
		printStep(assistant.PlaceholderText)

		done := make(chan struct{})
		go func() {
			m.Wait()
			close(done)
		}()

		select {
		case <-done:
			if reply, ok := latestReply(m.Turns()); ok {
				printAssistant(reply.Text)
			}
		case <-interrupts:
			m.Cancel()
			printWarning("Cancelled")
		case <-ctx.Done():
			m.Cancel()
			return nil
		}
	}
}

// latestReply returns the last turn when it is a settled assistant turn.
func latestReply(turns []assistant.Turn) (assistant.Turn, bool) {
	if len(turns) == 0 {
		return assistant.Turn{}, false
	}
	last := turns[len(turns)-1]
	if last.Role != assistant.RoleAssistant || last.Pending {
		return assistant.Turn{}, false
	}
	return last, true
}
