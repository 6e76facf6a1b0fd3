package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/session"
	"ragchat/pkg/types"
)

const chatHelp = `Commands:
  /preset <name>  switch preset (reloads the model)
  /presets        list presets
  /stop           stop the running generation
  /quit           exit`

func newChatCmd(opts *rootOptions) *cobra.Command {
	var preset string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Prepare the model and chat with it in the terminal",
		Long:  "Interactive chat over the local engine.\n\n" + chatHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if preset != "" {
				cfg.DefaultPreset = preset
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "", "Preset to start with (overrides config)")
	return cmd
}

// runChat prepares the model, then reads prompts from in until EOF, /quit
// or ctx is done. Replies stream to out as they are generated.
func runChat(ctx context.Context, cfg config.Config, in io.Reader, out, errOut io.Writer) error {
	log := newLogger(cfg, errOut)
	bar := newProgressLine(out)
	svc := app.New(app.Options{
		Config: cfg,
		Logger: &log,
		OnProvision: func(st types.ProvisionStatus) {
			if st.Stage == app.StageCopying {
				bar.update(st.CopiedBytes, st.TotalBytes)
			}
		},
	})
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = svc.Close(cctx)
	}()

	fmt.Fprintln(out, titleStyle.Render("ragchat"), mutedStyle.Render("preparing model..."))
	res, err := svc.Prepare(ctx)
	bar.done()
	if err != nil {
		return err
	}
	if res.Cancelled {
		fmt.Fprintln(out, mutedStyle.Render("cancelled"))
		return nil
	}

	snaps, unsubscribe, err := svc.Subscribe(16)
	if err != nil {
		return err
	}
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	tr := &transcript{}
	fmt.Fprint(out, tr.update(svc.Session()))
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			fmt.Fprint(out, tr.update(snap))
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(svc, line, out)
			if err != nil {
				fmt.Fprintln(out, errorStyle.Render("!"), describeError(err))
			}
			if quit {
				return nil
			}
		}
	}
}

// chatService is the slice of app.Service the REPL drives.
type chatService interface {
	Presets() types.PresetsResponse
	SelectPreset(name string) error
	Send(prompt string) error
	Stop() error
}

// handleLine runs one line of input. It reports true when the REPL should exit.
func handleLine(svc chatService, line string, out io.Writer) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		fmt.Fprintln(out, userStyle.Render("you"), line)
		return false, svc.Send(line)
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "stop":
		return false, svc.Stop()
	case "preset":
		if arg == "" {
			return false, errors.New("usage: /preset <name>")
		}
		return false, svc.SelectPreset(arg)
	case "presets":
		ps := svc.Presets()
		for _, p := range ps.Presets {
			fmt.Fprintf(out, "  %s %s\n", p.Name, mutedStyle.Render(fmt.Sprintf("temp=%.2f top_p=%.2f max_tokens=%d", p.Temperature, p.TopP, p.MaxTokens)))
		}
		return false, nil
	case "help", "?":
		fmt.Fprintln(out, chatHelp)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", name)
	}
}

func describeError(err error) string {
	switch {
	case session.IsBusy(err):
		return "still generating; /stop to cancel"
	case app.IsNotReady(err):
		return "model is not ready yet"
	case session.IsUnknownPreset(err):
		return err.Error() + " (see /presets)"
	default:
		return err.Error()
	}
}

// transcript turns successive snapshots into incremental terminal output.
// User messages are not echoed; the REPL prints them when typed.
type transcript struct {
	lastID  int64
	openID  int64
	openLen int
	status  string
	phase   string
}

func (t *transcript) update(s types.SessionSnapshot) string {
	var b strings.Builder
	var open *types.Message
	for i := range s.Messages {
		m := &s.Messages[i]
		switch {
		case m.ID == t.openID:
			if len(m.Text) > t.openLen {
				b.WriteString(m.Text[t.openLen:])
				t.openLen = len(m.Text)
			}
			open = m
		case m.ID > t.lastID:
			t.lastID = m.ID
			if m.Author != types.AuthorBot {
				continue
			}
			if t.openID != 0 {
				b.WriteString("\n")
			}
			t.openID, t.openLen = m.ID, len(m.Text)
			b.WriteString(botStyle.Render("bot") + " " + m.Text)
			open = m
		}
	}
	if t.openID != 0 && s.Phase != string(session.PhaseGenerating) {
		b.WriteString("\n")
		if open != nil && open.Metrics != nil && open.Metrics.Tokens > 0 {
			fmt.Fprintf(&b, "%s\n", mutedStyle.Render(fmt.Sprintf("  %d tokens, %.1f tok/s, first token %dms",
				open.Metrics.Tokens, open.Metrics.TokensPerSec, open.Metrics.FirstTokenMs)))
		}
		t.openID, t.openLen = 0, 0
	}
	if t.openID == 0 && s.StatusMessage != t.status {
		t.status = s.StatusMessage
		if s.StatusMessage != "" {
			style := mutedStyle
			if s.Phase == string(session.PhaseFailed) {
				style = errorStyle
			}
			fmt.Fprintf(&b, "%s\n", style.Render("["+s.StatusMessage+"]"))
		}
	}
	if t.openID == 0 && s.Phase != t.phase {
		prev := t.phase
		t.phase = s.Phase
		if s.Phase == string(session.PhaseReady) && prev != string(session.PhaseGenerating) {
			label := "ready"
			if s.ActivePreset != nil {
				label += ", preset " + s.ActivePreset.Name
			}
			fmt.Fprintf(&b, "%s\n", mutedStyle.Render("["+label+"]"))
		}
	}
	return b.String()
}
