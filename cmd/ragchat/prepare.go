package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/provision"
	"ragchat/pkg/types"
)

func newPrepareCmd(opts *rootOptions) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Copy and verify the model artifact into the local store",
		Long:  "Copies the artifact named by the manifest into the store, resuming a partial copy when one exists. Ctrl+C cancels and removes the partial file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if model != "" {
				cfg.ModelName = model
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPrepare(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Manifest entry to prepare (default: first entry)")
	return cmd
}

// runPrepare provisions cfg's model and reports progress to out. Logs go to errOut.
func runPrepare(ctx context.Context, cfg config.Config, out, errOut io.Writer) error {
	log := newLogger(cfg, errOut)
	p := provision.New(app.NewSource(cfg), provision.Config{
		StoreDir:          cfg.StoreDir,
		ChunkSize:         cfg.ChunkSizeMB << 20,
		ProgressThreshold: int64(cfg.ProgressThresholdKB) << 10,
		Logger:            &log,
	})
	bar := newProgressLine(out)
	d, res, err := p.EnsureFromManifest(ctx, cfg.ManifestPath, cfg.ModelName, bar.update)
	bar.done()
	switch {
	case err != nil:
		if res.Reason != "" {
			return fmt.Errorf("%s: %w", res.Reason, err)
		}
		return err
	case res.Cancelled:
		fmt.Fprintln(out, mutedStyle.Render("cancelled; partial file removed"))
		return nil
	}
	summary := fmt.Sprintf("%s ready at %s (%s", d.Key(), res.Path, res.Reason)
	if res.Resumed {
		summary += ", resumed"
	}
	summary += ")"
	fmt.Fprintln(out, titleStyle.Render("✓"), summary)
	return nil
}

// progressLine redraws one line in place on a terminal and prints at most
// one line per 10% otherwise.
type progressLine struct {
	w        io.Writer
	tty      bool
	lastTick int
	drawn    bool
}

func newProgressLine(w io.Writer) *progressLine {
	return &progressLine{w: w, tty: isTerminal(w), lastTick: -1}
}

func (p *progressLine) update(copied, total int64) {
	line := renderProgress(copied, total)
	if p.tty {
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		p.drawn = true
		return
	}
	tick := 0
	if total > 0 {
		tick = int(copied * 10 / total)
	}
	if tick == p.lastTick {
		return
	}
	p.lastTick = tick
	fmt.Fprintln(p.w, line)
}

func (p *progressLine) done() {
	if p.tty && p.drawn {
		fmt.Fprintln(p.w)
	}
}

// renderProgress formats a progress report. total == 0 means unknown.
func renderProgress(copied, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("copying %s", humanBytes(copied))
	}
	pct := float64(copied) * 100 / float64(total)
	return fmt.Sprintf("copying %5.1f%%  %s / %s", pct, humanBytes(copied), humanBytes(total))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List verified artifacts in the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			arts, err := provision.ListInstalled(cfg.StoreDir)
			if err != nil {
				return err
			}
			writeArtifacts(cmd.OutOrStdout(), cfg.StoreDir, arts)
			return nil
		},
	}
}

func writeArtifacts(w io.Writer, store string, arts []types.InstalledArtifact) {
	if len(arts) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no models installed in "+store))
		return
	}
	for _, a := range arts {
		fmt.Fprintf(w, "%s  %s  %s\n", titleStyle.Render(a.Name+"@"+a.Version), humanBytes(a.SizeBytes), mutedStyle.Render(a.Path))
	}
}

func newPresetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List configured generation presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, p := range cfg.Presets {
				name := p.Name
				if p.Name == cfg.DefaultPreset {
					name += " (default)"
				}
				fmt.Fprintf(w, "%s  temp=%.2f top_p=%.2f max_tokens=%d ctx=%d\n",
					titleStyle.Render(name), p.Temperature, p.TopP, p.MaxTokens, p.ContextLength)
			}
			return nil
		},
	}
}
