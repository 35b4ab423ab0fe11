package ui

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// DisplayConfigContextKey is the key used to store DisplayConfig in context
type DisplayConfigContextKey struct{}

// GetDisplayConfigContextKey returns the key used to store DisplayConfig in context
func GetDisplayConfigContextKey() DisplayConfigContextKey {
	return DisplayConfigContextKey{}
}

// DisplayConfig contains display-related configuration
type DisplayConfig struct {
	DisableAnimation bool
	IsInteractive    bool
}

func (d DisplayConfig) SimpleOutput() bool {
	return !d.IsInteractive || d.DisableAnimation
}

// NewDisplayConfig extracts display options from persistent flags and TTY detection
func NewDisplayConfig(cmd *cobra.Command, verbose bool) (DisplayConfig, error) {
	// Persistent flags are inherited from the root command
	noColor, _ := cmd.Flags().GetBool("no-color")
	noAnsi, _ := cmd.Flags().GetBool("no-ansi")
	disableAnimationFlag, _ := cmd.Flags().GetBool("disable-animation")

	// We only check stdout because that's where the TUI output goes
	stdoutIsTTY := isatty.IsTerminal(os.Stdout.Fd())

	// If stdout and stderr are separate, verbose logs won't interfere with
	// the TUI, so verbose does not force simple output.
	stderrRedirectedToStdout := false
	if stat1, err1 := os.Stdout.Stat(); err1 == nil {
		if stat2, err2 := os.Stderr.Stat(); err2 == nil {
			stderrRedirectedToStdout = os.SameFile(stat1, stat2)
		}
	}

	disableAnimation := noColor || noAnsi || disableAnimationFlag
	verboseForcesSimpleOutput := verbose && stderrRedirectedToStdout

	isInteractive := stdoutIsTTY && !disableAnimation && !verboseForcesSimpleOutput

	opts := DisplayConfig{
		DisableAnimation: disableAnimation,
		IsInteractive:    isInteractive,
	}

	slog.Debug("Display options determined",
		"command", cmd.Name(),
		"stdout-is-tty", stdoutIsTTY,
		"disable-animation", disableAnimation,
		"is-interactive", isInteractive,
		"simple-output", opts.SimpleOutput(),
	)

	return opts, nil
}

// GetDisplayConfigFromContext retrieves DisplayConfig from the command context
func GetDisplayConfigFromContext(cmd *cobra.Command) (DisplayConfig, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return DisplayConfig{}, fmt.Errorf("command context is nil")
	}

	opts, ok := ctx.Value(GetDisplayConfigContextKey()).(DisplayConfig)
	if !ok {
		return DisplayConfig{}, fmt.Errorf("display options not found in context")
	}

	return opts, nil
}
