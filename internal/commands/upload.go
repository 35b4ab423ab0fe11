package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/shuttlefile/shuttle/internal/files"
	"github.com/shuttlefile/shuttle/internal/ui"
	"github.com/shuttlefile/shuttle/internal/ui/commands/transferview"
	"github.com/shuttlefile/shuttle/pkg/crashreport"
)

func NewUploadCmd() *cobra.Command {
	var flags transferFlags

	cmd := &cobra.Command{
		Use:   "upload <local_path> [resource]",
		Short: "Upload a file or directory in adaptive chunks",
		Long: `Upload a file to the configured endpoint in concurrent chunks.

The chunk size adapts to observed throughput, failed chunks are retried
with backoff, and the upload is finalized only when every chunk landed.

A directory is uploaded file by file, filtered by the include/exclude
patterns in shuttle.toml.

Examples:
  shuttle upload report.pdf                      # Upload as /report.pdf
  shuttle upload report.pdf archive/report.pdf   # Upload under a different name
  shuttle upload data/ datasets/v2               # Upload matching files under a prefix
  shuttle upload big.iso --concurrency 8         # More chunks in flight
  shuttle upload big.iso --transport socket      # Persistent socket transport`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args, flags)
		},
	}

	addTransferFlags(cmd, &flags)

	return cmd
}

func runUpload(cmd *cobra.Command, args []string, flags transferFlags) error {
	// Suppress Cobra's default error handling
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	crashreport.SetCommandContext("upload", args)

	localPath := args[0]
	resource := ""
	if len(args) > 1 {
		resource = args[1]
	} else {
		resource = filepath.Base(filepath.Clean(localPath))
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return ui.NewFileSystemError(fmt.Errorf("failed to stat %s: %w", localPath, err))
	}

	setup, err := resolveTransfer(cmd, flags)
	if err != nil {
		return err
	}
	defer setup.pool.Close() //nolint:errcheck // Shutdown path, error not actionable

	if fi.IsDir() {
		return runDirectoryUpload(cmd, setup, localPath, resource)
	}

	return runTransferView(cmd, setup, transferview.Config{
		Direction: "upload",
		Endpoint:  setup.endpoint,
		LocalPath: localPath,
		Resource:  resource,
	})
}

// uploadTarget pairs a file on disk with the resource it uploads to.
type uploadTarget struct {
	LocalPath string
	Resource  string
}

// collectUploadTargets expands a directory into the files selected by the
// include/exclude patterns, each mapped under the resource prefix.
func collectUploadTargets(root, prefix string, include, exclude []string) ([]uploadTarget, error) {
	selected, err := files.Selected(root, include, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	targets := make([]uploadTarget, 0, len(selected))
	for _, rel := range selected {
		targets = append(targets, uploadTarget{
			LocalPath: filepath.Join(root, filepath.FromSlash(rel)),
			Resource:  path.Join(prefix, rel),
		})
	}
	return targets, nil
}

// runDirectoryUpload uploads each selected file in turn. One failed file
// stops the batch; files already uploaded stay uploaded.
func runDirectoryUpload(cmd *cobra.Command, setup *transferSetup, root, prefix string) error {
	targets, err := collectUploadTargets(root, prefix, setup.include, setup.exclude)
	if err != nil {
		return ui.NewFileSystemError(err)
	}
	if len(targets) == 0 {
		return ui.NewValidationError(fmt.Errorf("no files in %s match the configured include patterns", root))
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for i, target := range targets {
		fmt.Fprintf(out, "[%d/%d] Uploading %s\n", i+1, len(targets), target.Resource)
		res := setup.engine.Upload(ctx, setup.endpoint, target.LocalPath, target.Resource, setup.options)
		if res.Cancelled {
			return ui.NewUserCancelledError()
		}
		if !res.Success {
			return ui.NewTransportError(fmt.Errorf("failed to upload %s: %w", target.LocalPath, res.Err))
		}
		fmt.Fprintf(out, "%s %s (%s)\n", ui.SuccessStyle.Render("✓"), target.Resource, ui.FormatBytes(res.BytesTransferred))
	}
	fmt.Fprintf(out, "Uploaded %d files from %s\n", len(targets), root)
	return nil
}

// runTransferView drives one transfer through the Bubbletea view and maps
// the outcome to a command error.
func runTransferView(cmd *cobra.Command, setup *transferSetup, conf transferview.Config) error {
	displayOpts, err := ui.GetDisplayConfigFromContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to get display options: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	conf.DisplayConfig = displayOpts
	conf.Engine = setup.engine
	conf.Options = setup.options

	model := transferview.New(ctx, cancel, conf)

	var programOpts []tea.ProgramOption
	if !displayOpts.IsInteractive {
		programOpts = append(programOpts,
			tea.WithoutRenderer(),
			tea.WithInput(nil),
		)
	}

	p := tea.NewProgram(model, programOpts...)
	ui.SetupSignalHandling(p, 0)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("ui error: %w", err)
	}

	m, ok := finalModel.(*transferview.TransferView)
	if !ok {
		return fmt.Errorf("unexpected model type")
	}

	// Handle UIError - check if it should be silent
	var uiErr *ui.UIError
	if errors.As(m.Error(), &uiErr) {
		if !uiErr.SilentExit {
			return uiErr
		}
		return nil
	}

	return m.Error()
}
