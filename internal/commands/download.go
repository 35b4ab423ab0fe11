package commands

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shuttlefile/shuttle/internal/ui/commands/transferview"
	"github.com/shuttlefile/shuttle/pkg/crashreport"
)

func NewDownloadCmd() *cobra.Command {
	var flags transferFlags

	cmd := &cobra.Command{
		Use:   "download <resource> [local_path]",
		Short: "Download a file in adaptive chunks",
		Long: `Download a resource from the configured endpoint in concurrent chunks.

When the endpoint serves byte ranges, chunks are fetched in parallel and
written in place; otherwise the download falls back to a single stream.

Examples:
  shuttle download report.pdf                    # Save as ./report.pdf
  shuttle download archive/report.pdf out.pdf    # Save under a different name
  shuttle download big.iso --quality slow        # Smaller chunks for a bad link`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, args, flags)
		},
	}

	addTransferFlags(cmd, &flags)

	return cmd
}

func runDownload(cmd *cobra.Command, args []string, flags transferFlags) error {
	// Suppress Cobra's default error handling
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	crashreport.SetCommandContext("download", args)

	resource := args[0]
	localPath := ""
	if len(args) > 1 {
		localPath = args[1]
	} else {
		localPath = path.Base(strings.TrimSuffix(resource, "/"))
		if localPath == "" || localPath == "." || localPath == "/" {
			localPath = "download"
		}
	}
	localPath = filepath.Clean(localPath)

	setup, err := resolveTransfer(cmd, flags)
	if err != nil {
		return err
	}
	defer setup.pool.Close() //nolint:errcheck // Shutdown path, error not actionable

	return runTransferView(cmd, setup, transferview.Config{
		Direction: "download",
		Endpoint:  setup.endpoint,
		LocalPath: localPath,
		Resource:  resource,
	})
}
