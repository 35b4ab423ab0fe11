package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/shuttlefile/shuttle/internal/capability"
	"github.com/shuttlefile/shuttle/internal/codec"
	"github.com/shuttlefile/shuttle/internal/transport"
	"github.com/shuttlefile/shuttle/internal/ui"
	"github.com/shuttlefile/shuttle/pkg/crashreport"
)

func NewProbeCmd() *cobra.Command {
	var flags transferFlags

	cmd := &cobra.Command{
		Use:   "probe <resource>",
		Short: "Probe a resource and the endpoint's capabilities",
		Long: `Probe a resource on the configured endpoint without transferring it.

Reports the resource size, whether the endpoint serves byte ranges, and
the negotiated capability profile (wire formats and features).

Examples:
  shuttle probe report.pdf
  shuttle probe big.iso --transport socket`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args, flags)
		},
	}

	addTransferFlags(cmd, &flags)

	return cmd
}

func runProbe(cmd *cobra.Command, args []string, flags transferFlags) error {
	cmd.SilenceUsage = true

	crashreport.SetCommandContext("probe", args)

	resource := args[0]

	displayOpts, err := ui.GetDisplayConfigFromContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to get display options: %w", err)
	}

	setup, err := resolveTransfer(cmd, flags)
	if err != nil {
		return err
	}
	defer setup.pool.Close() //nolint:errcheck // Shutdown path, error not actionable

	ctx := cmd.Context()

	entry, err := setup.pool.Acquire(ctx, setup.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", setup.endpoint, err)
	}
	defer setup.pool.Release(setup.endpoint)

	info, err := entry.Transport.Probe(ctx, resource)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	endpointKey, err := transport.EndpointKey(setup.endpoint)
	if err != nil {
		return err
	}
	profile := setup.engine.Negotiator().Negotiate(ctx, endpointKey)

	fmt.Print(renderProbe(resource, info, profile, displayOpts.SimpleOutput()))
	return nil
}

// renderProbe formats the probe report. Plain text in simple mode, styled
// otherwise.
func renderProbe(resource string, info transport.ProbeInfo, profile *capability.Profile, simple bool) string {
	var b strings.Builder

	title := "Probe: " + resource
	if simple {
		b.WriteString(title + "\n\n")
	} else {
		b.WriteString(ui.TitleStyle.Render(title) + "\n\n")
	}

	size := "unknown"
	if info.Size > 0 {
		size = fmt.Sprintf("%s (%d bytes)", ui.FormatBytes(info.Size), info.Size)
	}
	b.WriteString(fmt.Sprintf("%-16s %s\n", "Size:", size))
	b.WriteString(fmt.Sprintf("%-16s %s\n", "Byte ranges:", yesNo(info.Rangeable, simple)))
	if info.Checksum != "" {
		b.WriteString(fmt.Sprintf("%-16s %s\n", "Checksum:", info.Checksum))
	}

	b.WriteString("\n")
	if simple {
		b.WriteString("Negotiated Capabilities\n")
	} else {
		b.WriteString(ui.HeaderStyle.Render("Negotiated Capabilities") + "\n")
	}

	// Formats in protocol preference order, negotiated recommendation marked.
	var formats []string
	for _, f := range codec.Priority {
		if !profile.Supports(f) {
			continue
		}
		name := string(f)
		if f == profile.Recommended {
			name += " (recommended)"
		}
		formats = append(formats, name)
	}
	b.WriteString(fmt.Sprintf("%-16s %s\n", "Formats:", strings.Join(formats, ", ")))

	features := make([]string, 0, len(profile.Features))
	caser := cases.Title(language.English)
	for feature := range profile.Features {
		features = append(features, caser.String(strings.ReplaceAll(feature, "-", " ")))
	}
	sort.Strings(features)
	b.WriteString(fmt.Sprintf("%-16s %s\n", "Features:", strings.Join(features, ", ")))

	return b.String()
}

func yesNo(v, simple bool) string {
	if v {
		if simple {
			return "yes"
		}
		return ui.GreenStyle.Render("✓ yes")
	}
	if simple {
		return "no"
	}
	return ui.YellowStyle.Render("✗ no")
}
