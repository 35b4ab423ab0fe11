package commands

import (
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/shuttlefile/shuttle/internal/capability"
	"github.com/shuttlefile/shuttle/internal/codec"
	"github.com/shuttlefile/shuttle/internal/transport"
)

func fullProfile() *capability.Profile {
	return &capability.Profile{
		EndpointKey: "http://files.example.com",
		Formats: map[codec.Format]struct{}{
			codec.FormatBinary: {},
			codec.FormatText:   {},
		},
		Features: map[string]struct{}{
			capability.FeatureRange:    {},
			capability.FeatureChecksum: {},
		},
		Recommended: codec.FormatBinary,
	}
}

func TestRenderProbe(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)

	t.Run("rangeable resource", func(t *testing.T) {
		info := transport.ProbeInfo{Size: 4 << 20, Rangeable: true, Checksum: "sha256:abc"}
		out := renderProbe("data/model.bin", info, fullProfile(), true)
		g.Assert(t, "probe_rangeable", []byte(out))
	})

	t.Run("plain endpoint falls back to text", func(t *testing.T) {
		info := transport.ProbeInfo{Rangeable: false}
		profile := capability.Fallback("http://plain.example.com", time.Now().Add(5*time.Minute))
		out := renderProbe("notes.txt", info, profile, true)
		g.Assert(t, "probe_fallback", []byte(out))
	})

	t.Run("styled output carries the same facts", func(t *testing.T) {
		info := transport.ProbeInfo{Size: 4 << 20, Rangeable: true}
		out := renderProbe("data/model.bin", info, fullProfile(), false)
		assert.Contains(t, out, "Probe: data/model.bin")
		assert.Contains(t, out, "binary (recommended)")
		assert.Contains(t, out, "✓ yes")
		assert.Contains(t, out, "Checksum, Range")
	})
}

func TestYesNo(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	assert.Equal(t, "yes", yesNo(true, true))
	assert.Equal(t, "no", yesNo(false, true))
	assert.Equal(t, "✓ yes", yesNo(true, false))
	assert.Equal(t, "✗ no", yesNo(false, false))
}
