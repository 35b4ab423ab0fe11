// Package transferview renders one upload or download: a live progress bar
// in interactive terminals, decile progress lines otherwise.
package transferview

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shuttlefile/shuttle/internal/transfer"
	"github.com/shuttlefile/shuttle/internal/ui"
)

type State int

const (
	StateConnecting State = iota
	StateTransferring
	StateSuccess
	StateError
)

// Config wires a TransferView to the engine.
type Config struct {
	ui.DisplayConfig

	Engine    *transfer.Engine
	Direction string // "upload" or "download"
	Endpoint  string
	LocalPath string
	Resource  string
	Options   transfer.Options
}

// TransferView drives one transfer and renders its progress.
type TransferView struct {
	ctx    context.Context
	cancel context.CancelFunc

	state       State
	startTime   time.Time
	speed       float64 // cached bytes/sec
	spinner     *ui.SpinnerModel
	progressBar progress.Model
	result      transfer.Result
	err         error

	atomicLoaded *atomic.Int64
	atomicTotal  *atomic.Int64

	lastPrintedPercent int // Track last printed percentage for SimpleOutput

	conf Config
}

// New creates a transfer view. The context governs the transfer; cancel is
// invoked on user cancellation.
func New(ctx context.Context, cancel context.CancelFunc, conf Config) *TransferView {
	prog := progress.New(
		progress.WithSolidFill("#2AB7CA"),
		progress.WithWidth(progressBarWidth),
		progress.WithoutPercentage(),
	)

	return &TransferView{
		ctx:          ctx,
		cancel:       cancel,
		state:        StateConnecting,
		spinner:      ui.NewSpinner(),
		progressBar:  prog,
		atomicLoaded: &atomic.Int64{},
		atomicTotal:  &atomic.Int64{},
		conf:         conf,
	}
}

// Error returns the error if any occurred during execution
func (m *TransferView) Error() error {
	return m.err
}

// Result returns the transfer result once the view has quit.
func (m *TransferView) Result() transfer.Result {
	return m.result
}

func (m *TransferView) Init() tea.Cmd {
	m.startTime = time.Now()
	return tea.Batch(m.spinner.Init(), m.runTransfer, m.tickProgress())
}

type transferDoneMsg struct {
	result transfer.Result
}

type progressTickMsg time.Time

// runTransfer executes the whole transfer on a background goroutine and
// reports the result as a single message.
func (m *TransferView) runTransfer() tea.Msg {
	opts := m.conf.Options
	opts.Progress = func(loaded, total int64, percent float64) {
		m.atomicLoaded.Store(loaded)
		m.atomicTotal.Store(total)
	}

	var result transfer.Result
	if m.conf.Direction == "upload" {
		result = m.conf.Engine.Upload(m.ctx, m.conf.Endpoint, m.conf.LocalPath, m.conf.Resource, opts)
	} else {
		result = m.conf.Engine.Download(m.ctx, m.conf.Endpoint, m.conf.Resource, m.conf.LocalPath, opts)
	}
	return transferDoneMsg{result: result}
}

func (m *TransferView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case ui.SignalCancelMsg:
		return m.onCancel()

	case transferDoneMsg:
		return m.onDone(v)

	case progressTickMsg:
		return m.onTick()

	case tea.KeyMsg:
		return m.onKey(v)

	default:
		return m.onDefault(msg)
	}
}

func (m *TransferView) onCancel() (tea.Model, tea.Cmd) {
	if m.conf.SimpleOutput() {
		fmt.Fprintf(os.Stderr, "\nTransfer cancelled by user\n")
	}
	// Let the engine unwind; the done message carries the cancelled result.
	m.cancel()
	m.state = StateError
	m.err = ui.NewUserCancelledError()
	return m, nil
}

func (m *TransferView) onDone(msg transferDoneMsg) (tea.Model, tea.Cmd) {
	m.result = msg.result

	switch {
	case msg.result.Success:
		m.state = StateSuccess
		if m.conf.SimpleOutput() {
			if m.lastPrintedPercent < 100 {
				m.atomicLoaded.Store(m.atomicTotal.Load())
				m.printSimpleProgress(100)
			}
			fmt.Printf("✓ Transfer completed successfully! Total: %s\n", ui.FormatBytes(msg.result.BytesTransferred))
		}

	case msg.result.Cancelled:
		m.state = StateError
		if m.err == nil {
			m.err = ui.NewUserCancelledError()
		}

	default:
		m.state = StateError
		m.err = ui.NewTransportError(msg.result.Err)
		if m.conf.SimpleOutput() {
			fmt.Printf("Error: %s\n", msg.result.Err)
		}
	}
	return m, tea.Quit
}

func (m *TransferView) onTick() (tea.Model, tea.Cmd) {
	if m.state == StateSuccess || m.state == StateError {
		return m, nil
	}

	loaded := m.atomicLoaded.Load()
	total := m.atomicTotal.Load()
	if loaded > 0 && m.state == StateConnecting {
		m.state = StateTransferring
	}

	if loaded > 0 {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			m.speed = float64(loaded) / elapsed
		}
	}

	// In SimpleOutput mode, print progress every 10%
	if m.conf.SimpleOutput() && total > 0 {
		currentPercent := int((float64(loaded) / float64(total)) * 100)
		percentDecile := (currentPercent / 10) * 10

		if percentDecile > m.lastPrintedPercent && percentDecile <= 100 {
			m.lastPrintedPercent = percentDecile
			m.printSimpleProgress(percentDecile)
		}
	}

	return m, m.tickProgress()
}

func (m *TransferView) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.conf.SimpleOutput() {
		return m, nil
	}

	switch msg.String() {
	case "q", "esc", tea.KeyCtrlC.String():
		return m.onCancel()
	}

	return m, nil
}

func (m *TransferView) onDefault(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.conf.SimpleOutput() {
		return m, nil
	}

	var cmd tea.Cmd
	var spinnerModel tea.Model
	spinnerModel, cmd = m.spinner.Update(msg)
	m.spinner = spinnerModel.(*ui.SpinnerModel) //nolint:errcheck // Type assertion guaranteed by SpinnerModel structure
	return m, cmd
}

func (m *TransferView) View() string {
	if m.conf.SimpleOutput() {
		return ""
	}

	var output strings.Builder

	verb := "Downloading"
	if m.conf.Direction == "upload" {
		verb = "Uploading"
	}

	switch m.state {
	case StateConnecting:
		output.WriteString(fmt.Sprintf("%s Connecting to %s...\n", m.spinner.View(), ui.URLStyle.Render(m.conf.Endpoint)))

	case StateTransferring:
		loaded := m.atomicLoaded.Load()
		total := m.atomicTotal.Load()

		activeText := lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Render(fmt.Sprintf("%s %s", verb, m.conf.Resource))
		output.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), activeText))

		progressPercent := float64(0)
		if total > 0 {
			progressPercent = float64(loaded) / float64(total)
		}

		progressView := m.progressBar.ViewAs(progressPercent)
		percentage := int(progressPercent * 100)

		percentStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)
		output.WriteString(fmt.Sprintf("  %s %s\n\n", progressView, percentStyle.Render(fmt.Sprintf("%3d%%", percentage))))

		statsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		var stats []string

		stats = append(stats, fmt.Sprintf("%s / %s", ui.FormatBytes(loaded), ui.FormatBytes(total)))

		if m.speed > 0 {
			stats = append(stats, ui.FormatSpeed(m.speed))

			if loaded < total {
				remaining := float64(total-loaded) / m.speed
				eta := time.Duration(remaining) * time.Second
				stats = append(stats, fmt.Sprintf("ETA %s", ui.FormatETA(eta)))
			}
		}

		output.WriteString("  " + statsStyle.Render(strings.Join(stats, " • ")) + "\n")

	case StateSuccess:
		output.WriteString("✓ " + ui.SuccessStyle.Render("Transfer completed") + "\n\n")
		successMsg := fmt.Sprintf("Moved %s in %d chunks (%d retries)",
			ui.FormatBytes(m.result.BytesTransferred),
			m.result.ChunksCompleted,
			m.result.RetryCount,
		)
		output.WriteString(ui.SuccessStyle.Render(successMsg))

	case StateError:
		if m.err != nil {
			output.WriteString("\n" + ui.FormatError(m.err))
		}
	}

	return output.String()
}

func (m *TransferView) tickProgress() tea.Cmd {
	return tea.Tick(fastProgressUpdate, func(t time.Time) tea.Msg {
		return progressTickMsg(t)
	})
}

// printSimpleProgress prints a plain progress bar for non-TTY mode
func (m *TransferView) printSimpleProgress(percent int) {
	filledWidth := (percent * simpleBarWidth) / 100

	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < simpleBarWidth; i++ {
		switch {
		case i < filledWidth:
			bar.WriteString("=")
		case i == filledWidth:
			bar.WriteString(">")
		default:
			bar.WriteString(" ")
		}
	}
	bar.WriteString("]")

	loaded := ui.FormatBytes(m.atomicLoaded.Load())
	total := ui.FormatBytes(m.atomicTotal.Load())
	stats := fmt.Sprintf("%d%% (%s / %s)", percent, loaded, total)

	if m.speed > 0 {
		stats += fmt.Sprintf(" • %s", ui.FormatSpeed(m.speed))
	}

	fmt.Printf("%s %s\n", bar.String(), stats)
}
