package ui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// SpinnerModel wraps the bubbles spinner with shuttle's styling so every
// command shows the same activity indicator.
type SpinnerModel struct {
	inner spinner.Model
}

// NewSpinner builds the shared MiniDot spinner.
func NewSpinner() *SpinnerModel {
	return &SpinnerModel{inner: spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(SpinnerStyle),
	)}
}

// Init starts the tick loop.
func (m *SpinnerModel) Init() tea.Cmd {
	return m.inner.Tick
}

// Update advances the frame on tick messages.
func (m *SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.inner, cmd = m.inner.Update(msg)
	return m, cmd
}

// View renders the current frame.
func (m *SpinnerModel) View() string {
	return m.inner.View()
}
