package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Status colors
	GreenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	RedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	YellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	CyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	BoldStyle   = lipgloss.NewStyle().Bold(true)

	// Transfer states
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	PendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	URLStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))

	// UI elements
	SpinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Probe output
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true).
			Padding(0, 1)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)
)
