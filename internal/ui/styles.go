package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. A single green accent keeps graph output readable.
const (
	ColorGreen    = "114" // primary accent
	ColorGreenDim = "65"  // secondary accent, scores
	ColorWhite    = "255" // titles
	ColorGray     = "245" // labels, metadata
	ColorDarkGray = "238" // separators
	ColorRed      = "196" // errors
	ColorYellow   = "220" // warnings, suggestions
)

// Styles holds the lipgloss styles used by the renderer.
type Styles struct {
	Title   lipgloss.Style
	Accent  lipgloss.Style
	Score   lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles returns the styled set for terminal output.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Score:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreenDim)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
	}
}

// PlainStyles returns unstyled passthroughs for pipes and CI.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title: plain, Accent: plain, Score: plain, Label: plain,
		Dim: plain, Warning: plain, Error: plain,
	}
}
