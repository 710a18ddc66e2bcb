package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/storyline-app/storyline/internal/types"
)

// Palette
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7B79FF"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6B6B6B"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#107C41", Dark: "#3FB950"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B76E00", Dark: "#D29922"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C5221F", Dark: "#F85149"}
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorPass)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarn)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorFail)

	IDStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)

	LabelChipStyle = lipgloss.NewStyle().
			Foreground(ColorAccent)
)

// PriorityLabel renders a priority with its conventional color.
func PriorityLabel(p types.Priority) string {
	switch p {
	case types.PriorityUrgent:
		return ErrorStyle.Render("urgent")
	case types.PriorityHigh:
		return WarningStyle.Render("high")
	case types.PriorityMedium:
		return SuccessStyle.Render("medium")
	case types.PriorityLow:
		return MutedStyle.Render("low")
	default:
		return MutedStyle.Render("-")
	}
}
