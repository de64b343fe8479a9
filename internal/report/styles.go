package report

import (
	"github.com/charmbracelet/lipgloss"
)

// --- Color Palette (Dark Mode) ---
var (
	ColorPrimary   = lipgloss.Color("#7D56F4") // Indigo/Purple
	ColorSecondary = lipgloss.Color("#04B575") // Green
	ColorError     = lipgloss.Color("#FF5F87") // Pink/Red
	ColorWarning   = lipgloss.Color("#FFAF00") // Gold
	ColorText      = lipgloss.Color("#FAFAFA") // White-ish
	ColorSubtle    = lipgloss.Color("#767676") // Gray
	ColorBorder    = lipgloss.Color("#3C3C3C") // Dark Gray border
)

// Styles are bound to one renderer so that color is decided per output.
type Styles struct {
	Panel   lipgloss.Style
	Title   lipgloss.Style
	Label   lipgloss.Style
	Subtle  lipgloss.Style
	Value   lipgloss.Style
	Error   lipgloss.Style
	Warn    lipgloss.Style
	Success lipgloss.Style
}

func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 2),
		Title: r.NewStyle().
			Foreground(ColorPrimary).
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(ColorSubtle),
		Label:   r.NewStyle().Foreground(ColorText),
		Subtle:  r.NewStyle().Foreground(ColorSubtle),
		Value:   r.NewStyle().Foreground(ColorSecondary).Bold(true),
		Error:   r.NewStyle().Foreground(ColorError).Bold(true),
		Warn:    r.NewStyle().Foreground(ColorWarning),
		Success: r.NewStyle().Foreground(ColorSecondary).Bold(true),
	}
}
