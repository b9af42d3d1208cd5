package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorText     lipgloss.Color = "#cdd6f4"
	colorSubtext  lipgloss.Color = "#a6adc8"
	colorOverlay  lipgloss.Color = "#7f849c"
	colorBlue     lipgloss.Color = "#89b4fa"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorRed      lipgloss.Color = "#f38ba8"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorSelected lipgloss.Color = "#007bff"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(colorSubtext)
	valueStyle  = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	activeStyle = lipgloss.NewStyle().Foreground(colorSelected).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	errStyle    = lipgloss.NewStyle().Foreground(colorRed)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	hintStyle   = lipgloss.NewStyle().Foreground(colorOverlay)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorOverlay).Padding(0, 2)
)
