package ui

import "github.com/charmbracelet/lipgloss"

var (
	accent        = lipgloss.Color("#22D3EE")
	textPrimary   = lipgloss.Color("#F8FAFC")
	textSecondary = lipgloss.Color("#94A3B8")
	textMuted     = lipgloss.Color("#475569")
	warnColor     = lipgloss.Color("#F59E0B")
	errorColor    = lipgloss.Color("#F87171")
	okColor       = lipgloss.Color("#4ADE80")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(textSecondary)

	clusterBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(okColor).
			Padding(0, 1)

	archiveBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(warnColor).
			Padding(0, 1)

	stepStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent)

	inlineErrorStyle = lipgloss.NewStyle().
				Foreground(errorColor)

	noticeStyle = lipgloss.NewStyle().
			Foreground(warnColor)

	errorTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	keyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textPrimary)

	hintStyle = lipgloss.NewStyle().
			Foreground(textSecondary)

	disabledStyle = lipgloss.NewStyle().
			Foreground(textMuted)
)
