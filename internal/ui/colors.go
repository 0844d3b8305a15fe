package ui

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

const (
	colorAccent  = "#1DB954"
	colorAccent2 = "#1ED760"
	colorError   = "#FF0000"
	colorWarn    = "#FFA500"
	colorMuted   = "#626262"
	colorName    = "#87AFFF"
)

var styles = newSheet()

// sheet holds the viewer's named styles.
type sheet struct {
	title     lipgloss.Style
	section   lipgloss.Style
	playing   lipgloss.Style
	requester lipgloss.Style
	err       lipgloss.Style
	banner    lipgloss.Style
	muted     lipgloss.Style
}

func newSheet() *sheet {
	return &sheet{
		title:     bold(colorAccent).MarginBottom(1),
		section:   bold(colorAccent),
		playing:   bold(colorAccent2),
		requester: fg(colorName).Italic(true),
		err:       bold(colorError),
		banner:    fg(colorWarn).Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color(colorWarn)).PaddingLeft(1),
		muted:     fg(colorMuted).Italic(true),
	}
}

// progressBar is the playback bar in the room's colors.
func progressBar() progress.Model {
	return progress.New(progress.WithGradient(colorAccent, colorAccent2), progress.WithoutPercentage())
}

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func bold(color string) lipgloss.Style {
	return fg(color).Bold(true)
}
