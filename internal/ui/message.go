package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/songroom/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgViewFetched MsgKind = iota
	MsgTick
	MsgPoll
)

type viewFetched struct {
	view *models.PlaybackView
	err  error
}

// viewFetchedMsg is the constructor for [MsgViewFetched]
func viewFetchedMsg(view *models.PlaybackView, err error) Msg {
	return Msg{kind: MsgViewFetched, data: viewFetched{view, err}}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg(t time.Time) Msg {
	return Msg{kind: MsgTick, data: t}
}

// pollMsg is the constructor for [MsgPoll]
func pollMsg() Msg {
	return Msg{kind: MsgPoll}
}
