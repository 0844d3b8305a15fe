package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/songroom/internal/formatter"
	"github.com/desertthunder/songroom/internal/models"
)

const (
	defaultPollInterval = 5 * time.Second
	tickInterval        = time.Second
	maxQueueRows        = 8
	maxHistoryRows      = 5
)

// ViewSource fetches the room's latest view.
type ViewSource interface {
	Playback(ctx context.Context) (*models.PlaybackView, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	source   ViewSource
	logger   *log.Logger
	interval time.Duration
	now      func() time.Time

	view     *models.PlaybackView
	err      error
	fetching bool
	width    int

	progress progress.Model
	help     help.Model
	keys     keyMap
}

// NewModel creates a viewer polling source every interval.
func NewModel(ctx context.Context, source ViewSource, interval time.Duration, logger *log.Logger) *Model {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Model{
		ctx:      ctx,
		source:   source,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		progress: progressBar(),
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init fetches the first view and starts the progress clock.
func (m *Model) Init() tea.Cmd {
	m.fetching = true
	return tea.Batch(m.fetch(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = max(10, min(msg.Width-4, 60))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.refresh):
			return m, m.refetch()
		}

	case Msg:
		return m.handle(msg)
	}
	return m, nil
}

func (m *Model) handle(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgViewFetched:
		res := msg.data.(viewFetched)
		m.fetching = false
		if res.err != nil {
			m.err = res.err
			m.logger.Warn("failed to fetch view", "error", res.err)
		} else {
			m.err = nil
			if m.view == nil || res.view.Sequence >= m.view.Sequence {
				m.view = res.view
			}
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg() })

	case MsgPoll:
		return m, m.refetch()

	case MsgTick:
		cmds := []tea.Cmd{m.tick()}
		if m.view != nil && m.view.Current != nil {
			if _, overran := m.view.Current.ProgressAt(m.view.PolledAt, m.now()); overran {
				cmds = append(cmds, m.refetch())
			}
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

// refetch starts a fetch unless one is already running.
func (m *Model) refetch() tea.Cmd {
	if m.fetching {
		return nil
	}
	m.fetching = true
	return m.fetch()
}

func (m *Model) fetch() tea.Cmd {
	return func() tea.Msg {
		view, err := m.source.Playback(m.ctx)
		return viewFetchedMsg(view, err)
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// View renders the room.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("♫ Song Requests"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	if m.view == nil {
		b.WriteString(styles.muted.Render("Loading..."))
		b.WriteString("\n\n")
		b.WriteString(m.help.View(m.keys))
		return b.String()
	}

	if m.view.ControllerOffline {
		b.WriteString(styles.banner.Render("Controller offline: waiting for a DJ to sign in again"))
		b.WriteString("\n\n")
	} else if m.view.Stale {
		b.WriteString(styles.banner.Render("Provider unreachable: showing last known state"))
		b.WriteString("\n\n")
	}

	b.WriteString(m.renderCurrent())
	b.WriteString("\n")
	b.WriteString(m.renderQueue())
	b.WriteString("\n")
	b.WriteString(m.renderHistory())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderCurrent() string {
	cur := m.view.Current
	if cur == nil {
		return styles.muted.Render("Nothing playing") + "\n"
	}

	progressMs, _ := cur.ProgressAt(m.view.PolledAt, m.now())
	var percent float64
	if cur.Item.DurationMs > 0 {
		percent = float64(progressMs) / float64(cur.Item.DurationMs)
	}

	state := "▶"
	if !cur.IsPlaying {
		state = "⏸"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", state, styles.playing.Render(cur.Item.Title))
	fmt.Fprintf(&b, "  %s%s\n", strings.Join(cur.Item.Artists, ", "), requestedBy(cur.Requester))
	fmt.Fprintf(&b, "  %s %s / %s\n", m.progress.ViewAs(percent), formatter.FormatDuration(progressMs), formatter.FormatDuration(cur.Item.DurationMs))
	if cur.Device != nil {
		fmt.Fprintf(&b, "  %s\n", styles.muted.Render(fmt.Sprintf("%s · volume %d%%", cur.Device.Name, cur.VolumePercent)))
	}
	return b.String()
}

func (m *Model) renderQueue() string {
	var b strings.Builder
	b.WriteString(styles.section.Render("Up next"))
	b.WriteString("\n")
	if len(m.view.Queue) == 0 {
		b.WriteString(styles.muted.Render("  Queue is empty"))
		b.WriteString("\n")
		return b.String()
	}
	for i, e := range m.view.Queue {
		if i == maxQueueRows {
			fmt.Fprintf(&b, "  … %d more\n", len(m.view.Queue)-maxQueueRows)
			break
		}
		fmt.Fprintf(&b, "  %d. %s - %s%s\n", i+1, e.Item.Title, strings.Join(e.Item.Artists, ", "), requestedBy(e.Requester))
	}
	return b.String()
}

func (m *Model) renderHistory() string {
	if len(m.view.History) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(styles.section.Render("Recently played"))
	b.WriteString("\n")
	for i, e := range m.view.History {
		if i == maxHistoryRows {
			break
		}
		fmt.Fprintf(&b, "  %s - %s%s\n", e.Item.Title, strings.Join(e.Item.Artists, ", "), requestedBy(e.Requester))
	}
	return b.String()
}

func requestedBy(r *models.Requester) string {
	if r == nil {
		return ""
	}
	name := r.DisplayName
	if r.Verified {
		name += " ✓"
	}
	return "  " + styles.requester.Render("requested by "+name)
}
