// Package dashboard is the optional terminal UI (C12): a pure client of
// the status feed (C11) that renders incoming job transitions into a
// per-project scrolling panel. It never mutates bot state.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/marge-go/mergebot/internal/mergejob"
	"github.com/muesli/termenv"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

func init() {
	// Degrade gracefully over a dumb terminal or a CI log.
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

type connectedMsg struct{ conn *websocket.Conn }
type disconnectedMsg struct{ err error }
type transitionMsg mergejob.Transition
type reconnectTickMsg struct{}

// Model is the bubbletea model driving `mergebot watch`.
type Model struct {
	addr     string
	viewport viewport.Model
	events   []mergejob.Transition
	projects map[string][]mergejob.Transition
	conn     *websocket.Conn
	connected bool
	backoff  time.Duration
	width    int
	height   int
}

// New builds a Model that will dial addr (a ws:// URL) on Init.
func New(addr string) Model {
	vp := viewport.New(80, 20)
	return Model{
		addr:     addr,
		viewport: vp,
		projects: make(map[string][]mergejob.Transition),
		backoff:  time.Second,
	}
}

func (m Model) Init() tea.Cmd {
	return m.connectCmd()
}

func (m Model) connectCmd() tea.Cmd {
	addr := m.addr
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
		if err != nil {
			return disconnectedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

func (m Model) readCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return disconnectedMsg{err: err}
		}
		var t mergejob.Transition
		if err := json.Unmarshal(payload, &t); err != nil {
			return disconnectedMsg{err: err}
		}
		return transitionMsg(t)
	}
}

func reconnectAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return reconnectTickMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 2
		m.viewport.SetContent(m.render())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.conn != nil {
				_ = m.conn.Close()
			}
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case connectedMsg:
		m.conn = msg.conn
		m.connected = true
		m.backoff = time.Second
		return m, m.readCmd(msg.conn)

	case disconnectedMsg:
		m.connected = false
		m.conn = nil
		backoff := m.backoff
		m.backoff *= 2
		if m.backoff > 30*time.Second {
			m.backoff = 30 * time.Second
		}
		return m, reconnectAfter(backoff)

	case reconnectTickMsg:
		return m, m.connectCmd()

	case transitionMsg:
		t := mergejob.Transition(msg)
		m.events = append(m.events, t)
		key := fmt.Sprintf("%d!%d", t.ProjectID, t.IID)
		m.projects[key] = append(m.projects[key], t)
		m.viewport.SetContent(m.render())
		m.viewport.GotoBottom()
		return m, m.readCmd(m.conn)
	}
	return m, nil
}

func (m Model) View() string {
	status := dimStyle.Render("reconnecting...")
	if m.connected {
		status = passStyle.Render("connected " + m.addr)
	}
	header := headerStyle.Render("mergebot watch") + "  " + status
	return header + "\n" + m.viewport.View() + "\n" + dimStyle.Render("q to quit")
}

func (m Model) render() string {
	keys := make([]string, 0, len(m.projects))
	for k := range m.projects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out string
	for _, key := range keys {
		events := m.projects[key]
		out += headerStyle.Render(key) + "\n"
		for _, t := range events {
			line := fmt.Sprintf("  [%s] %s: %s", t.At.Format("15:04:05"), t.Gate, t.Outcome)
			if t.Detail != "" {
				line += " - " + t.Detail
			}
			switch t.Outcome {
			case "failed":
				out += failStyle.Render(line) + "\n"
			case "passed":
				out += passStyle.Render(line) + "\n"
			default:
				out += line + "\n"
			}
		}
	}
	return out
}

// Run starts the bubbletea program and blocks until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, addr string) error {
	p := tea.NewProgram(New(addr))
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
