package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dsmmcken/ivy-dsm/internal/debugapi"
)

type keyMap struct {
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{{k.Quit}} }

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#2F71F2", Dark: "#4A90FF"}
	colorDim     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"}
	colorWrite   = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
	colorRead    = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	colorError   = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#FF4672"}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	errStyle   = lipgloss.NewStyle().Foreground(colorError)
)

const pollPeriod = 500 * time.Millisecond

type snapshotMsg struct {
	snap *debugapi.Snapshot
	err  error
}

func poll(client *http.Client, addr string) tea.Cmd {
	return tea.Tick(pollPeriod, func(time.Time) tea.Msg {
		snap, err := fetchSnapshot(client, addr)
		return snapshotMsg{snap: snap, err: err}
	})
}

// Model is dsmmon's single screen: a live table of owner/copyset/access
// per page, polled from one node's debug endpoint (the manager, by
// convention, since it's the only node whose Owner/Copyset fields are
// authoritative — see spec.md §4.4).
type Model struct {
	client  *http.Client
	addr    string
	color   bool
	help    help.Model
	snap    *debugapi.Snapshot
	lastErr error
	ticks   int
}

func NewModel(addr string, color bool) Model {
	return Model{client: newHTTPClient(), addr: addr, color: color, help: help.New()}
}

func (m Model) Init() tea.Cmd {
	return poll(m.client, m.addr)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
	case snapshotMsg:
		m.ticks++
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.snap = msg.snap
			m.lastErr = nil
		}
		return m, poll(m.client, m.addr)
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n\n", titleStyle.Render("dsmmon"), dimStyle.Render(m.addr))

	if m.lastErr != nil {
		fmt.Fprintf(&b, "%s\n", errStyle.Render("poll failed: "+m.lastErr.Error()))
	}
	if m.snap == nil {
		b.WriteString(dimStyle.Render("waiting for first snapshot...\n"))
		return b.String()
	}

	fmt.Fprintf(&b, "%-6s %-6s %-8s %s\n", "PAGE", "OWNER", "ACCESS", "COPYSET")
	for _, p := range m.snap.Pages {
		access := p.Access
		if m.color {
			switch access {
			case "WRITE":
				access = lipgloss.NewStyle().Foreground(colorWrite).Render(access)
			case "READ":
				access = lipgloss.NewStyle().Foreground(colorRead).Render(access)
			}
		}
		fmt.Fprintf(&b, "%-6d %-6d %-8s %v\n", p.Index, p.Owner, access, p.Copyset)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "%s\n", dimStyle.Render("RPC counts:"))
	for _, name := range []string{"GET_RD_PAGE", "GET_WR_PAGE", "FETCH_PG", "INVALIDATE_PG"} {
		fmt.Fprintf(&b, "  %-16s %d\n", name, m.snap.RPCCounts[name])
	}

	b.WriteString("\n" + m.help.View(keys))
	return b.String()
}
