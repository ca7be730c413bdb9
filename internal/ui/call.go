package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/tandem/internal/call"
)

// maxEvents is how many recent status lines the live view keeps.
const maxEvents = 6

// CallUI shows the live state of a call until the user quits.
type CallUI struct {
	program *tea.Program
	model   *callModel
	wg      sync.WaitGroup
}

type statusUpdate struct{}

type trackUpdate struct {
	kind string
}

// TickMsg redraws the elapsed time.
type TickMsg time.Time

type callModel struct {
	spinner spinner.Model
	notify  chan tea.Msg
	onQuit  func()

	mu        sync.RWMutex
	status    call.Status
	events    []string
	tracks    []string
	connected time.Time
	quitting  bool
}

// NewCallUI creates the live view. onQuit is called once when the user
// presses q or ctrl+c.
func NewCallUI(onQuit func()) *CallUI {
	return &CallUI{model: newCallModel(onQuit)}
}

func newCallModel(onQuit func()) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &callModel{
		spinner: s,
		notify:  make(chan tea.Msg, 100),
		onQuit:  onQuit,
	}
}

// Start runs the program in a goroutine. Output stays inline so earlier
// terminal lines remain visible.
func (ui *CallUI) Start() {
	ui.program = tea.NewProgram(ui.model)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// SetStatus records the client's latest status. It never blocks.
func (ui *CallUI) SetStatus(st call.Status) {
	ui.model.setStatus(st)
	ui.model.post(statusUpdate{})
}

// AddTrack notes a remote track of the given kind.
func (ui *CallUI) AddTrack(kind string) {
	ui.model.post(trackUpdate{kind: kind})
}

// Stop ends the program and waits for it to restore the terminal.
func (ui *CallUI) Stop() {
	if ui.program != nil {
		ui.program.Quit()
	}
	ui.wg.Wait()
}

func (m *callModel) post(msg tea.Msg) {
	select {
	case m.notify <- msg:
	default:
	}
}

func (m *callModel) setStatus(st call.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st.Phase == call.PhaseConnected && m.status.Phase != call.PhaseConnected {
		m.connected = st.Time
	}
	if st.Phase != call.PhaseConnected {
		m.connected = time.Time{}
	}
	m.status = st

	line := st.Message
	if st.Err != nil {
		line = ErrorStyle.Render(st.Err.Error())
	}
	if line == "" {
		return
	}
	m.events = append(m.events, MutedStyle.Render(st.Time.Format("15:04:05"))+" "+line)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

func (m *callModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.notify
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.mu.Lock()
			already := m.quitting
			m.quitting = true
			m.mu.Unlock()
			if !already && m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tick()

	case statusUpdate:
		return m, m.listen()

	case trackUpdate:
		m.mu.Lock()
		m.tracks = append(m.tracks, msg.kind)
		m.mu.Unlock()
		return m, m.listen()
	}
	return m, nil
}

func (m *callModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.quitting {
		return ""
	}

	st := m.status
	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s %s  %s %s\n\n",
		IconRoom, BoldStyle.Render(st.RoomID),
		IconPeer, MutedStyle.Render(st.PeerID),
	))

	b.WriteString(fmt.Sprintf("%s %s", m.indicator(st), StatusStyle.Render(string(st.Phase))))
	if st.Role != "" {
		b.WriteString(" " + MutedStyle.Render("as "+string(st.Role)))
	}
	if st.Partner != "" {
		b.WriteString(fmt.Sprintf("  %s %s", IconConnect, st.Partner))
	}
	if !m.connected.IsZero() {
		b.WriteString("  " + MutedStyle.Render(time.Since(m.connected).Truncate(time.Second).String()))
	}
	b.WriteString("\n")

	if st.Media != "" {
		b.WriteString(MutedStyle.Render("media: "+st.Media) + "\n")
	}
	if len(m.tracks) > 0 {
		b.WriteString(MutedStyle.Render("receiving: ") + trackIcons(m.tracks) + "\n")
	}

	b.WriteString("\n")
	for _, e := range m.events {
		b.WriteString("  " + e + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to leave"))
	return b.String()
}

func (m *callModel) indicator(st call.Status) string {
	switch {
	case st.Err != nil:
		return IconWarning
	case st.Lifecycle == call.LifecycleConnected:
		return IconSuccess
	case st.Lifecycle == call.LifecycleConnecting:
		return m.spinner.View()
	}
	return IconWaiting
}

func trackIcons(kinds []string) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case "video":
			parts = append(parts, IconVideo+" video")
		case "audio":
			parts = append(parts, IconAudio+" audio")
		default:
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, ", ")
}
