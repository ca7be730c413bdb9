package ui

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/tandem/internal/call"
	"github.com/BioHazard786/tandem/internal/media"
)

func TestCallModelTracksStatus(t *testing.T) {
	m := newCallModel(nil)
	now := time.Now()
	m.setStatus(call.Status{Phase: call.PhaseAwaitingPeer, Lifecycle: call.LifecycleConnecting, RoomID: "r1", PeerID: "alice", Message: "assigned role initiator", Time: now})
	m.setStatus(call.Status{Phase: call.PhaseConnected, Lifecycle: call.LifecycleConnected, RoomID: "r1", PeerID: "alice", Partner: "bob", Message: "answer received", Time: now})

	if m.connected.IsZero() {
		t.Fatalf("connected time not recorded")
	}
	view := m.View()
	for _, want := range []string{"r1", "alice", "bob", "connected", "answer received"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view lacks %q:\n%s", want, view)
		}
	}

	m.setStatus(call.Status{Phase: call.PhaseIdle, Lifecycle: call.LifecycleIdle, Message: "peer left", Time: now})
	if !m.connected.IsZero() {
		t.Fatalf("connected time kept after session ended")
	}
}

func TestCallModelKeepsRecentEvents(t *testing.T) {
	m := newCallModel(nil)
	for i := 0; i < maxEvents+4; i++ {
		m.setStatus(call.Status{Phase: call.PhaseIdle, Message: "event", Time: time.Now()})
	}
	if len(m.events) != maxEvents {
		t.Fatalf("events = %d", len(m.events))
	}
}

func TestQuitKeyCallsOnQuitOnce(t *testing.T) {
	calls := 0
	m := newCallModel(func() { calls++ })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("no quit command")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Fatalf("onQuit called %d times", calls)
	}
	if m.View() != "" {
		t.Fatalf("view not cleared after quit")
	}
}

func TestTrackUpdateShown(t *testing.T) {
	m := newCallModel(nil)
	m.Update(trackUpdate{kind: "video"})
	if !strings.Contains(m.View(), "video") {
		t.Fatalf("track not shown:\n%s", m.View())
	}
}

func TestCallSummaryView(t *testing.T) {
	v := CallSummaryView(CallSummary{
		Status:   call.Status{Err: errors.New("room r1 is full")},
		Stats:    call.Stats{Sessions: 2, OffersSent: 1, Reconnects: 3},
		Duration: 90 * time.Second,
	})
	for _, want := range []string{"room r1 is full", "1m30s", "Reconnects", "3"} {
		if !strings.Contains(v, want) {
			t.Fatalf("summary lacks %q:\n%s", want, v)
		}
	}
}

func TestTrackTableView(t *testing.T) {
	if TrackTableView(nil) != "" {
		t.Fatalf("empty track list rendered")
	}
	v := TrackTableView([]media.TrackStats{{Kind: "audio", Codec: "audio/opus", Packets: 10, Bytes: 2048, File: "/tmp/x/a.ogg"}})
	for _, want := range []string{"audio/opus", "2.00 KB", "a.ogg"} {
		if !strings.Contains(v, want) {
			t.Fatalf("table lacks %q:\n%s", want, v)
		}
	}
}

func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	f()
	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(out)
}

func TestPrintHelpersUseTheirIcons(t *testing.T) {
	out := captureStdout(t, func() {
		PrintSuccess("answer received")
		PrintInfof("[%s] %s", call.PhaseAwaitingPeer, "assigned role initiator")
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(lines[0], IconSuccess) || !strings.Contains(lines[0], "answer received") {
		t.Fatalf("success line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], IconInfo) || !strings.Contains(lines[1], "[awaiting_peer] assigned role initiator") {
		t.Fatalf("info line = %q", lines[1])
	}
}
