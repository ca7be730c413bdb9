package ui

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/tandem/internal/call"
	"github.com/BioHazard786/tandem/internal/media"
)

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// CallSummary is what a finished call reports.
type CallSummary struct {
	Status   call.Status
	Stats    call.Stats
	Duration time.Duration
}

// CallSummaryView renders the signaling counters of a finished call.
func CallSummaryView(s CallSummary) string {
	outcome := "left"
	if s.Status.Err != nil {
		outcome = s.Status.Err.Error()
	}

	st := s.Stats
	rows := [][]string{
		{"Outcome", outcome},
		{"Duration", s.Duration.Truncate(time.Second).String()},
		{"Sessions", fmt.Sprintf("%d", st.Sessions)},
		{"Offers (sent/recv)", fmt.Sprintf("%d / %d", st.OffersSent, st.OffersReceived)},
		{"Answers (sent/recv)", fmt.Sprintf("%d / %d", st.AnswersSent, st.AnswersReceived)},
		{"Candidates (sent/recv)", fmt.Sprintf("%d / %d", st.CandidatesSent, st.CandidatesReceived)},
		{"Candidates applied", fmt.Sprintf("%d", st.CandidatesApplied)},
		{"Candidates buffered", fmt.Sprintf("%d", st.CandidatesBuffered)},
		{"Candidates skipped", fmt.Sprintf("%d", st.CandidatesFailed+st.CandidatesDropped)},
		{"Offer conflicts", fmt.Sprintf("%d", st.Conflicts)},
		{"Reconnects", fmt.Sprintf("%d", st.Reconnects)},
		{"Pairing restarts", fmt.Sprintf("%d", st.Restarts)},
		{"Messages ignored", fmt.Sprintf("%d", st.Dropped)},
	}
	return newTable([]string{"Metric", "Value"}, rows).Render()
}

func RenderCallSummary(s CallSummary) {
	fmt.Println(CallSummaryView(s))
}

// TrackTableView renders received tracks. It returns an empty string when
// nothing was received.
func TrackTableView(tracks []media.TrackStats) string {
	if len(tracks) == 0 {
		return ""
	}

	rows := make([][]string, 0, len(tracks))
	for _, t := range tracks {
		file := "-"
		if t.File != "" {
			file = truncateString(filepath.Base(t.File), 40)
		}
		rows = append(rows, []string{
			t.Kind,
			t.Codec,
			fmt.Sprintf("%d", t.Packets),
			formatBytes(int64(t.Bytes)),
			file,
		})
	}
	return newTable([]string{"Kind", "Codec", "Packets", "Size", "File"}, rows).Render()
}

func RenderTrackTable(tracks []media.TrackStats) {
	if v := TrackTableView(tracks); v != "" {
		fmt.Println(v)
	}
}

type RoomInfo struct {
	RoomID   string
	RoomLink string
	PeerID   string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Joining room\n\n%s Room ID:    %s\n%s Peer ID:    %s",
		IconRoom,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconPeer, MutedStyle.Render(r.PeerID),
	)
	if r.RoomLink != "" {
		content += fmt.Sprintf("\n%s Room Link:  %s", IconWeb, MutedStyle.Render(r.RoomLink))
	}
	return SuccessBoxStyle.Render(content)
}

func RenderRoomInfo(r RoomInfo) {
	fmt.Println(r.View())
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
