package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"fg-go/internal/fg"
)

var stdin = bufio.NewReader(os.Stdin)

func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.AppendBulk(rows)
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func targetRow(t *fg.FreezeTarget) []string {
	status := string(t.Status)
	if t.WatchDegraded {
		status += " (unwatched)"
	}
	return []string{
		shortID(t.ID),
		t.Name,
		t.Path,
		status,
		formatBytes(t.SizeBytes),
		fmt.Sprint(t.ChangeCount),
		formatTime(t.LastFrozenAt),
		t.Issue,
	}
}

var targetHeader = []string{"ID", "Name", "Path", "Status", "Size", "Changes", "Last Frozen", "Issue"}

func printTarget(w io.Writer, t *fg.FreezeTarget) {
	created := t.CreatedAt
	rows := [][]string{
		{"ID", t.ID},
		{"Name", t.Name},
		{"Path", t.Path},
		{"Kind", string(t.Kind)},
		{"Status", string(t.Status)},
		{"Size", formatBytes(t.SizeBytes)},
		{"Changes", fmt.Sprint(t.ChangeCount)},
		{"Watch Degraded", fmt.Sprint(t.WatchDegraded)},
		{"Snapshot", t.SnapshotRef},
		{"Created", formatTime(&created)},
		{"Last Frozen", formatTime(t.LastFrozenAt)},
		{"Last Restored", formatTime(t.LastRestoredAt)},
	}
	if t.Issue != "" {
		rows = append(rows, []string{"Issue", t.Issue})
	}
	renderTable(w, []string{"Field", "Value"}, rows)
}
