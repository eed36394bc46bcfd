// Package cli provides table helpers for human-readable output.
package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

const (
	tablePadding = 2
	previewWidth = 40
)

func writeTable(out io.Writer, headers []string, rows [][]string) error {
	colCount := len(headers)
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}
	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	for idx, header := range headers {
		widths[idx] = max(widths[idx], runewidth.StringWidth(stripANSI(header)))
	}
	for _, row := range rows {
		for idx, cell := range row {
			widths[idx] = max(widths[idx], runewidth.StringWidth(stripANSI(cell)))
		}
	}

	writer := bufio.NewWriter(out)
	var writeErr error
	writeString := func(value string) {
		if writeErr != nil {
			return
		}
		_, writeErr = writer.WriteString(value)
	}
	writeRow := func(row []string) {
		if writeErr != nil {
			return
		}
		for idx := 0; idx < colCount; idx++ {
			cell := ""
			if idx < len(row) {
				cell = row[idx]
			}
			writeString(cell)
			if idx < colCount-1 {
				padding := widths[idx] - runewidth.StringWidth(stripANSI(cell))
				writeString(strings.Repeat(" ", max(padding, 0)+tablePadding))
			}
		}
		writeString("\n")
	}

	if len(headers) > 0 {
		writeRow(headers)
	}
	for _, row := range rows {
		writeRow(row)
	}
	if writeErr != nil {
		return writeErr
	}
	return writer.Flush()
}

func writeJSON(out io.Writer, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}

func formatYesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// formatAgo renders t relative to now, or "-" for the zero time.
func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// truncate cuts s to width display columns, marking the cut with "...".
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

func stripANSI(value string) string {
	if value == "" {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != 0x1b || i+1 >= len(value) || value[i+1] != '[' {
			b.WriteByte(value[i])
			continue
		}
		i += 2
		for i < len(value) {
			ch := value[i]
			if ch >= 0x40 && ch <= 0x7e {
				break
			}
			i++
		}
	}
	return b.String()
}
