// Package snapshot renders configuration diffs between snapshots.
package snapshot

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffStats summarizes a unified diff.
type DiffStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Changed int `json:"changed"`
}

// UnifiedDiff renders a unified diff of two configurations with three lines
// of context. Labels name the two sides in the diff header.
func UnifiedDiff(previous, current, previousLabel, currentLabel string) (string, DiffStats, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: previousLabel,
		ToFile:   currentLabel,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", DiffStats{}, err
	}

	var stats DiffStats
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			stats.Added++
		case strings.HasPrefix(line, "-"):
			stats.Removed++
		}
	}
	if stats.Added < stats.Removed {
		stats.Changed = stats.Added
	} else {
		stats.Changed = stats.Removed
	}
	return text, stats, nil
}

// DiffRow is one row of a side-by-side comparison. Line numbers are 1-based
// and zero when the row has no content on that side.
type DiffRow struct {
	Type         string `json:"type"` // equal, change, delete, insert
	LeftLine     int    `json:"left_line"`
	LeftContent  string `json:"left_content"`
	RightLine    int    `json:"right_line"`
	RightContent string `json:"right_content"`
}

// SideBySide aligns two configurations row by row for web display.
func SideBySide(previous, current string) []DiffRow {
	prevLines := splitPlain(previous)
	currLines := splitPlain(current)

	matcher := difflib.NewMatcher(prevLines, currLines)

	var rows []DiffRow
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				j := op.J1 + (i - op.I1)
				rows = append(rows, DiffRow{
					Type:         "equal",
					LeftLine:     i + 1,
					LeftContent:  prevLines[i],
					RightLine:    j + 1,
					RightContent: currLines[j],
				})
			}
		case 'r':
			span := op.I2 - op.I1
			if op.J2-op.J1 > span {
				span = op.J2 - op.J1
			}
			for k := 0; k < span; k++ {
				row := DiffRow{Type: "change"}
				if left := op.I1 + k; left < op.I2 {
					row.LeftLine = left + 1
					row.LeftContent = prevLines[left]
				}
				if right := op.J1 + k; right < op.J2 {
					row.RightLine = right + 1
					row.RightContent = currLines[right]
				}
				rows = append(rows, row)
			}
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				rows = append(rows, DiffRow{
					Type:        "delete",
					LeftLine:    i + 1,
					LeftContent: prevLines[i],
				})
			}
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				rows = append(rows, DiffRow{
					Type:         "insert",
					RightLine:    j + 1,
					RightContent: currLines[j],
				})
			}
		}
	}
	return rows
}

func splitPlain(s string) []string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	// Trailing newline produces an empty final element; drop it so line
	// counts match what the device actually sent.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
