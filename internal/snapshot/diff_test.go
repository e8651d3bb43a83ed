package snapshot

import (
	"strings"
	"testing"
)

func TestUnifiedDiff(t *testing.T) {
	previous := "hostname sw1\ninterface Gi0/1\n shutdown\n"
	current := "hostname sw1\ninterface Gi0/1\n no shutdown\n"

	text, stats, err := UnifiedDiff(previous, current, "Previous", "Current")
	if err != nil {
		t.Fatalf("UnifiedDiff: %v", err)
	}

	if !strings.Contains(text, "--- Previous") || !strings.Contains(text, "+++ Current") {
		t.Fatalf("diff missing headers:\n%s", text)
	}
	if !strings.Contains(text, "- shutdown") || !strings.Contains(text, "+ no shutdown") {
		t.Fatalf("diff missing expected hunk lines:\n%s", text)
	}
	if stats.Added != 1 || stats.Removed != 1 || stats.Changed != 1 {
		t.Fatalf("stats = %+v, want 1/1/1", stats)
	}
}

func TestUnifiedDiffIdentical(t *testing.T) {
	content := "hostname sw1\n"
	text, stats, err := UnifiedDiff(content, content, "a", "b")
	if err != nil {
		t.Fatalf("UnifiedDiff: %v", err)
	}
	if text != "" {
		t.Fatalf("identical content produced a diff:\n%s", text)
	}
	if stats.Added != 0 || stats.Removed != 0 {
		t.Fatalf("stats = %+v, want zeros", stats)
	}
}

func TestSideBySideEqualAndChange(t *testing.T) {
	previous := "line one\nline two\nline three\n"
	current := "line one\nline 2\nline three\n"

	rows := SideBySide(previous, current)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	if rows[0].Type != "equal" || rows[0].LeftLine != 1 || rows[0].RightLine != 1 {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].Type != "change" || rows[1].LeftContent != "line two" || rows[1].RightContent != "line 2" {
		t.Fatalf("row 1 = %+v", rows[1])
	}
	if rows[2].Type != "equal" || rows[2].LeftLine != 3 || rows[2].RightLine != 3 {
		t.Fatalf("row 2 = %+v", rows[2])
	}
}

func TestSideBySideInsertDelete(t *testing.T) {
	previous := "a\nb\nc\n"
	current := "a\nc\nd\n"

	rows := SideBySide(previous, current)

	var sawDelete, sawInsert bool
	for _, row := range rows {
		switch row.Type {
		case "delete":
			sawDelete = true
			if row.LeftContent != "b" || row.RightLine != 0 {
				t.Fatalf("delete row = %+v", row)
			}
		case "insert":
			sawInsert = true
			if row.RightContent != "d" || row.LeftLine != 0 {
				t.Fatalf("insert row = %+v", row)
			}
		}
	}
	if !sawDelete || !sawInsert {
		t.Fatalf("expected both delete and insert rows, got %+v", rows)
	}
}

func TestSideBySideUnevenReplace(t *testing.T) {
	previous := "x\nold one\nold two\ny\n"
	current := "x\nnew\ny\n"

	rows := SideBySide(previous, current)

	// The replace block is padded to the longer side
	var changeRows []DiffRow
	for _, row := range rows {
		if row.Type == "change" {
			changeRows = append(changeRows, row)
		}
	}
	if len(changeRows) != 2 {
		t.Fatalf("change rows = %d, want 2", len(changeRows))
	}
	if changeRows[0].LeftContent != "old one" || changeRows[0].RightContent != "new" {
		t.Fatalf("change row 0 = %+v", changeRows[0])
	}
	if changeRows[1].LeftContent != "old two" || changeRows[1].RightContent != "" || changeRows[1].RightLine != 0 {
		t.Fatalf("change row 1 = %+v", changeRows[1])
	}
}
