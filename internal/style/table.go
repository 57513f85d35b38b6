package style

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Align is the horizontal alignment of a column.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Column describes one table column.
type Column struct {
	Name  string
	Width int
	Align Align
	// Style, if set, is applied to every cell of the column.
	Style *lipgloss.Style
}

// Table renders fixed-width rows with a bold header.
type Table struct {
	columns   []Column
	rows      [][]string
	indent    string
	headerSep bool
}

// NewTable creates a table with a header separator and a two-space indent.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		indent:    "  ",
		headerSep: true,
	}
}

// SetIndent sets the prefix of every rendered line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the line under the header.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row. Cells may already be styled. Missing cells are
// left empty and extra cells dropped.
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
	return t
}

// Render returns the table as text, one line per row plus the header.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var b strings.Builder
	header := make([]string, len(t.columns))
	for i, col := range t.columns {
		header[i] = t.pad(Bold.Render(col.Name), col.Name, col.Width, col.Align)
	}
	t.writeLine(&b, header)

	if t.headerSep {
		seps := make([]string, len(t.columns))
		for i, col := range t.columns {
			seps[i] = Dim.Render(strings.Repeat("─", col.Width))
		}
		t.writeLine(&b, seps)
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			styled := row[i]
			plain := stripAnsi(styled)
			if lipgloss.Width(plain) > col.Width {
				plain = truncate(plain, col.Width)
				styled = plain
			}
			if col.Style != nil {
				styled = col.Style.Render(plain)
			}
			cells[i] = t.pad(styled, plain, col.Width, col.Align)
		}
		t.writeLine(&b, cells)
	}
	return b.String()
}

func (t *Table) writeLine(b *strings.Builder, cells []string) {
	b.WriteString(t.indent)
	b.WriteString(strings.TrimRight(strings.Join(cells, " "), " "))
	b.WriteString("\n")
}

// pad pads styled to width based on the visible length of plain.
func (t *Table) pad(styled, plain string, width int, align Align) string {
	n := lipgloss.Width(plain)
	if n >= width {
		return styled
	}
	space := width - n
	switch align {
	case AlignRight:
		return strings.Repeat(" ", space) + styled
	case AlignCenter:
		left := space / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", space-left)
	default:
		return styled + strings.Repeat(" ", space)
	}
}

// truncate shortens s to width, marking the cut with "...".
func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+3 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripAnsi removes SGR escape sequences.
func stripAnsi(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
