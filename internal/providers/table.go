package providers

import (
	"fmt"
	"strings"
)

// FormatTable renders rows as a markdown table with columns in order.
// Only the first limit rows are rendered; a trailing line notes the rest.
func FormatTable(columns []string, rows []map[string]any, limit int) string {
	if len(columns) == 0 {
		return "_(no columns)_"
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")

	shown := rows
	if limit > 0 && len(rows) > limit {
		shown = rows[:limit]
	}
	for _, row := range shown {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = cell(row[c])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if len(shown) < len(rows) {
		fmt.Fprintf(&b, "\n_%d more rows not shown_\n", len(rows)-len(shown))
	}
	return strings.TrimRight(b.String(), "\n")
}

func cell(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprint(v)
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
