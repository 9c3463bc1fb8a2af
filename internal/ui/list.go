package ui

import (
	"fmt"

	"github.com/idilsaglam/quicklist/internal/model"
)

const maxTaskWidth = 80

func Stats(items []model.Item) (done, pending int) {
	for _, it := range items {
		if it.IsComplete {
			done++
		} else {
			pending++
		}
	}
	return
}

// Truncate shortens s to n runes with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 4 {
		return s
	}
	return string(r[:n-3]) + "..."
}

// ListLines renders the body of the list panel: header, progress, items.
func ListLines(items []model.Item, group bool) []string {
	t := Current()
	d, p := Stats(items)
	header := fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		C(t.Title, "Todos"),
		C(t.Success, t.SymDone), d,
		C(t.Pending, t.SymUnchecked), p,
		C(t.Accent, "Total"), len(items),
	)

	lines := []string{header, C(t.Muted, ProgressBar(d, d+p, 28)), ""}
	if group {
		lines = append(lines, groupLines(items)...)
	} else {
		lines = append(lines, itemLines(items)...)
	}
	return lines
}

func itemLines(items []model.Item) []string {
	t := Current()
	if len(items) == 0 {
		return []string{C(t.Muted, "no items")}
	}
	width := 0
	for _, it := range items {
		if w := len(fmt.Sprint(it.ID)); w > width {
			width = w
		}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		id := fmt.Sprintf("#%-*d", width, it.ID)
		box, color := t.BoxUnchecked, t.Muted
		if it.IsComplete {
			box, color = t.BoxChecked, t.Success
		}
		out = append(out, fmt.Sprintf("%s %s %s", Dim(id), C(color, box), Truncate(it.Task, maxTaskWidth)))
	}
	return out
}

func groupLines(items []model.Item) []string {
	t := Current()
	var pend, done []model.Item
	for _, it := range items {
		if it.IsComplete {
			done = append(done, it)
		} else {
			pend = append(pend, it)
		}
	}
	section := func(title string, items []model.Item) []string {
		lines := []string{C(t.Accent, title)}
		if len(items) == 0 {
			return append(lines, C(t.Muted, "(none)"))
		}
		return append(lines, itemLines(items)...)
	}
	lines := section("Pending", pend)
	lines = append(lines, "")
	return append(lines, section("Done", done)...)
}
