package keyboard

import (
	"strconv"
	"strings"

	"github.com/Proton-105/earnyha-bot/internal/i18n"
)

// Page locates one screen of a list that is split into fixed-size pages.
// Number is 1-based.
type Page struct {
	Number int
	Count  int
	Size   int
}

// Paginate clamps the requested page number to the pages that items
// elements fill. An empty list still has one page.
func Paginate(requested, items, size int) Page {
	if size < 1 {
		size = 1
	}
	count := (items + size - 1) / size
	if count < 1 {
		count = 1
	}
	return Page{Number: min(max(requested, 1), count), Count: count, Size: size}
}

// Bounds returns the half-open index range of the page within a list of
// items elements.
func (p Page) Bounds(items int) (start, end int) {
	start = min((p.Number-1)*p.Size, items)
	end = min(start+p.Size, items)
	return start, end
}

// Buttons renders previous, current and next page buttons. Each carries
// the target page number as its argument; the edge pages omit the arrow
// leading nowhere.
func (p Page) Buttons(t i18n.Translator, action string) []Button {
	at := func(n int, label string) Button {
		return Button{Label: label, Callback: Callback{Action: action, Arg: strconv.Itoa(n)}}
	}

	buttons := make([]Button, 0, 3)
	if p.Number > 1 {
		buttons = append(buttons, at(p.Number-1, translated(t, "pagination.prev", "◀️ Prev")))
	}
	buttons = append(buttons, at(p.Number, p.label(t)))
	if p.Number < p.Count {
		buttons = append(buttons, at(p.Number+1, translated(t, "pagination.next", "Next ▶️")))
	}
	return buttons
}

func (p Page) label(t i18n.Translator) string {
	return i18n.Render(nil, translated(t, "pagination.page", "Page {{.Page}}/{{.Total}}"),
		i18n.Vars{"Page": p.Number, "Total": p.Count})
}

// translated looks key up, falling back when t is nil or lacks the key.
func translated(t i18n.Translator, key, fallback string) string {
	if t == nil {
		return fallback
	}
	if text := strings.TrimSpace(t.T(key)); text != "" && text != key {
		return text
	}
	return fallback
}
