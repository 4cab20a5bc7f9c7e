package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/oddyssey/stream/internal/event"
)

// LiveEventsView displays a scrolling feed of delivered events.
type LiveEventsView struct {
	table   *tview.Table
	events  []event.Event
	maxRows int
}

// NewLiveEventsView creates a new live events view.
func NewLiveEventsView() *LiveEventsView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Live Events ").SetBorder(true)

	v := &LiveEventsView{
		table:   table,
		events:  make([]event.Event, 0, 100),
		maxRows: 100,
	}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *LiveEventsView) Widget() tview.Primitive {
	return v.table
}

// AddEvent adds a new event to the view.
func (v *LiveEventsView) AddEvent(ev event.Event) {
	// Add to front of ring buffer
	v.events = append([]event.Event{ev}, v.events...)

	if len(v.events) > v.maxRows {
		v.events = v.events[:v.maxRows]
	}

	v.updateTable()
}

// Refresh redraws the table.
func (v *LiveEventsView) Refresh() {
	v.updateTable()
}

func (v *LiveEventsView) setHeader() {
	headers := []string{"Time", "Kind", "Entity", "Who", "Amount"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}
}

// updateTable updates the table with current events.
func (v *LiveEventsView) updateTable() {
	v.table.Clear()
	v.setHeader()

	for i, ev := range v.events {
		row := i + 1

		timeStr := time.Unix(ev.Timestamp, 0).Format("15:04:05")

		who := truncateAddress(firstNonEmpty(ev.Bettor, ev.Player, ev.Provider, ev.User, ev.Creator))
		if who == "" {
			who = "-"
		}

		amount := ev.Amount
		if amount == "" {
			amount = ev.Prize
		}
		if amount != "" && ev.Currency != "" {
			amount = amount + " " + ev.Currency
		}
		if amount == "" {
			amount = "-"
		}

		cells := []string{
			timeStr,
			string(ev.Kind),
			ev.EntityID(),
			who,
			amount,
		}

		for col, text := range cells {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft)
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Live Events (%d) ", len(v.events)))
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}

// truncateAddress truncates a wallet address for display.
func truncateAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
