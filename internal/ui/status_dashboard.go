package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rivo/tview"

	"github.com/oddyssey/stream/internal/metrics"
)

// StatusDashboardView shows transport health and delivery statistics.
type StatusDashboardView struct {
	text *tview.TextView
}

// NewStatusDashboardView creates a new status dashboard.
func NewStatusDashboardView() *StatusDashboardView {
	text := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)

	text.SetTitle(" Stream Status ").SetBorder(true)

	return &StatusDashboardView{text: text}
}

// Widget returns the tview primitive.
func (v *StatusDashboardView) Widget() tview.Primitive {
	return v.text
}

// Update redraws the dashboard from a metrics snapshot.
func (v *StatusDashboardView) Update(s metrics.Snapshot) {
	var b strings.Builder

	fmt.Fprintf(&b, "Primary:  %s\n", colorStatus(s.PrimaryStatus))
	fmt.Fprintf(&b, "Fallback: %s\n", colorStatus(s.FallbackStatus))
	fmt.Fprintf(&b, "Uptime:   %s\n", s.Uptime.Round(1e9))
	fmt.Fprintf(&b, "Delivered: %d (%.1f/s)\n", s.Delivered, s.EventRate)

	if !s.LastEventAt.IsZero() {
		fmt.Fprintf(&b, "Last event: %s\n", s.LastEventAt.Format("15:04:05"))
	}

	if len(s.DroppedByReason) > 0 {
		reasons := make([]string, 0, len(s.DroppedByReason))
		for r := range s.DroppedByReason {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)

		parts := make([]string, 0, len(reasons))
		for _, r := range reasons {
			parts = append(parts, fmt.Sprintf("%s=%d", r, s.DroppedByReason[r]))
		}
		fmt.Fprintf(&b, "Dropped:  %s\n", strings.Join(parts, " "))
	}

	b.WriteString("\n[gray]q quit | c reconnect | r refresh[-]")

	v.text.SetText(b.String())
}

// colorStatus wraps a connection status in tview color markup.
func colorStatus(status string) string {
	switch status {
	case "connected":
		return "[green]connected[-]"
	case "connecting":
		return "[yellow]connecting[-]"
	default:
		return "[red]" + status + "[-]"
	}
}
