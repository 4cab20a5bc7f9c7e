// Package ui provides terminal user interface components.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/oddyssey/stream/internal/event"
	"github.com/oddyssey/stream/internal/metrics"
)

// App is the main TUI application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	liveEvents *LiveEventsView
	status     *StatusDashboardView

	// Data sources
	eventChan <-chan event.Event
	tracker   *metrics.Tracker

	// reconnectFn is invoked on the manual-retry key.
	reconnectFn func()

	refreshRate time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewApp creates a new TUI application.
func NewApp(eventChan <-chan event.Event, tracker *metrics.Tracker, reconnectFn func(), refreshRate time.Duration) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:         tview.NewApplication(),
		eventChan:   eventChan,
		tracker:     tracker,
		reconnectFn: reconnectFn,
		refreshRate: refreshRate,
		ctx:         ctx,
		cancel:      cancel,
	}

	a.liveEvents = NewLiveEventsView()
	a.status = NewStatusDashboardView()

	a.setupLayout()
	a.setupKeyboard()

	return a
}

// setupLayout creates the two-panel layout.
func (a *App) setupLayout() {
	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.liveEvents.Widget(), 0, 3, false).
		AddItem(a.status.Widget(), 0, 1, false)

	a.app.SetRoot(a.layout, true)
}

// setupKeyboard configures keyboard shortcuts.
func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'c', 'C':
				// Manual reconnect of both transports.
				if a.reconnectFn != nil {
					a.reconnectFn()
				}
				return nil
			case 'r', 'R':
				a.refresh()
				return nil
			}
		}
		return ev
	})
}

// Run starts the TUI application (blocking).
func (a *App) Run() error {
	go a.processEvents()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// processEvents reads delivered events and updates the feed.
func (a *App) processEvents() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev, ok := <-a.eventChan:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.liveEvents.AddEvent(ev)
			})
		}
	}
}

// updateLoop periodically refreshes the status panel.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snapshot := a.tracker.Snapshot()
			a.app.QueueUpdateDraw(func() {
				a.status.Update(snapshot)
			})
		}
	}
}

// refresh manually refreshes all views.
func (a *App) refresh() {
	snapshot := a.tracker.Snapshot()
	a.app.QueueUpdateDraw(func() {
		a.liveEvents.Refresh()
		a.status.Update(snapshot)
	})
}
