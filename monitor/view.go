package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// View is a tview-based live display of generation history and the
// currently in-progress build, generalizing the teacher's NcursesUI
// (header + progress + events panes, Ctrl+C/q to quit) from per-worker
// build events to per-step build events.
type View struct {
	app          *tview.Application
	headerText   *tview.TextView
	historyText  *tview.TextView
	eventsText   *tview.TextView
	layout       *tview.Flex
	mu           sync.Mutex
	eventLines   []string
	maxEvents    int
	screen       tcell.Screen
	stopped      bool
	lastStep     string
	onInterrupt  func()
}

// NewView creates a View. Start must be called before rendering.
func NewView() *View {
	return &View{maxEvents: 200}
}

// SetScreen injects a tcell.Screen, used by tests to drive the UI
// against a simulation screen instead of a real terminal.
func (v *View) SetScreen(screen tcell.Screen) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.screen = screen
}

// SetInterruptHandler registers a callback invoked when the user quits
// the view with Ctrl+C or 'q'.
func (v *View) SetInterruptHandler(handler func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onInterrupt = handler
}

// Start builds the layout and runs the tview application in a
// background goroutine.
func (v *View) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.app = tview.NewApplication()
	if v.screen != nil {
		v.app.SetScreen(v.screen)
	}

	v.headerText = tview.NewTextView().SetDynamicColors(true)
	v.headerText.SetBorder(true).SetTitle(" darch monitor ").SetTitleAlign(tview.AlignLeft)
	v.headerText.SetText("[yellow]No active build[white]")

	v.historyText = tview.NewTextView().SetDynamicColors(true)
	v.historyText.SetBorder(true).SetTitle(" Generations ").SetTitleAlign(tview.AlignLeft)
	v.historyText.SetText("(none yet)")

	v.eventsText = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).
		SetChangedFunc(func() { v.app.Draw() })
	v.eventsText.SetBorder(true).SetTitle(" Build Steps ").SetTitleAlign(tview.AlignLeft)
	v.eventsText.SetText("(no steps yet)")

	v.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.headerText, 3, 0, false).
		AddItem(v.historyText, 8, 0, false).
		AddItem(v.eventsText, 0, 1, false)

	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		quit := event.Key() == tcell.KeyCtrlC ||
			(event.Key() == tcell.KeyRune && (event.Rune() == 'q' || event.Rune() == 'Q'))
		if !quit {
			return event
		}
		v.app.Stop()
		v.mu.Lock()
		v.stopped = true
		handler := v.onInterrupt
		v.mu.Unlock()
		if handler != nil {
			go handler()
		}
		return nil
	})

	go func() {
		v.app.SetRoot(v.layout, true).EnableMouse(true).Run()
	}()

	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop shuts the view down. Safe to call more than once.
func (v *View) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}
	v.stopped = true
	if v.app != nil {
		v.app.Stop()
	}
}

// Update renders one polled Snapshot.
func (v *View) Update(snap *Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.app == nil || v.stopped {
		return
	}

	header := "[yellow]No active build[white]"
	if snap.ActiveBuild != nil {
		header = fmt.Sprintf("[green]Building generation %d[white] (%s) — elapsed %s",
			snap.ActiveBuild.Generation, snap.ActiveBuild.Mode,
			time.Since(snap.ActiveBuild.StartTime).Round(time.Second))

		if snap.CurrentStep != "" && snap.CurrentStep != v.lastStep {
			v.appendEventLocked(snap.CurrentStep)
			v.lastStep = snap.CurrentStep
		}
	}

	history := ""
	for _, g := range sortedByNumberDescending(snap.Generations) {
		status := "incomplete"
		if g.Complete {
			status = "complete"
		}
		history += fmt.Sprintf("gen-%d  %s\n", g.Number, status)
	}
	if history == "" {
		history = "(none yet)"
	}

	eventsText := ""
	for _, line := range v.eventLines {
		eventsText += line + "\n"
	}

	v.app.QueueUpdateDraw(func() {
		v.headerText.SetText(header)
		v.historyText.SetText(history)
		v.eventsText.SetText(eventsText)
		v.eventsText.ScrollToEnd()
	})
}

func (v *View) appendEventLocked(step string) {
	timestamp := time.Now().Format("15:04:05")
	v.eventLines = append(v.eventLines, fmt.Sprintf("[%s] %s", timestamp, step))
	if len(v.eventLines) > v.maxEvents {
		v.eventLines = v.eventLines[1:]
	}
}

// Run polls poller every interval and updates the view until the view
// is stopped (via Stop, or the user quitting the UI).
func Run(view *View, poller *Poller, interval time.Duration) error {
	if err := view.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		view.mu.Lock()
		stopped := view.stopped
		view.mu.Unlock()
		if stopped {
			return nil
		}

		snap, err := poller.Poll()
		if err != nil {
			continue
		}
		view.Update(snap)
	}
	return nil
}
