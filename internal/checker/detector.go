package checker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// State is the popup detector state. WAITING moves to exactly one of the two terminal states.
type State int32

const (
	StateWaiting State = iota
	StateTriggered
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateTriggered:
		return "TRIGGERED"
	case StateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Dialog is a JavaScript dialog (alert, confirm, prompt or beforeunload) seen on the page.
type Dialog struct {
	Type    string
	Message string
	URL     string
}

// Detector latches the first JavaScript dialog opened in a tab.
// Every dialog is accepted so the page never blocks, including ones that open
// after the detector has already reached a terminal state.
type Detector struct {
	logger *zap.Logger

	state atomic.Int32
	fired chan struct{}

	mu      sync.Mutex
	first   *Dialog
	dialogs int

	dismiss func(ctx context.Context) error
}

func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		logger:  logger,
		fired:   make(chan struct{}),
		dismiss: acceptDialog,
	}
}

// Attach subscribes to dialog events on the tab. Call it before the payload is delivered.
func (d *Detector) Attach(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			d.observe(tabCtx, Dialog{Type: string(e.Type), Message: e.Message, URL: e.URL})
		}
	})
}

// observe runs on the chromedp event loop, so the dialog is accepted on its own goroutine.
func (d *Detector) observe(tabCtx context.Context, dlg Dialog) {
	d.mu.Lock()
	d.dialogs++
	d.mu.Unlock()

	if d.state.CompareAndSwap(int32(StateWaiting), int32(StateTriggered)) {
		d.mu.Lock()
		d.first = &dlg
		d.mu.Unlock()
		close(d.fired)

		d.logger.Debug("Dialog opened.",
			zap.String("type", dlg.Type),
			zap.String("message", dlg.Message),
			zap.String("url", dlg.URL))
	}

	go func() {
		if err := d.dismiss(tabCtx); err != nil {
			d.logger.Debug("Failed to dismiss dialog.", zap.String("type", dlg.Type), zap.Error(err))
		}
	}()
}

// Wait blocks until a dialog has been seen or timeout elapses and returns the terminal state.
// A dialog seen before Wait is called counts.
func (d *Detector) Wait(timeout time.Duration) State {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.fired:
	case <-timer.C:
		d.state.CompareAndSwap(int32(StateWaiting), int32(StateTimedOut))
	}
	return d.State()
}

func (d *Detector) State() State {
	return State(d.state.Load())
}

// FirstDialog returns the dialog that triggered the detector, if any.
func (d *Detector) FirstDialog() (Dialog, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.first == nil {
		return Dialog{}, false
	}
	return *d.first, true
}

// Dialogs returns how many dialogs were opened so far.
func (d *Detector) Dialogs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialogs
}

func acceptDialog(tabCtx context.Context) error {
	return chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true))
}
