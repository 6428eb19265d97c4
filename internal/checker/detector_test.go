package checker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// newTestDetector returns a detector whose dismissals are counted instead of sent to a browser.
func newTestDetector(t *testing.T) (*Detector, *sync.WaitGroup, *int) {
	d := NewDetector(zaptest.NewLogger(t))

	var wg sync.WaitGroup
	var mu sync.Mutex
	dismissed := new(int)
	d.dismiss = func(ctx context.Context) error {
		defer wg.Done()
		mu.Lock()
		*dismissed++
		mu.Unlock()
		return nil
	}
	return d, &wg, dismissed
}

func TestDetectorTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, _, _ := newTestDetector(t)
	assert.Equal(t, StateWaiting, d.State())

	start := time.Now()
	assert.Equal(t, StateTimedOut, d.Wait(50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	_, ok := d.FirstDialog()
	assert.False(t, ok)
}

func TestDetectorTriggersDuringWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, wg, dismissed := newTestDetector(t)

	wg.Add(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.observe(context.Background(), Dialog{Type: "alert", Message: "success"})
	}()

	start := time.Now()
	assert.Equal(t, StateTriggered, d.Wait(5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)

	wg.Wait()
	assert.Equal(t, 1, *dismissed)

	dlg, ok := d.FirstDialog()
	assert.True(t, ok)
	assert.Equal(t, "alert", dlg.Type)
	assert.Equal(t, "success", dlg.Message)
}

func TestDetectorLatchesDialogBeforeWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, wg, _ := newTestDetector(t)

	wg.Add(1)
	d.observe(context.Background(), Dialog{Type: "alert", Message: "during load"})
	wg.Wait()

	assert.Equal(t, StateTriggered, d.State())
	assert.Equal(t, StateTriggered, d.Wait(time.Millisecond))
}

func TestDetectorKeepsFirstDialog(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, wg, dismissed := newTestDetector(t)

	wg.Add(3)
	d.observe(context.Background(), Dialog{Type: "alert", Message: "first"})
	d.observe(context.Background(), Dialog{Type: "confirm", Message: "second"})
	d.observe(context.Background(), Dialog{Type: "prompt", Message: "third"})
	wg.Wait()

	assert.Equal(t, StateTriggered, d.Wait(time.Second))
	assert.Equal(t, 3, *dismissed)
	assert.Equal(t, 3, d.Dialogs())

	dlg, _ := d.FirstDialog()
	assert.Equal(t, "first", dlg.Message)
}

func TestDetectorIgnoresDialogAfterTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, wg, dismissed := newTestDetector(t)
	assert.Equal(t, StateTimedOut, d.Wait(10*time.Millisecond))

	wg.Add(1)
	d.observe(context.Background(), Dialog{Type: "alert", Message: "too late"})
	wg.Wait()

	// Still dismissed so the page does not hang, but the outcome is final.
	assert.Equal(t, 1, *dismissed)
	assert.Equal(t, StateTimedOut, d.State())
	_, ok := d.FirstDialog()
	assert.False(t, ok)
}

func TestDetectorConcurrentDialogs(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, wg, dismissed := newTestDetector(t)

	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		go d.observe(context.Background(), Dialog{Type: "alert"})
	}

	assert.Equal(t, StateTriggered, d.Wait(5*time.Second))
	wg.Wait()
	assert.Equal(t, n, *dismissed)
	assert.Equal(t, n, d.Dialogs())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "WAITING", StateWaiting.String())
	assert.Equal(t, "TRIGGERED", StateTriggered.String())
	assert.Equal(t, "TIMED_OUT", StateTimedOut.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
