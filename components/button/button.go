// Package button watches momentary push buttons wired between a GPIO line and ground.
package button

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"go.viam.com/audiosink/components/board"
	"go.viam.com/audiosink/logging"
	"go.viam.com/audiosink/utils"
)

// edgePollInterval bounds how long the watcher blocks on the line before checking for shutdown.
const edgePollInterval = 100 * time.Millisecond

// A PressFunc is called on the watcher's goroutine each time the button is pressed. Presses are
// delivered one at a time, so a slow PressFunc delays the next one.
type PressFunc func(ctx context.Context)

// A Watcher calls a PressFunc whenever its button is pressed. The line is pulled up, so a press is a
// falling edge.
type Watcher struct {
	name     string
	pin      gpio.PinIn
	debounce time.Duration
	onPress  PressFunc
	clk      clock.Clock
	logger   logging.Logger

	workers utils.StoppableWorkers
}

// Open looks up pinName in the periph.io registry and watches it.
func Open(ctx context.Context, name, pinName string, debounce time.Duration, onPress PressFunc, logger logging.Logger) (*Watcher, error) {
	if err := board.InitHost(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, errors.Errorf("no GPIO pin named %q for button %q", pinName, name)
	}
	return New(ctx, name, pin, debounce, onPress, logger)
}

// New configures pin as a pulled up input with falling edge detection and starts watching it.
// Presses that follow the previous accepted press by less than debounce are dropped.
func New(ctx context.Context, name string, pin gpio.PinIn, debounce time.Duration, onPress PressFunc, logger logging.Logger) (*Watcher, error) {
	return newWatcher(ctx, name, pin, debounce, onPress, clock.New(), logger)
}

func newWatcher(
	ctx context.Context,
	name string,
	pin gpio.PinIn,
	debounce time.Duration,
	onPress PressFunc,
	clk clock.Clock,
	logger logging.Logger,
) (*Watcher, error) {
	if debounce < 0 {
		return nil, errors.Errorf("button %q: debounce must not be negative, got %s", name, debounce)
	}
	if onPress == nil {
		return nil, errors.Errorf("button %q: no press handler", name)
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, errors.Wrapf(err, "button %q: configuring pin %s", name, pin.Name())
	}

	w := &Watcher{
		name:     name,
		pin:      pin,
		debounce: debounce,
		onPress:  onPress,
		clk:      clk,
		logger:   logger,
	}
	w.workers = utils.NewStoppableWorkers(ctx, w.monitor)
	logger.Debugw("watching button", "button", name, "pin", pin.Name(), "debounce", debounce)
	return w, nil
}

// monitor delivers presses until ctx is done.
func (w *Watcher) monitor(ctx context.Context) {
	var lastPress time.Time
	for ctx.Err() == nil {
		if !w.pin.WaitForEdge(edgePollInterval) {
			continue
		}
		if w.pin.Read() != gpio.Low {
			continue
		}
		now := w.clk.Now()
		if !lastPress.IsZero() && now.Sub(lastPress) < w.debounce {
			continue
		}
		lastPress = now
		w.logger.Debugw("button pressed", "button", w.name)
		w.onPress(ctx)
	}
}

// Name returns the name the watcher was created with.
func (w *Watcher) Name() string {
	return w.name
}

// Close stops watching, waits for any in flight PressFunc to return and releases the line.
func (w *Watcher) Close() error {
	w.workers.Stop()
	return w.pin.Halt()
}

// CloseAll closes every watcher and combines their errors.
func CloseAll(watchers ...*Watcher) error {
	var err error
	for _, w := range watchers {
		if w != nil {
			err = multierr.Combine(err, w.Close())
		}
	}
	return err
}
