// Package sink runs the audio sink appliance: it brings up the Bluetooth adapter, makes it
// discoverable and reacts to the pairing and disconnect buttons.
package sink

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/audiosink/bluetooth/a2dpsink"
	"go.viam.com/audiosink/components/board"
	"go.viam.com/audiosink/components/button"
	"go.viam.com/audiosink/config"
	"go.viam.com/audiosink/logging"
)

// An Adapter is the local Bluetooth adapter.
type Adapter interface {
	Enabled(ctx context.Context) (bool, error)
	// Enable powers the adapter on. Completion is reported later as an adapter state event.
	Enable(ctx context.Context) error
	SetName(ctx context.Context, name string) error
	SetDiscoverable(ctx context.Context, timeout time.Duration) error
}

// A ProfileChecker is an Adapter that can tell which audio sink profiles it does not serve yet.
type ProfileChecker interface {
	MissingProfiles(ctx context.Context) ([]int, error)
}

// A ButtonOpener starts watching the named pin.
type ButtonOpener func(
	ctx context.Context,
	name, pinName string,
	debounce time.Duration,
	onPress button.PressFunc,
	logger logging.Logger,
) (*button.Watcher, error)

// A Controller owns the adapter setup and the two buttons.
type Controller struct {
	resolver   *board.Resolver
	adapter    Adapter
	profile    a2dpsink.ProfileHandle
	openButton ButtonOpener
	logger     logging.Logger

	mu        sync.Mutex
	conf      *config.Config
	announcer Announcer
	ready    bool
	watchers []*button.Watcher
}

// NewController returns a controller that has not been started. A nil opener opens pins through
// the periph.io registry.
func NewController(
	conf *config.Config,
	resolver *board.Resolver,
	adapter Adapter,
	profile a2dpsink.ProfileHandle,
	opener ButtonOpener,
	logger logging.Logger,
) *Controller {
	if opener == nil {
		opener = button.Open
	}
	return &Controller{
		resolver:   resolver,
		adapter:    adapter,
		profile:    profile,
		openButton: opener,
		logger:     logger,
		conf:       conf,
	}
}

// SetAnnouncer makes the controller announce pairing, disconnects and connection changes through
// a. A nil Announcer turns announcements off, which is the default.
func (c *Controller) SetAnnouncer(a Announcer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announcer = a
}

func (c *Controller) announce(format string, args ...interface{}) {
	c.mu.Lock()
	a := c.announcer
	c.mu.Unlock()
	if a != nil {
		a.Announce(fmt.Sprintf(format, args...))
	}
}

// Pins returns the pin wired to each button function. Configured overrides win; every other
// function is looked up in the board table, so an unsupported board fails with an
// *board.UnknownVariantError unless every function is overridden.
func (c *Controller) Pins(ctx context.Context) (map[board.Function]string, error) {
	c.mu.Lock()
	conf := c.conf
	c.mu.Unlock()

	pins := make(map[board.Function]string, len(board.Functions()))
	var variant board.Variant
	resolved := false
	for _, fn := range board.Functions() {
		if pin, ok := conf.PinOverride(fn); ok {
			pins[fn] = pin
			continue
		}
		if !resolved {
			variant = c.resolver.Resolve(ctx)
			resolved = true
		}
		pin, err := board.PinFor(variant, fn)
		if err != nil {
			return nil, err
		}
		pins[fn] = pin
	}
	return pins, nil
}

// Start watches both buttons and brings the adapter up. If the adapter is off it is turned on and
// setup finishes when HandleEvent sees it come on.
func (c *Controller) Start(ctx context.Context) error {
	pins, err := c.Pins(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	debounce := c.conf.Debounce()
	c.mu.Unlock()

	handlers := map[board.Function]button.PressFunc{
		board.PairingButton: func(ctx context.Context) {
			if err := c.EnableDiscoverable(ctx); err != nil {
				c.logger.Warnw("could not enable discoverable mode", "error", err)
			}
		},
		board.DisconnectAllButton: func(ctx context.Context) {
			c.DisconnectAll(ctx)
		},
	}
	watchers := make([]*button.Watcher, 0, len(handlers))
	for _, fn := range board.Functions() {
		w, err := c.openButton(ctx, fn.String(), pins[fn], debounce, handlers[fn], c.logger.Sublogger(fn.String()))
		if err != nil {
			return multierr.Combine(errors.Wrapf(err, "cannot watch %s button", fn), button.CloseAll(watchers...))
		}
		watchers = append(watchers, w)
	}
	c.mu.Lock()
	c.watchers = watchers
	c.mu.Unlock()

	enabled, err := c.adapter.Enabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		c.logger.Debug("Bluetooth adapter not enabled, enabling")
		return c.adapter.Enable(ctx)
	}
	c.logger.Debug("Bluetooth adapter is already enabled")
	return c.setup(ctx)
}

// setup names the adapter and makes it discoverable.
func (c *Controller) setup(ctx context.Context) error {
	c.mu.Lock()
	name := c.conf.FriendlyName
	c.mu.Unlock()

	if err := c.adapter.SetName(ctx, name); err != nil {
		return err
	}
	c.checkProfiles(ctx)
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	return c.EnableDiscoverable(ctx)
}

// checkProfiles warns when the adapter would pair but not play audio. Sources can still connect,
// so this is not an error.
func (c *Controller) checkProfiles(ctx context.Context) {
	checker, ok := c.adapter.(ProfileChecker)
	if !ok {
		return
	}
	missing, err := checker.MissingProfiles(ctx)
	if err != nil {
		c.logger.Warnw("could not check adapter profiles", "error", err)
		return
	}
	if len(missing) == 0 {
		c.logger.Debug("A2DP sink profiles are enabled")
		return
	}
	uuids := lo.Map(missing, func(profile int, _ int) string {
		uuid, _ := a2dpsink.ProfileUUID(profile)
		return uuid
	})
	c.logger.Warnw("adapter does not serve all audio sink profiles, is an audio server running?",
		"profiles", missing, "uuids", uuids)
}

// EnableDiscoverable makes the adapter discoverable for the configured timeout. It does nothing
// until the adapter has been set up.
func (c *Controller) EnableDiscoverable(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	name := c.conf.FriendlyName
	timeout := c.conf.Discoverable()
	c.mu.Unlock()
	if !ready {
		c.logger.Debug("adapter not ready, ignoring discoverable request")
		return nil
	}

	if err := c.adapter.SetDiscoverable(ctx, timeout); err != nil {
		return err
	}
	c.logger.Infow("adapter is discoverable, any A2DP source can pair with it",
		"name", name, "timeout", timeout)
	c.announce("Bluetooth audio sink is discoverable for %s. Look for a device named %s", spokenDuration(timeout), name)
	return nil
}

// DisconnectAll asks the profile to disconnect every connected device and returns how many
// disconnects succeeded. Failures are logged by RequestDisconnect.
func (c *Controller) DisconnectAll(ctx context.Context) int {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		c.logger.Debug("adapter not ready, ignoring disconnect request")
		return 0
	}

	devices, err := c.profile.ConnectedDevices(ctx)
	if err != nil {
		c.logger.Warnw("could not list connected devices", "error", err)
		return 0
	}
	if len(devices) > 0 {
		c.announce("Disconnecting devices")
	}
	disconnected := 0
	for _, device := range devices {
		c.logger.Infow("disconnecting device", "device", device)
		if a2dpsink.RequestDisconnect(ctx, c.logger, c.profile, device) {
			disconnected++
		}
	}
	return disconnected
}

// HandleEvent reacts to a Bluetooth stack event.
func (c *Controller) HandleEvent(ctx context.Context, ev a2dpsink.Event) {
	switch ev.Action {
	case a2dpsink.ActionAdapterStateChanged:
		current := a2dpsink.CurrentAdapterState(ev)
		c.logger.Debugw("Bluetooth adapter changing state",
			"from", a2dpsink.PreviousAdapterState(ev), "to", current)
		state, ok := a2dpsink.AdapterStateOf(current)
		if !ok {
			return
		}
		switch state {
		case a2dpsink.AdapterOn:
			c.logger.Info("Bluetooth adapter is ready")
			if err := c.setup(ctx); err != nil {
				c.logger.Errorw("could not set up Bluetooth adapter", "error", err)
			}
		case a2dpsink.AdapterTurningOff, a2dpsink.AdapterOff:
			c.mu.Lock()
			c.ready = false
			c.mu.Unlock()
		case a2dpsink.AdapterTurningOn:
		}
	case a2dpsink.ActionConnectionStateChanged:
		device, _ := a2dpsink.Device(ev)
		current := a2dpsink.CurrentProfileState(ev)
		c.logger.Debugw("A2DP sink changing connection state",
			"from", a2dpsink.PreviousProfileState(ev), "to", current, "device", device)
		if device == "" {
			return
		}
		if state, ok := a2dpsink.ConnectionStateOf(current); ok {
			switch state {
			case a2dpsink.Connected:
				c.logger.Infow("connected", "device", device)
				c.announce("Connected to %s", device)
			case a2dpsink.Disconnected:
				c.logger.Infow("disconnected", "device", device)
				c.announce("Disconnected from %s", device)
			case a2dpsink.Connecting, a2dpsink.Disconnecting:
			}
		}
	case a2dpsink.ActionPlayingStateChanged:
		device, _ := a2dpsink.Device(ev)
		current := a2dpsink.CurrentProfileState(ev)
		c.logger.Debugw("A2DP sink changing playback state",
			"from", a2dpsink.PreviousProfileState(ev), "to", current, "device", device)
		if device == "" {
			return
		}
		if state, ok := a2dpsink.PlayingStateOf(current); ok {
			switch state {
			case a2dpsink.Playing:
				c.logger.Infow("playing audio", "device", device)
			case a2dpsink.NotPlaying:
				c.logger.Infow("stopped playing audio", "device", device)
			}
		}
	default:
		c.logger.Debugw("ignoring event", "action", ev.Action)
	}
}

// ErrEventStreamClosed is returned by Run when the event source stops delivering while the
// controller is still running.
var ErrEventStreamClosed = errors.New("Bluetooth event stream closed")

// Run handles events until ctx is done. It fails with ErrEventStreamClosed if events is closed
// first, since the adapter can no longer be followed.
func (c *Controller) Run(ctx context.Context, events <-chan a2dpsink.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrEventStreamClosed
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// Reconfigure applies the parts of conf that can change while running: the friendly name and the
// discoverable timeout. Changes to anything else are reported and take effect on restart.
func (c *Controller) Reconfigure(ctx context.Context, conf *config.Config) error {
	c.mu.Lock()
	old := c.conf
	c.conf = conf
	ready := c.ready
	c.mu.Unlock()

	if old.Adapter != conf.Adapter || old.DebounceMs != conf.DebounceMs ||
		old.Device != conf.Device || !slices.Equal(old.GPIOLines, conf.GPIOLines) || !maps.Equal(old.Pins, conf.Pins) ||
		!slices.Equal(old.AnnounceCommand, conf.AnnounceCommand) {
		c.logger.Warn("adapter, board, button and announcer settings change on restart only")
	}
	if old.FriendlyName != conf.FriendlyName && ready {
		if err := c.adapter.SetName(ctx, conf.FriendlyName); err != nil {
			return err
		}
		c.logger.Infow("renamed adapter", "name", conf.FriendlyName)
	}
	return nil
}

// Close stops watching the buttons. The adapter is left on.
func (c *Controller) Close() error {
	c.mu.Lock()
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()
	return button.CloseAll(watchers...)
}


// spokenDuration renders d the way a person would say it, e.g. "5 minutes" or "90 seconds".
func spokenDuration(d time.Duration) string {
	unit := func(n int64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}
	seconds := int64((d + time.Second - 1) / time.Second)
	if seconds%60 == 0 {
		return unit(seconds/60, "minute")
	}
	return unit(seconds, "second")
}
