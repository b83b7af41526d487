package board

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"go.viam.com/audiosink/logging"
)

// A Resolver determines the board variant once and returns the same answer for the rest of the
// process lifetime, even if the underlying identifier changes.
type Resolver struct {
	ids    DeviceIDSource
	lister GPIOLister
	logger logging.Logger

	resolved atomic.Pointer[Variant]
}

// NewResolver returns a resolver reading the identifier from ids and, for Edison modules, the GPIO
// line names from lister.
func NewResolver(ids DeviceIDSource, lister GPIOLister, logger logging.Logger) *Resolver {
	return &Resolver{ids: ids, lister: lister, logger: logger}
}

// Resolve returns the board variant, computing it on first use. Concurrent first calls may each
// compute a candidate, but only one is published and every caller returns that one.
func (r *Resolver) Resolve(ctx context.Context) Variant {
	if v := r.resolved.Load(); v != nil {
		return *v
	}

	candidate := r.detect(ctx)
	if r.resolved.CompareAndSwap(nil, &candidate) {
		if candidate.Known() {
			r.logger.Debugw("resolved board", "variant", candidate.String(), "device", candidate.DeviceID())
		} else {
			r.logger.Warnw("resolved an unsupported board", "device", candidate.DeviceID())
		}
	}
	return *r.resolved.Load()
}

// Resolved returns the published variant, if any, without triggering detection.
func (r *Resolver) Resolved() (Variant, bool) {
	if v := r.resolved.Load(); v != nil {
		return *v, true
	}
	return "", false
}

func (r *Resolver) detect(ctx context.Context) Variant {
	deviceID, err := r.ids.DeviceID(ctx)
	if err != nil {
		r.logger.Warnw("could not read device identifier", "error", err)
		deviceID = ""
	}
	variant := Variant(strings.TrimSpace(deviceID))
	if variant != Edison {
		return variant
	}

	// The Edison SoC ships on two pin compatible carriers that only differ in the names they give
	// their GPIO lines.
	names, err := r.lister.GPIONames(ctx)
	if err != nil {
		r.logger.Warnw("could not enumerate GPIO lines, assuming bare Edison", "error", err)
		return Edison
	}
	if len(names) != 0 && strings.HasPrefix(names[0], arduinoPinPrefix) {
		return EdisonArduinoBreakout
	}
	return Edison
}

var (
	defaultMu       sync.Mutex
	defaultResolver *Resolver
)

// SetDefaultResolver replaces the process wide resolver. It must be called before the first call
// to Resolve to have any effect on the published variant.
func SetDefaultResolver(r *Resolver) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultResolver = r
}

// DefaultResolver returns the process wide resolver, creating one backed by the host platform on
// first use.
func DefaultResolver() *Resolver {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultResolver == nil {
		defaultResolver = NewResolver(HostDeviceIDSource{}, PeriphGPIOLister{}, logging.Global().Sublogger("board"))
	}
	return defaultResolver
}

// Resolve resolves the variant of the running board using the process wide resolver.
func Resolve(ctx context.Context) Variant {
	return DefaultResolver().Resolve(ctx)
}
