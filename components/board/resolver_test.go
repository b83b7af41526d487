package board

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"

	"go.viam.com/audiosink/logging"
)

// countingSource returns whatever id currently holds and counts reads.
type countingSource struct {
	id    atomic.String
	reads atomic.Int32
}

func (s *countingSource) DeviceID(ctx context.Context) (string, error) {
	s.reads.Inc()
	return s.id.Load(), nil
}

type countingLister struct {
	names []string
	err   error
	calls atomic.Int32
}

func (l *countingLister) GPIONames(ctx context.Context) ([]string, error) {
	l.calls.Inc()
	return l.names, l.err
}

func TestResolveEdisonArduinoBreakout(t *testing.T) {
	lister := &countingLister{names: []string{"IO5", "IO6"}}
	r := NewResolver(StaticDeviceID("edison"), lister, logging.NewTestLogger(t))

	test.That(t, r.Resolve(context.Background()), test.ShouldEqual, EdisonArduinoBreakout)
	test.That(t, lister.calls.Load(), test.ShouldEqual, 1)
}

func TestResolveBareEdison(t *testing.T) {
	t.Run("empty enumeration", func(t *testing.T) {
		r := NewResolver(StaticDeviceID("edison"), StaticGPIONames(nil), logging.NewTestLogger(t))
		test.That(t, r.Resolve(context.Background()), test.ShouldEqual, Edison)
	})

	t.Run("GP names", func(t *testing.T) {
		r := NewResolver(StaticDeviceID("edison"), StaticGPIONames{"GP44", "IO5"}, logging.NewTestLogger(t))
		test.That(t, r.Resolve(context.Background()), test.ShouldEqual, Edison)
	})

	t.Run("enumeration failure", func(t *testing.T) {
		lister := &countingLister{err: errors.New("no peripheral manager")}
		logger, logs := logging.NewObservedTestLogger(t)
		r := NewResolver(StaticDeviceID("edison"), lister, logger)
		test.That(t, r.Resolve(context.Background()), test.ShouldEqual, Edison)
		test.That(t, logs.FilterMessageSnippet("could not enumerate GPIO").Len(), test.ShouldEqual, 1)
	})
}

func TestResolveSkipsEnumerationForOtherBoards(t *testing.T) {
	lister := &countingLister{names: []string{"IO5"}}
	r := NewResolver(StaticDeviceID("rpi3"), lister, logging.NewTestLogger(t))

	test.That(t, r.Resolve(context.Background()), test.ShouldEqual, RaspberryPi3)
	test.That(t, lister.calls.Load(), test.ShouldEqual, 0)
}

func TestResolveIsMemoized(t *testing.T) {
	src := &countingSource{}
	src.id.Store("joule")
	lister := &countingLister{}
	r := NewResolver(src, lister, logging.NewTestLogger(t))

	_, ok := r.Resolved()
	test.That(t, ok, test.ShouldBeFalse)

	first := r.Resolve(context.Background())
	src.id.Store("rpi3")
	second := r.Resolve(context.Background())

	test.That(t, first, test.ShouldEqual, Joule)
	test.That(t, second, test.ShouldEqual, first)
	test.That(t, src.reads.Load(), test.ShouldEqual, 1)

	resolved, ok := r.Resolved()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, resolved, test.ShouldEqual, Joule)
}

func TestResolveConcurrentFirstCalls(t *testing.T) {
	src := &countingSource{}
	src.id.Store("imx6ul_pico")
	r := NewResolver(src, &countingLister{}, logging.NewTestLogger(t))

	const callers = 16
	results := make([]Variant, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background())
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		test.That(t, v, test.ShouldEqual, Pico)
	}
}

func TestResolveUnknownBoard(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	r := NewResolver(StaticDeviceID("unknown_soc"), StaticGPIONames(nil), logger)

	v := r.Resolve(context.Background())
	test.That(t, v.Known(), test.ShouldBeFalse)
	test.That(t, logs.FilterMessage("resolved an unsupported board").Len(), test.ShouldEqual, 1)

	_, err := PinFor(v, PairingButton)
	var unknown *UnknownVariantError
	test.That(t, errors.As(err, &unknown), test.ShouldBeTrue)
	test.That(t, unknown.DeviceID, test.ShouldEqual, "unknown_soc")
}

func TestDefaultResolver(t *testing.T) {
	prev := DefaultResolver()
	defer SetDefaultResolver(prev)

	SetDefaultResolver(NewResolver(StaticDeviceID("imx6ul_iopb"), StaticGPIONames(nil), logging.NewTestLogger(t)))
	test.That(t, Resolve(context.Background()), test.ShouldEqual, Vvdn)
}
