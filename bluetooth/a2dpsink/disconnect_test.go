package a2dpsink

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/audiosink/logging"
)

// listOnlyProfile is a profile binding without a disconnect capability.
type listOnlyProfile struct {
	devices []string
}

func (p *listOnlyProfile) ConnectedDevices(ctx context.Context) ([]string, error) {
	return p.devices, nil
}

type disconnectingProfile struct {
	listOnlyProfile
	err          error
	panicWith    interface{}
	disconnected []string
}

func (p *disconnectingProfile) Disconnect(ctx context.Context, device string) error {
	if p.panicWith != nil {
		panic(p.panicWith)
	}
	if p.err != nil {
		return p.err
	}
	p.disconnected = append(p.disconnected, device)
	return nil
}

func TestRequestDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("missing capability", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		ok := RequestDisconnect(ctx, logger, &listOnlyProfile{}, "AA:BB:CC:DD:EE:FF")
		test.That(t, ok, test.ShouldBeFalse)

		warnings := logs.FilterMessage("no disconnect capability in profile, ignoring request").All()
		test.That(t, warnings, test.ShouldHaveLength, 1)
		test.That(t, warnings[0].ContextMap()["profile"], test.ShouldEqual, "*a2dpsink.listOnlyProfile")
	})

	t.Run("success", func(t *testing.T) {
		profile := &disconnectingProfile{}
		ok := RequestDisconnect(ctx, logging.NewTestLogger(t), profile, "AA:BB:CC:DD:EE:FF")
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, profile.disconnected, test.ShouldResemble, []string{"AA:BB:CC:DD:EE:FF"})
	})

	t.Run("binding error", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		profile := &disconnectingProfile{err: errors.New("org.bluez.Error.NotConnected")}
		ok := RequestDisconnect(ctx, logger, profile, "AA:BB:CC:DD:EE:FF")
		test.That(t, ok, test.ShouldBeFalse)
		test.That(t, logs.FilterMessageSnippet("could not execute disconnect").Len(), test.ShouldEqual, 1)
	})

	t.Run("binding panic", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		profile := &disconnectingProfile{panicWith: "hidden method removed"}
		ok := RequestDisconnect(ctx, logger, profile, "AA:BB:CC:DD:EE:FF")
		test.That(t, ok, test.ShouldBeFalse)
		test.That(t, logs.FilterMessageSnippet("could not execute disconnect").Len(), test.ShouldEqual, 1)
	})
}
