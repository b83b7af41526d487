package a2dpsink

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/audiosink/logging"
)

// A ProfileHandle is a connected proxy for the A2DP sink profile of the local adapter.
type ProfileHandle interface {
	// ConnectedDevices returns the addresses of the remote devices currently connected to the
	// profile.
	ConnectedDevices(ctx context.Context) ([]string, error)
}

// Disconnectable is implemented by profile handles whose binding can drop a single remote device.
// Not every binding can.
type Disconnectable interface {
	Disconnect(ctx context.Context, device string) error
}

// RequestDisconnect asks the profile to disconnect device. It never fails the caller: when the
// handle has no disconnect capability, or the call errors or panics, a warning is logged and false
// is returned.
func RequestDisconnect(ctx context.Context, logger logging.Logger, profile ProfileHandle, device string) (ok bool) {
	disconnector, isDisconnectable := profile.(Disconnectable)
	if !isDisconnectable {
		logger.Warnw("no disconnect capability in profile, ignoring request",
			"profile", fmt.Sprintf("%T", profile), "device", device)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warnw("could not execute disconnect in profile, ignoring request",
				"profile", fmt.Sprintf("%T", profile), "device", device, "error", errors.Errorf("panic: %v", r))
			ok = false
		}
	}()

	if err := disconnector.Disconnect(ctx, device); err != nil {
		logger.Warnw("could not execute disconnect in profile, ignoring request",
			"profile", fmt.Sprintf("%T", profile), "device", device, "error", err)
		return false
	}
	return true
}
