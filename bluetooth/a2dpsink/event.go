package a2dpsink

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// An Event is a state change notification from the Bluetooth stack. Extras hold loosely typed
// values keyed by the Extra* constants.
type Event struct {
	Action string
	Extras map[string]interface{}
}

func (ev Event) String() string {
	return fmt.Sprintf("%s %v", ev.Action, ev.Extras)
}

// ConnectionState is the connection state of a remote device on a profile.
type ConnectionState int

// Connection states, numbered as the platform numbers them.
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// ConnectionStateOf converts a raw state code. It reports false for codes outside the enumeration,
// including FieldAbsent.
func ConnectionStateOf(code int) (ConnectionState, bool) {
	s := ConnectionState(code)
	if s < Disconnected || s > Disconnecting {
		return 0, false
	}
	return s, true
}

// PlayingState is the streaming state of the A2DP sink.
type PlayingState int

// Playing states.
const (
	Playing    PlayingState = 10
	NotPlaying PlayingState = 11
)

func (s PlayingState) String() string {
	switch s {
	case Playing:
		return "playing"
	case NotPlaying:
		return "not playing"
	}
	return fmt.Sprintf("PlayingState(%d)", int(s))
}

// PlayingStateOf converts a raw state code.
func PlayingStateOf(code int) (PlayingState, bool) {
	s := PlayingState(code)
	if s != Playing && s != NotPlaying {
		return 0, false
	}
	return s, true
}

// AdapterState is the power state of the local adapter.
type AdapterState int

// Adapter states.
const (
	AdapterOff        AdapterState = 10
	AdapterTurningOn  AdapterState = 11
	AdapterOn         AdapterState = 12
	AdapterTurningOff AdapterState = 13
)

func (s AdapterState) String() string {
	switch s {
	case AdapterOff:
		return "off"
	case AdapterTurningOn:
		return "turning on"
	case AdapterOn:
		return "on"
	case AdapterTurningOff:
		return "turning off"
	}
	return fmt.Sprintf("AdapterState(%d)", int(s))
}

// AdapterStateOf converts a raw state code.
func AdapterStateOf(code int) (AdapterState, bool) {
	s := AdapterState(code)
	if s < AdapterOff || s > AdapterTurningOff {
		return 0, false
	}
	return s, true
}

// CurrentProfileState returns the current profile state code, or FieldAbsent.
func CurrentProfileState(ev Event) int {
	return intExtra(ev, ExtraState)
}

// PreviousProfileState returns the previous profile state code, or FieldAbsent.
func PreviousProfileState(ev Event) int {
	return intExtra(ev, ExtraPreviousState)
}

// CurrentAdapterState returns the current adapter state code, or FieldAbsent.
func CurrentAdapterState(ev Event) int {
	return intExtra(ev, ExtraAdapterState)
}

// PreviousAdapterState returns the previous adapter state code, or FieldAbsent.
func PreviousAdapterState(ev Event) int {
	return intExtra(ev, ExtraAdapterPreviousState)
}

// Device returns the remote device address carried by the event.
func Device(ev Event) (string, bool) {
	raw, ok := ev.Extras[ExtraDevice]
	if !ok || raw == nil {
		return "", false
	}
	device, err := cast.ToStringE(raw)
	if err != nil || device == "" {
		return "", false
	}
	return device, true
}

// intExtra coerces the extra under key to an int. Values arrive with whatever numeric width the
// transport used. Floats are accepted only when whole, since JSON relays decode every number as
// float64.
func intExtra(ev Event, key string) int {
	raw, ok := ev.Extras[key]
	if !ok || raw == nil {
		return FieldAbsent
	}
	switch v := raw.(type) {
	case bool, string:
		// cast would turn these into 0/1 or parse them, neither of which is a state code.
		return FieldAbsent
	case float32:
		if !isWhole(float64(v)) {
			return FieldAbsent
		}
	case float64:
		if !isWhole(v) {
			return FieldAbsent
		}
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return FieldAbsent
	}
	return v
}

func isWhole(f float64) bool {
	return !math.IsInf(f, 0) && f == math.Trunc(f)
}
