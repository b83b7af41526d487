package a2dpsink

import (
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// A SignalTranslator turns BlueZ PropertiesChanged signals into Events. BlueZ only reports the new
// value of a property, so the translator remembers the last state it saw per object and reports it
// as the previous state. The first observation of an object carries no previous state.
type SignalTranslator struct {
	mu   sync.Mutex
	last map[stateKey]int
}

type stateKey struct {
	path   dbus.ObjectPath
	action string
}

// NewSignalTranslator returns a translator with no remembered state.
func NewSignalTranslator() *SignalTranslator {
	return &SignalTranslator{last: map[stateKey]int{}}
}

// Translate returns the events described by sig. Signals that are not BlueZ property changes we
// care about produce no events.
func (t *SignalTranslator) Translate(sig *dbus.Signal) []Event {
	if sig == nil || sig.Name != propertiesChangedSignal || len(sig.Body) < 2 {
		return nil
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return nil
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil
	}

	switch iface {
	case bluezDeviceInterface:
		connected, ok := boolProperty(changed, "Connected")
		if !ok {
			return nil
		}
		state := Disconnected
		if connected {
			state = Connected
		}
		return []Event{t.profileEvent(sig.Path, ActionConnectionStateChanged, int(state))}
	case bluezMediaTransport:
		transportState, ok := stringProperty(changed, "State")
		if !ok {
			return nil
		}
		state := NotPlaying
		if transportState == "active" {
			state = Playing
		}
		return []Event{t.profileEvent(sig.Path, ActionPlayingStateChanged, int(state))}
	case bluezAdapterInterface:
		powered, ok := boolProperty(changed, "Powered")
		if !ok {
			return nil
		}
		state := AdapterOff
		if powered {
			state = AdapterOn
		}
		ev := Event{Action: ActionAdapterStateChanged, Extras: map[string]interface{}{ExtraAdapterState: int(state)}}
		if prev, ok := t.swap(sig.Path, ActionAdapterStateChanged, int(state)); ok {
			ev.Extras[ExtraAdapterPreviousState] = prev
		}
		return []Event{ev}
	default:
		return nil
	}
}

func (t *SignalTranslator) profileEvent(path dbus.ObjectPath, action string, state int) Event {
	ev := Event{Action: action, Extras: map[string]interface{}{ExtraState: state}}
	if device := deviceAddressFromPath(path); device != "" {
		ev.Extras[ExtraDevice] = device
	}
	if prev, ok := t.swap(path, action, state); ok {
		ev.Extras[ExtraPreviousState] = prev
	}
	return ev
}

// swap stores state and returns the one it replaced, if any.
func (t *SignalTranslator) swap(path dbus.ObjectPath, action string, state int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := stateKey{path: path, action: action}
	prev, ok := t.last[key]
	t.last[key] = state
	return prev, ok
}

func boolProperty(props map[string]dbus.Variant, name string) (bool, bool) {
	v, ok := props[name]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func stringProperty(props map[string]dbus.Variant, name string) (string, bool) {
	v, ok := props[name]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}

// deviceAddressFromPath extracts the MAC address from a BlueZ object path such as
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/sep1/fd0.
func deviceAddressFromPath(path dbus.ObjectPath) string {
	for _, part := range strings.Split(string(path), "/") {
		if strings.HasPrefix(part, "dev_") {
			return strings.ReplaceAll(strings.TrimPrefix(part, "dev_"), "_", ":")
		}
	}
	return ""
}

// devicePath returns the BlueZ object path of device under the adapter.
func devicePath(adapterPath dbus.ObjectPath, device string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapterPath) + "/dev_" + strings.ReplaceAll(strings.ToUpper(device), ":", "_"))
}
