// Package a2dpsink decodes Bluetooth A2DP sink profile and adapter notifications into typed
// values and drives best-effort profile operations against the platform Bluetooth stack.
package a2dpsink

// Profile numbers used when requesting a profile proxy from the platform.
const (
	ProfileA2DPSink        = 11
	ProfileAVRCPController = 12
)

// Broadcast actions carried by Event.Action. They keep the platform's string identities so that
// events relayed from an existing broadcast bus compare equal.
const (
	ActionConnectionStateChanged = "android.bluetooth.a2dp-sink.profile.action.CONNECTION_STATE_CHANGED"
	ActionPlayingStateChanged    = "android.bluetooth.a2dp-sink.profile.action.PLAYING_STATE_CHANGED"
	ActionAdapterStateChanged    = "android.bluetooth.adapter.action.STATE_CHANGED"
)

// Keys of Event.Extras.
const (
	ExtraState                = "android.bluetooth.profile.extra.STATE"
	ExtraPreviousState        = "android.bluetooth.profile.extra.PREVIOUS_STATE"
	ExtraAdapterState         = "android.bluetooth.adapter.extra.STATE"
	ExtraAdapterPreviousState = "android.bluetooth.adapter.extra.PREVIOUS_STATE"
	ExtraDevice               = "android.bluetooth.device.extra.DEVICE"
)

// FieldAbsent is returned by the integer extractors when the requested extra is missing or is not
// an integer.
const FieldAbsent = -1

// BlueZ D-Bus names.
const (
	bluezBusName              = "org.bluez"
	bluezAdapterInterface     = "org.bluez.Adapter1"
	bluezDeviceInterface      = "org.bluez.Device1"
	bluezMediaTransport       = "org.bluez.MediaTransport1"
	dbusPropertiesInterface   = "org.freedesktop.DBus.Properties"
	dbusObjectManagerIface    = "org.freedesktop.DBus.ObjectManager"
	propertiesChangedMember   = "PropertiesChanged"
	propertiesChangedSignal   = dbusPropertiesInterface + "." + propertiesChangedMember
	propertiesChangedMatchArg = "type='signal',interface='" + dbusPropertiesInterface + "',member='" + propertiesChangedMember + "'"
)

// Profile UUIDs. A phone streaming to us advertises the A2DP source role; we serve the sink role.
const (
	A2DPSourceUUID      = "0000110a-0000-1000-8000-00805f9b34fb"
	A2DPSinkUUID        = "0000110b-0000-1000-8000-00805f9b34fb"
	AVRCPControllerUUID = "0000110f-0000-1000-8000-00805f9b34fb"
)

// SinkProfiles are the profiles an audio sink serves: audio itself and remote control of the
// source.
var SinkProfiles = []int{ProfileA2DPSink, ProfileAVRCPController}

// ProfileUUID returns the service UUID of a profile number.
func ProfileUUID(profile int) (string, bool) {
	switch profile {
	case ProfileA2DPSink:
		return A2DPSinkUUID, true
	case ProfileAVRCPController:
		return AVRCPControllerUUID, true
	}
	return "", false
}
