package a2dpsink

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/audiosink/logging"
)

type fakeCall struct {
	path   dbus.ObjectPath
	method string
	args   []interface{}
}

// fakeBus records method calls and answers them with handler.
type fakeBus struct {
	mu      sync.Mutex
	calls   []fakeCall
	handler func(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call
	signals chan<- *dbus.Signal
	removed bool
	closed  bool
}

func (f *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: f, path: path}
}

func (f *fakeBus) BusObject() dbus.BusObject {
	return &fakeObject{bus: f, path: "/org/freedesktop/DBus"}
}

func (f *fakeBus) Signal(ch chan<- *dbus.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = ch
}

func (f *fakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBus) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	methods := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		methods = append(methods, c.method)
	}
	return methods
}

type fakeObject struct {
	dbus.BusObject
	bus  *fakeBus
	path dbus.ObjectPath
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	o.bus.mu.Lock()
	o.bus.calls = append(o.bus.calls, fakeCall{path: o.path, method: method, args: args})
	handler := o.bus.handler
	o.bus.mu.Unlock()
	if handler == nil {
		return &dbus.Call{}
	}
	return handler(o.path, method, args)
}

func managedDevice(adapter dbus.ObjectPath, address string, connected bool, uuids ...string) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		bluezDeviceInterface: {
			"Adapter":   dbus.MakeVariant(adapter),
			"Address":   dbus.MakeVariant(address),
			"Connected": dbus.MakeVariant(connected),
			"UUIDs":     dbus.MakeVariant(uuids),
		},
	}
}

func TestBlueZAdapterProperties(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBus{handler: func(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
		if method == dbusPropertiesInterface+".Get" {
			return &dbus.Call{Body: []interface{}{dbus.MakeVariant(true)}}
		}
		return &dbus.Call{}
	}}
	b := newBlueZ(fake, "hci0", logging.NewTestLogger(t))

	enabled, err := b.Enabled(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, enabled, test.ShouldBeTrue)

	test.That(t, b.SetName(ctx, "Bluetooth Speaks Things"), test.ShouldBeNil)
	test.That(t, b.SetDiscoverable(ctx, 300*time.Second), test.ShouldBeNil)

	fake.mu.Lock()
	calls := append([]fakeCall(nil), fake.calls...)
	fake.mu.Unlock()
	test.That(t, calls, test.ShouldHaveLength, 4)
	for _, c := range calls {
		test.That(t, c.path, test.ShouldEqual, dbus.ObjectPath("/org/bluez/hci0"))
	}
	test.That(t, calls[1].args[1], test.ShouldEqual, "Alias")
	test.That(t, calls[1].args[2], test.ShouldResemble, dbus.MakeVariant("Bluetooth Speaks Things"))
	test.That(t, calls[2].args[1], test.ShouldEqual, "DiscoverableTimeout")
	test.That(t, calls[2].args[2], test.ShouldResemble, dbus.MakeVariant(uint32(300)))
	test.That(t, calls[3].args[1], test.ShouldEqual, "Discoverable")
	test.That(t, calls[3].args[2], test.ShouldResemble, dbus.MakeVariant(true))
}

func TestBlueZDiscoverableTimeoutRounding(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBus{}
	b := newBlueZ(fake, "hci0", logging.NewTestLogger(t))

	test.That(t, b.SetDiscoverable(ctx, 500*time.Millisecond), test.ShouldBeNil)
	test.That(t, b.SetDiscoverable(ctx, 90500*time.Millisecond), test.ShouldBeNil)

	fake.mu.Lock()
	calls := append([]fakeCall(nil), fake.calls...)
	fake.mu.Unlock()
	test.That(t, calls, test.ShouldHaveLength, 4)
	test.That(t, calls[0].args[1], test.ShouldEqual, "DiscoverableTimeout")
	test.That(t, calls[0].args[2], test.ShouldResemble, dbus.MakeVariant(uint32(1)))
	test.That(t, calls[2].args[2], test.ShouldResemble, dbus.MakeVariant(uint32(91)))

	for _, timeout := range []time.Duration{0, -time.Second} {
		err := b.SetDiscoverable(ctx, timeout)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "must be positive")
	}
	test.That(t, fake.methods(), test.ShouldHaveLength, 4)
}

func TestBlueZPropertyErrors(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBus{handler: func(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
		return &dbus.Call{Err: errors.New("org.bluez.Error.NotReady")}
	}}
	b := newBlueZ(fake, "hci0", logging.NewTestLogger(t))

	_, err := b.Enabled(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Powered")

	err = b.SetDiscoverable(ctx, time.Minute)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, fake.methods(), test.ShouldHaveLength, 2)
}

func TestBlueZProfileConnectedDevices(t *testing.T) {
	adapter := dbus.ObjectPath("/org/bluez/hci0")
	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		adapter + "/dev_11": managedDevice(adapter, "11:11:11:11:11:11", true, A2DPSourceUUID),
		adapter + "/dev_22": managedDevice(adapter, "22:22:22:22:22:22", false, A2DPSourceUUID),
		adapter + "/dev_33": managedDevice(adapter, "33:33:33:33:33:33", true, "0000110e-0000-1000-8000-00805f9b34fb"),
		"/org/bluez/hci1/dev_44": managedDevice("/org/bluez/hci1", "44:44:44:44:44:44", true, A2DPSourceUUID),
		adapter + "/dev_00": managedDevice(adapter, "00:00:00:00:00:01", true, "0000110A-0000-1000-8000-00805F9B34FB"),
		adapter:              {bluezAdapterInterface: {"Powered": dbus.MakeVariant(true)}},
	}
	fake := &fakeBus{handler: func(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
		return &dbus.Call{Body: []interface{}{objects}}
	}}
	profile := newBlueZ(fake, "hci0", logging.NewTestLogger(t)).Profile()

	devices, err := profile.ConnectedDevices(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, devices, test.ShouldResemble, []string{"00:00:00:00:00:01", "11:11:11:11:11:11"})
}

func TestBlueZProfileDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("profile only", func(t *testing.T) {
		fake := &fakeBus{}
		profile := newBlueZ(fake, "hci0", logging.NewTestLogger(t)).Profile()
		test.That(t, profile.Disconnect(ctx, "AA:BB:CC:DD:EE:FF"), test.ShouldBeNil)
		test.That(t, fake.methods(), test.ShouldResemble, []string{bluezDeviceInterface + ".DisconnectProfile"})
		test.That(t, fake.calls[0].path, test.ShouldEqual, testDevicePath)
		test.That(t, fake.calls[0].args, test.ShouldResemble, []interface{}{A2DPSourceUUID})
	})

	t.Run("falls back to full disconnect", func(t *testing.T) {
		fake := &fakeBus{handler: func(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
			if method == bluezDeviceInterface+".DisconnectProfile" {
				return &dbus.Call{Err: errors.New("org.bluez.Error.NotSupported")}
			}
			return &dbus.Call{}
		}}
		profile := newBlueZ(fake, "hci0", logging.NewTestLogger(t)).Profile()
		test.That(t, profile.Disconnect(ctx, "AA:BB:CC:DD:EE:FF"), test.ShouldBeNil)
		test.That(t, fake.methods(), test.ShouldResemble, []string{
			bluezDeviceInterface + ".DisconnectProfile",
			bluezDeviceInterface + ".Disconnect",
		})
	})

	t.Run("both fail", func(t *testing.T) {
		fake := &fakeBus{handler: func(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
			return &dbus.Call{Err: errors.New("org.bluez.Error.Failed")}
		}}
		profile := newBlueZ(fake, "hci0", logging.NewTestLogger(t)).Profile()
		err := profile.Disconnect(ctx, "AA:BB:CC:DD:EE:FF")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "AA:BB:CC:DD:EE:FF")

		logger, _ := logging.NewObservedTestLogger(t)
		test.That(t, RequestDisconnect(ctx, logger, profile, "AA:BB:CC:DD:EE:FF"), test.ShouldBeFalse)
	})
}

func TestBlueZEvents(t *testing.T) {
	fake := &fakeBus{}
	b := newBlueZ(fake, "hci0", logging.NewTestLogger(t))

	events, err := b.Events(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fake.methods(), test.ShouldResemble, []string{"org.freedesktop.DBus.AddMatch"})

	fake.mu.Lock()
	signals := fake.signals
	fake.mu.Unlock()
	test.That(t, signals, test.ShouldNotBeNil)

	signals <- propertiesChanged("/org/bluez/hci10", bluezAdapterInterface,
		map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)})
	signals <- propertiesChanged("/org/bluez/hci0", bluezAdapterInterface,
		map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)})

	select {
	case ev := <-events:
		test.That(t, ev.Action, test.ShouldEqual, ActionAdapterStateChanged)
		test.That(t, CurrentAdapterState(ev), test.ShouldEqual, int(AdapterOn))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for adapter event")
	}

	test.That(t, b.Close(), test.ShouldBeNil)
	_, ok := <-events
	test.That(t, ok, test.ShouldBeFalse)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	test.That(t, fake.removed, test.ShouldBeTrue)
	test.That(t, fake.closed, test.ShouldBeTrue)
}

func TestBlueZEventsMatchRuleFailure(t *testing.T) {
	fake := &fakeBus{handler: func(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
		return &dbus.Call{Err: errors.New("org.freedesktop.DBus.Error.AccessDenied")}
	}}
	b := newBlueZ(fake, "hci0", logging.NewTestLogger(t))
	_, err := b.Events(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, b.Close(), test.ShouldBeNil)
}

func TestBlueZMissingProfiles(t *testing.T) {
	ctx := context.Background()
	var uuids interface{}
	fake := &fakeBus{handler: func(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
		return &dbus.Call{Body: []interface{}{dbus.MakeVariant(uuids)}}
	}}
	b := newBlueZ(fake, "hci0", logging.NewTestLogger(t))

	uuids = []string{A2DPSourceUUID, strings.ToUpper(A2DPSinkUUID), AVRCPControllerUUID}
	missing, err := b.MissingProfiles(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, missing, test.ShouldBeEmpty)

	uuids = []string{A2DPSinkUUID}
	missing, err = b.MissingProfiles(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, missing, test.ShouldResemble, []int{ProfileAVRCPController})

	uuids = "not a list"
	_, err = b.MissingProfiles(ctx)
	test.That(t, err, test.ShouldNotBeNil)

	fake.mu.Lock()
	test.That(t, fake.calls[0].args[1], test.ShouldEqual, "UUIDs")
	fake.mu.Unlock()
}
