package a2dpsink

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/audiosink/logging"
	"go.viam.com/audiosink/utils"
)

// bus is the subset of *dbus.Conn used by BlueZ.
type bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	BusObject() dbus.BusObject
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// BlueZ is a local Bluetooth adapter managed by the BlueZ daemon over the system D-Bus.
type BlueZ struct {
	conn        bus
	adapterPath dbus.ObjectPath
	logger      logging.Logger
	workers     utils.StoppableWorkers
}

// NewBlueZ connects to the system bus and returns the named adapter, e.g. "hci0".
func NewBlueZ(adapter string, logger logging.Logger) (*BlueZ, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to system DBus")
	}
	return newBlueZ(conn, adapter, logger), nil
}

func newBlueZ(conn bus, adapter string, logger logging.Logger) *BlueZ {
	return &BlueZ{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapter),
		logger:      logger,
		workers:     utils.NewStoppableWorkers(context.Background()),
	}
}

func (b *BlueZ) adapter() dbus.BusObject {
	return b.conn.Object(bluezBusName, b.adapterPath)
}

func (b *BlueZ) getAdapterProperty(ctx context.Context, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := b.adapter().CallWithContext(ctx, dbusPropertiesInterface+".Get", 0, bluezAdapterInterface, name).Store(&v)
	if err != nil {
		return dbus.Variant{}, errors.Wrapf(err, "failed to get adapter property %s", name)
	}
	return v, nil
}

func (b *BlueZ) setAdapterProperty(ctx context.Context, name string, value interface{}) error {
	call := b.adapter().CallWithContext(ctx, dbusPropertiesInterface+".Set", 0,
		bluezAdapterInterface, name, dbus.MakeVariant(value))
	if call.Err != nil {
		return errors.Wrapf(call.Err, "failed to set adapter property %s", name)
	}
	return nil
}

// Enabled reports whether the adapter is powered.
func (b *BlueZ) Enabled(ctx context.Context) (bool, error) {
	v, err := b.getAdapterProperty(ctx, "Powered")
	if err != nil {
		return false, err
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, errors.Errorf("adapter property Powered has unexpected type %T", v.Value())
	}
	return powered, nil
}

// Enable powers the adapter on. Completion is reported asynchronously as an adapter state event.
func (b *BlueZ) Enable(ctx context.Context) error {
	return b.setAdapterProperty(ctx, "Powered", true)
}

// SetName sets the name remote devices see when discovering the adapter.
func (b *BlueZ) SetName(ctx context.Context, name string) error {
	return b.setAdapterProperty(ctx, "Alias", name)
}

// SetDiscoverable makes the adapter discoverable, and thereby pairable, for timeout rounded up to
// whole seconds. BlueZ reads a zero timeout as "forever", so timeout must be positive.
func (b *BlueZ) SetDiscoverable(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return errors.Errorf("discoverable timeout must be positive, got %s", timeout)
	}
	seconds := uint32((timeout + time.Second - 1) / time.Second)
	if err := b.setAdapterProperty(ctx, "DiscoverableTimeout", seconds); err != nil {
		return err
	}
	return b.setAdapterProperty(ctx, "Discoverable", true)
}

// MissingProfiles returns the SinkProfiles the adapter does not serve. BlueZ only lists a service
// once an audio server such as PipeWire has registered an endpoint for it.
func (b *BlueZ) MissingProfiles(ctx context.Context) ([]int, error) {
	v, err := b.getAdapterProperty(ctx, "UUIDs")
	if err != nil {
		return nil, err
	}
	uuids, ok := v.Value().([]string)
	if !ok {
		return nil, errors.Errorf("adapter property UUIDs has unexpected type %T", v.Value())
	}
	return lo.Filter(SinkProfiles, func(profile int, _ int) bool {
		uuid, _ := ProfileUUID(profile)
		return !containsUUID(uuids, uuid)
	}), nil
}

// Profile returns the adapter's A2DP sink profile handle.
func (b *BlueZ) Profile() *BlueZProfile {
	return &BlueZProfile{b: b}
}

// Events subscribes to BlueZ property changes for this adapter and delivers them as Events until
// ctx is done or the adapter is closed. The returned channel is closed when delivery stops.
func (b *BlueZ) Events(ctx context.Context) (<-chan Event, error) {
	if err := b.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, propertiesChangedMatchArg).Err; err != nil {
		return nil, errors.Wrap(err, "failed to add DBus match rule")
	}

	signals := make(chan *dbus.Signal, 25)
	b.conn.Signal(signals)

	out := make(chan Event, 25)
	translator := NewSignalTranslator()
	b.workers.AddWorkers(func(workersCtx context.Context) {
		defer close(out)
		defer b.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case <-workersCtx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig == nil || !b.owns(sig.Path) {
					continue
				}
				for _, ev := range translator.Translate(sig) {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					case <-workersCtx.Done():
						return
					}
				}
			}
		}
	})
	return out, nil
}

// owns reports whether path is the adapter or one of the objects below it.
func (b *BlueZ) owns(path dbus.ObjectPath) bool {
	return path == b.adapterPath || strings.HasPrefix(string(path), string(b.adapterPath)+"/")
}

// Close stops event delivery and closes the bus connection.
func (b *BlueZ) Close() error {
	b.workers.Stop()
	return b.conn.Close()
}

// BlueZProfile is the A2DP sink profile of a BlueZ adapter. It supports disconnecting a single
// remote device.
type BlueZProfile struct {
	b *BlueZ
}

var _ Disconnectable = (*BlueZProfile)(nil)

// ConnectedDevices returns the sorted addresses of the devices connected to this adapter that
// stream audio to it.
func (p *BlueZProfile) ConnectedDevices(ctx context.Context) ([]string, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := p.b.conn.Object(bluezBusName, "/").
		CallWithContext(ctx, dbusObjectManagerIface+".GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list BlueZ objects")
	}

	var devices []string
	for _, ifaces := range objects {
		props, ok := ifaces[bluezDeviceInterface]
		if !ok {
			continue
		}
		if adapter, ok := props["Adapter"].Value().(dbus.ObjectPath); !ok || adapter != p.b.adapterPath {
			continue
		}
		if connected, ok := boolProperty(props, "Connected"); !ok || !connected {
			continue
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		if !containsUUID(uuids, A2DPSourceUUID) {
			continue
		}
		if address, ok := stringProperty(props, "Address"); ok {
			devices = append(devices, address)
		}
	}
	sort.Strings(devices)
	return devices, nil
}

// Disconnect drops the audio profile of device, falling back to a full disconnect if the profile
// cannot be dropped on its own.
func (p *BlueZProfile) Disconnect(ctx context.Context, device string) error {
	obj := p.b.conn.Object(bluezBusName, devicePath(p.b.adapterPath, device))
	profileErr := obj.CallWithContext(ctx, bluezDeviceInterface+".DisconnectProfile", 0, A2DPSourceUUID).Err
	if profileErr == nil {
		return nil
	}
	p.b.logger.Debugw("profile disconnect failed, disconnecting device", "device", device, "error", profileErr)
	if err := obj.CallWithContext(ctx, bluezDeviceInterface+".Disconnect", 0).Err; err != nil {
		return errors.Wrapf(multierr.Combine(profileErr, err), "failed to disconnect %s", device)
	}
	return nil
}

func containsUUID(uuids []string, want string) bool {
	for _, uuid := range uuids {
		if strings.EqualFold(uuid, want) {
			return true
		}
	}
	return false
}
