package board

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// A DeviceIDSource reads the raw hardware identifier of the running platform.
type DeviceIDSource interface {
	DeviceID(ctx context.Context) (string, error)
}

// A GPIOLister enumerates the GPIO line names the platform exposes, in platform order.
type GPIOLister interface {
	GPIONames(ctx context.Context) ([]string, error)
}

// StaticDeviceID is a DeviceIDSource that always returns the same identifier.
type StaticDeviceID string

// DeviceID returns the identifier.
func (s StaticDeviceID) DeviceID(ctx context.Context) (string, error) {
	return string(s), nil
}

// StaticGPIONames is a GPIOLister that always returns the same names.
type StaticGPIONames []string

// GPIONames returns a copy of the names.
func (s StaticGPIONames) GPIONames(ctx context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// compatibleDeviceIDs maps device-tree compatible strings to the raw identifiers the pin table is
// keyed on.
var compatibleDeviceIDs = map[string]string{
	"raspberrypi,3-model-b":      RaspberryPi3.DeviceID(),
	"raspberrypi,3-model-b-plus": RaspberryPi3.DeviceID(),
	"technexion,imx6ul-pico":     Pico.DeviceID(),
	"technexion,imx6ul-pico-pi":  Pico.DeviceID(),
}

// dmiBoardNames maps substrings of the x86 DMI board name to raw identifiers.
var dmiBoardNames = []struct {
	substr   string
	deviceID string
}{
	{"edison", Edison.DeviceID()},
	{"joule", Joule.DeviceID()},
}

// HostDeviceIDSource identifies the board from the device tree on ARM hosts and from DMI on x86
// hosts. Root is prepended to every path and is only set in tests.
type HostDeviceIDSource struct {
	Root string
}

const (
	deviceTreeCompatiblePath = "/proc/device-tree/compatible"
	dmiBoardNamePath         = "/sys/devices/virtual/dmi/id/board_name"
)

// DeviceID returns the raw identifier of the host. If the host exposes identification data that
// matches none of the known boards, the trimmed data itself is returned so that the failure can
// name it.
func (s HostDeviceIDSource) DeviceID(ctx context.Context) (string, error) {
	compatibles, err := s.readCompatibles()
	if err != nil {
		return "", err
	}
	for _, compat := range compatibles {
		if id, ok := compatibleDeviceIDs[compat]; ok {
			return id, nil
		}
	}

	boardName, err := s.readDMIBoardName()
	if err != nil {
		return "", err
	}
	lowered := strings.ToLower(boardName)
	for _, candidate := range dmiBoardNames {
		if strings.Contains(lowered, candidate.substr) {
			return candidate.deviceID, nil
		}
	}

	switch {
	case len(compatibles) > 0:
		return compatibles[0], nil
	case boardName != "":
		return boardName, nil
	default:
		return "", errors.New("could not read a device identifier from the device tree or DMI")
	}
}

// readCompatibles returns the NUL separated entries of the device tree compatible file, or nil
// if the host has no device tree.
func (s HostDeviceIDSource) readCompatibles() ([]string, error) {
	//nolint:gosec
	compatiblesRd, err := os.ReadFile(filepath.Join(s.Root, deviceTreeCompatiblePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading device tree compatible")
	}

	// Remove any initial or final null bytes, then split on the rest of them.
	compatiblesStr := strings.Trim(string(compatiblesRd), "\x00")
	if compatiblesStr == "" {
		return nil, nil
	}
	return strings.Split(compatiblesStr, "\x00"), nil
}

func (s HostDeviceIDSource) readDMIBoardName() (string, error) {
	//nolint:gosec
	boardName, err := os.ReadFile(filepath.Join(s.Root, dmiBoardNamePath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "reading DMI board name")
	}
	return string(bytes.TrimSpace(boardName)), nil
}

var (
	hostInitOnce sync.Once
	errHostInit  error
)

// InitHost loads the periph.io host drivers once per process. Pin lookups through gpioreg find
// nothing before it has run.
func InitHost() error {
	hostInitOnce.Do(func() {
		_, errHostInit = host.Init()
	})
	if errHostInit != nil {
		return errors.Wrap(errHostInit, "initializing periph host drivers")
	}
	return nil
}

// PeriphGPIOLister lists the GPIO lines registered with periph.io after host initialization.
type PeriphGPIOLister struct{}

// GPIONames returns the names of all registered GPIO pins.
func (PeriphGPIOLister) GPIONames(ctx context.Context) ([]string, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}

	pins := gpioreg.All()
	names := make([]string, 0, len(pins))
	for _, pin := range pins {
		names = append(names, pin.Name())
	}
	return names, nil
}
