package board

import "fmt"

// An UnknownVariantError is returned when a pin is requested for a board that is not one of the
// supported variants. It is not retryable: guessing a pin on unsupported hardware could drive an
// undefined physical line.
type UnknownVariantError struct {
	DeviceID string
}

func (err *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown board device %q: no GPIO pin mapping", err.DeviceID)
}

// NewUnknownVariantError returns an error identifying the raw device string that failed to map.
func NewUnknownVariantError(deviceID string) error {
	return &UnknownVariantError{DeviceID: deviceID}
}

// An UnknownFunctionError is returned when a pin is requested for an undefined button function.
type UnknownFunctionError struct {
	Function Function
}

func (err *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown button function %q", string(err.Function))
}
