package board

// ButtonPins holds the pin names of both buttons on one board.
type ButtonPins struct {
	Pairing       string
	DisconnectAll string
}

// For returns the pin wired to the given function.
func (bp ButtonPins) For(fn Function) (string, error) {
	switch fn {
	case PairingButton:
		return bp.Pairing, nil
	case DisconnectAllButton:
		return bp.DisconnectAll, nil
	default:
		return "", &UnknownFunctionError{Function: fn}
	}
}

// boardPinMappings is fixed at definition time and never mutated, so it is safe to read from any
// goroutine.
var boardPinMappings = map[Variant]ButtonPins{
	EdisonArduinoBreakout: {Pairing: "IO12", DisconnectAll: "IO11"},
	Edison:                {Pairing: "GP44", DisconnectAll: "GP45"},
	Joule:                 {Pairing: "FLASH_TRIGGER", DisconnectAll: "FLASH_TORCH"},
	RaspberryPi3:          {Pairing: "BCM21", DisconnectAll: "BCM20"},
	Pico:                  {Pairing: "GPIO4_IO20", DisconnectAll: "GPIO1_IO18"},
	Vvdn:                  {Pairing: "GPIO3_IO01", DisconnectAll: "GPIO3_IO06"},
}

// ButtonPinsFor returns both button pins of a variant.
func ButtonPinsFor(v Variant) (ButtonPins, error) {
	pins, ok := boardPinMappings[v]
	if !ok {
		return ButtonPins{}, NewUnknownVariantError(v.DeviceID())
	}
	return pins, nil
}

// PinFor returns the physical pin name wired to fn on board v. It fails with an
// *UnknownVariantError for unsupported boards rather than returning a default.
func PinFor(v Variant, fn Function) (string, error) {
	pins, err := ButtonPinsFor(v)
	if err != nil {
		return "", err
	}
	return pins.For(fn)
}
