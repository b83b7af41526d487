// Package board identifies the carrier board the sink runs on and maps its logical buttons to
// physical GPIO pin names.
package board

// A Variant names a specific carrier board / SoC combination with its own pin namespace. The
// underlying value is the raw platform device identifier, so a Variant resolved from hardware we
// do not support still carries the string that was read.
type Variant string

// The closed set of supported board variants.
const (
	EdisonArduinoBreakout = Variant("edison_arduino")
	Edison                = Variant("edison")
	Joule                 = Variant("joule")
	RaspberryPi3          = Variant("rpi3")
	Pico                  = Variant("imx6ul_pico")
	Vvdn                  = Variant("imx6ul_iopb")
)

// arduinoPinPrefix is the line name prefix exposed by the Edison Arduino breakout carrier. The bare
// Edison module exposes GP-prefixed names instead.
const arduinoPinPrefix = "IO"

var variantNames = map[Variant]string{
	EdisonArduinoBreakout: "Intel Edison (Arduino breakout)",
	Edison:                "Intel Edison",
	Joule:                 "Intel Joule",
	RaspberryPi3:          "Raspberry Pi 3",
	Pico:                  "NXP i.MX6UL Pico",
	Vvdn:                  "NXP i.MX6UL IoT (VVDN)",
}

// Variants returns every supported variant in a stable order.
func Variants() []Variant {
	return []Variant{EdisonArduinoBreakout, Edison, Joule, RaspberryPi3, Pico, Vvdn}
}

// Known reports whether v is one of the supported variants.
func (v Variant) Known() bool {
	_, ok := variantNames[v]
	return ok
}

// DeviceID returns the raw platform identifier the variant was resolved from.
func (v Variant) DeviceID() string {
	return string(v)
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return "unknown board " + string(v)
}

// Function is a logical function wired to a physical button.
type Function string

// The button functions of the sink.
const (
	PairingButton       = Function("pairing")
	DisconnectAllButton = Function("disconnect_all")
)

// Functions returns every logical function in a stable order.
func Functions() []Function {
	return []Function{PairingButton, DisconnectAllButton}
}

// Known reports whether f is one of the defined functions.
func (f Function) Known() bool {
	return f == PairingButton || f == DisconnectAllButton
}

func (f Function) String() string {
	return string(f)
}
