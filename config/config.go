// Package config defines the on-disk configuration of the audio sink.
package config

import (
	"maps"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	goutils "go.viam.com/utils"

	"go.viam.com/audiosink/components/board"
	"go.viam.com/audiosink/logging"
)

// Defaults applied to fields missing from the file.
const (
	DefaultAdapter             = "hci0"
	DefaultFriendlyName        = "Bluetooth Speaks Things"
	DefaultDiscoverableTimeout = "300s"
	DefaultDebounceMs          = 50
)

// Config is the audio sink configuration.
type Config struct {
	// Device overrides the platform device identifier used to pick the board variant.
	Device string `json:"device,omitempty"`
	// GPIOLines overrides GPIO line enumeration. Only consulted on Edison modules.
	GPIOLines []string `json:"gpio_lines,omitempty"`

	Adapter             string `json:"adapter,omitempty"`
	FriendlyName        string `json:"friendly_name,omitempty"`
	DiscoverableTimeout string `json:"discoverable_timeout,omitempty"`
	DebounceMs          int    `json:"debounce_ms"`

	// Pins maps a button function to a pin name, replacing the board's default for that function.
	Pins map[string]string `json:"pins,omitempty"`

	// AnnounceCommand is a text-to-speech command, e.g. ["espeak", "-v", "en"], run with each
	// announcement appended. Announcements are off when it is empty.
	AnnounceCommand []string `json:"announce_command,omitempty"`

	// Debug forces the debug log level.
	Debug bool `json:"debug,omitempty"`
	// LogLevel is one of debug, info, warn or error. It defaults to info.
	LogLevel string `json:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Adapter:             DefaultAdapter,
		FriendlyName:        DefaultFriendlyName,
		DiscoverableTimeout: DefaultDiscoverableTimeout,
		DebounceMs:          DefaultDebounceMs,
	}
}

// FromMap converts an attribute map to a Config layered over the defaults. It also returns the
// sorted keys that did not correspond to any field.
func FromMap(attributes map[string]interface{}) (*Config, []string, error) {
	conf := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           conf,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, nil, errors.Wrap(err, "error decoding config")
	}
	sort.Strings(md.Unused)
	return conf, md.Unused, nil
}

// Read reads, decodes and validates the config file at path. The file is JSON5, so comments and
// trailing commas are allowed. An empty path yields the defaults.
func Read(path string, logger logging.Logger) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	//nolint:gosec
	rd, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config file")
	}
	var attributes map[string]interface{}
	if err := json5.Unmarshal(rd, &attributes); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config file %s", path)
	}
	conf, unused, err := FromMap(attributes)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid config file %s", path)
	}
	if len(unused) > 0 {
		logger.Warnw("config file has unrecognized fields, ignoring them", "path", path, "fields", unused)
	}
	if err := conf.Validate(path); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Adapter == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "adapter")
	}
	if conf.FriendlyName == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "friendly_name")
	}
	timeout, err := time.ParseDuration(conf.DiscoverableTimeout)
	if err != nil {
		return goutils.NewConfigValidationError(path, errors.Wrap(err, "discoverable_timeout"))
	}
	if timeout < time.Second {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("discoverable_timeout must be at least 1s, got %s", conf.DiscoverableTimeout))
	}
	if conf.DebounceMs < 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("debounce_ms cannot be negative, got %d", conf.DebounceMs))
	}

	unknown := lo.Filter(lo.Keys(conf.Pins), func(fn string, _ int) bool {
		return !board.Function(fn).Known()
	})
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return goutils.NewConfigValidationError(path,
			errors.Errorf("pins: unknown button functions %v, expected one of %v", unknown, board.Functions()))
	}
	for fn, pin := range conf.Pins {
		if pin == "" {
			return goutils.NewConfigValidationFieldRequiredError(path, "pins."+fn)
		}
	}
	if len(conf.AnnounceCommand) > 0 && conf.AnnounceCommand[0] == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "announce_command[0]")
	}
	if conf.LogLevel != "" {
		if _, err := logging.LevelFromString(conf.LogLevel); err != nil {
			return goutils.NewConfigValidationError(path, errors.Wrap(err, "log_level"))
		}
	}
	return nil
}

// Level returns the configured log level. Debug wins over LogLevel.
func (conf *Config) Level() logging.Level {
	if conf.Debug {
		return logging.DEBUG
	}
	level, err := logging.LevelFromString(conf.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// Clone returns a deep copy of conf.
func (conf *Config) Clone() *Config {
	clone := *conf
	clone.GPIOLines = slices.Clone(conf.GPIOLines)
	clone.Pins = maps.Clone(conf.Pins)
	clone.AnnounceCommand = slices.Clone(conf.AnnounceCommand)
	return &clone
}

// Discoverable returns how long the adapter stays discoverable after a pairing request, or zero if
// the config has not been validated.
func (conf *Config) Discoverable() time.Duration {
	timeout, err := time.ParseDuration(conf.DiscoverableTimeout)
	if err != nil {
		return 0
	}
	return timeout
}

// Debounce returns the button debounce window.
func (conf *Config) Debounce() time.Duration {
	return time.Duration(conf.DebounceMs) * time.Millisecond
}

// PinOverride returns the configured pin for fn, if any.
func (conf *Config) PinOverride(fn board.Function) (string, bool) {
	pin, ok := conf.Pins[string(fn)]
	return pin, ok
}

// Schema returns the JSON schema of the config file.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
