package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"go.viam.com/audiosink/bluetooth/a2dpsink"
	"go.viam.com/audiosink/components/board"
	"go.viam.com/audiosink/config"
	"go.viam.com/audiosink/logging"
	"go.viam.com/audiosink/sink"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"
	flagDevice = "device"
	flagAll    = "all"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "audiosink",
		Usage: "turn this board into a Bluetooth speaker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagDevice,
				Usage: "use `ID` as the platform device identifier instead of reading it from the host",
			},
		},
		Action: runCommand,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the audio sink until interrupted",
				Action: runCommand,
			},
			{
				Name:  "board",
				Usage: "print the detected board and its button pins",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagAll,
						Usage: "also print the pins of every supported board",
					},
				},
				Action: boardCommand,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the configuration file",
				Action: schemaCommand,
			},
		},
	}
}

// flagOverrides are the global flags that take precedence over the config file.
type flagOverrides struct {
	device string
	debug  bool
}

func overridesFrom(c *cli.Context) flagOverrides {
	var o flagOverrides
	if c.IsSet(flagDevice) {
		o.device = c.String(flagDevice)
	}
	o.debug = c.Bool(flagDebug)
	return o
}

// apply returns a copy of fileConf with the overrides applied. fileConf is left as read so that
// reloads compare file contents only.
func (o flagOverrides) apply(fileConf *config.Config) *config.Config {
	conf := fileConf.Clone()
	if o.device != "" {
		conf.Device = o.device
	}
	if o.debug {
		conf.Debug = true
	}
	return conf
}

// setup reads the config, applies global flags and installs the process logger and board resolver.
// It returns the config as read from the file and the effective config.
func setup(c *cli.Context) (fileConf, conf *config.Config, logger logging.Logger, err error) {
	logger = logging.NewLogger("audiosink")
	fileConf, err = config.Read(c.String(flagConfig), logger)
	if err != nil {
		return nil, nil, nil, err
	}
	conf = overridesFrom(c).apply(fileConf)
	if conf.LogFile != "" {
		logger.AddAppender(logging.NewFileAppender(conf.LogFile))
	}
	logger.SetLevel(conf.Level())
	// main closes the global logger, and with it the log file, on exit.
	logging.ReplaceGlobal(logger)
	board.SetDefaultResolver(newResolver(conf, logger.Sublogger("board")))
	return fileConf, conf, logger, nil
}

// newResolver honors configured identification overrides and reads the host otherwise.
func newResolver(conf *config.Config, logger logging.Logger) *board.Resolver {
	var ids board.DeviceIDSource = board.HostDeviceIDSource{}
	if conf.Device != "" {
		ids = board.StaticDeviceID(conf.Device)
	}
	var lister board.GPIOLister = board.PeriphGPIOLister{}
	if len(conf.GPIOLines) > 0 {
		lister = board.StaticGPIONames(conf.GPIOLines)
	}
	return board.NewResolver(ids, lister, logger)
}

func boardCommand(c *cli.Context) error {
	_, conf, logger, err := setup(c)
	if err != nil {
		return err
	}
	variant := board.Resolve(c.Context)

	if c.Bool(flagAll) {
		t := table.NewWriter()
		t.AppendHeader(table.Row{"", "Device", "Board", "Pairing", "Disconnect all"})
		for _, v := range board.Variants() {
			pins, err := board.ButtonPinsFor(v)
			if err != nil {
				return err
			}
			marker := ""
			if v == variant {
				marker = "*"
			}
			t.AppendRow(table.Row{marker, v.DeviceID(), v.String(), pins.Pairing, pins.DisconnectAll})
		}
		fmt.Fprintln(c.App.Writer, t.Render())
	}

	if !variant.Known() {
		fmt.Fprintf(c.App.Writer, "board: %s\n", color.RedString(variant.String()))
	} else {
		fmt.Fprintf(c.App.Writer, "board: %s (%s)\n", color.GreenString(variant.String()), variant.DeviceID())
	}

	ctrl := sink.NewController(conf, board.DefaultResolver(), nil, nil, nil, logger)
	pins, err := ctrl.Pins(c.Context)
	if err != nil {
		return err
	}
	for _, fn := range board.Functions() {
		note := ""
		if _, ok := conf.PinOverride(fn); ok {
			note = " (configured)"
		}
		fmt.Fprintf(c.App.Writer, "%s: %s%s\n", strings.ReplaceAll(fn.String(), "_", " "), pins[fn], note)
	}
	return nil
}

func schemaCommand(c *cli.Context) error {
	rd, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(rd))
	return nil
}

func runCommand(c *cli.Context) (err error) {
	fileConf, conf, logger, err := setup(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, unix.SIGINT, unix.SIGTERM)
	defer stop()

	bluez, err := a2dpsink.NewBlueZ(conf.Adapter, logger.Sublogger("bluez"))
	if err != nil {
		return err
	}
	ctrl := sink.NewController(conf, board.DefaultResolver(), bluez, bluez.Profile(), nil, logger.Sublogger("sink"))
	defer func() {
		err = multierr.Combine(err, ctrl.Close(), bluez.Close())
	}()
	if len(conf.AnnounceCommand) > 0 {
		announcer, announcerErr := sink.NewCommandAnnouncer(conf.AnnounceCommand, logger.Sublogger("announce"))
		if announcerErr != nil {
			return announcerErr
		}
		defer func() {
			err = multierr.Combine(err, announcer.Close())
		}()
		ctrl.SetAnnouncer(announcer)
	}

	// Subscribe first so the adapter coming on after Start is not missed.
	events, err := bluez.Events(ctx)
	if err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return errors.Wrap(err, "cannot start audio sink")
	}
	logger.Infow("audio sink running", "adapter", conf.Adapter, "name", conf.FriendlyName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx, events)
	})
	if path := c.String(flagConfig); path != "" {
		g.Go(func() error {
			overrides := overridesFrom(c)
			return config.Watch(gctx, path, fileConf, logger, func(nextFileConf *config.Config) {
				next := overrides.apply(nextFileConf)
				logger.SetLevel(next.Level())
				if err := ctrl.Reconfigure(gctx, next); err != nil {
					logger.Warnw("could not apply config change", "error", err)
				}
			})
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("audio sink stopped")
	return nil
}
