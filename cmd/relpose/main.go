// Command relpose prints the position of a subject device relative to a
// reference device.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/zeusync/relpose/internal/config"
	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/injector"
	"github.com/zeusync/relpose/internal/output"
)

const (
	flagConfig    = "config"
	flagSubject   = "subject"
	flagReference = "reference"
	flagSource    = "source"
	flagTrace     = "trace"
	flagInterval  = "interval"
	flagCycles    = "cycles"
	flagFormat    = "format"
	flagList      = "list"
	flagVerbose   = "v"
)

func main() {
	defaults := config.Default()

	app := &cli.App{
		Name:      "relpose",
		Usage:     "print a device's position relative to a reference device",
		UsageText: "relpose [-config FILE] [-subject NAME] [-reference NAME] [-source sim|replay|network] [-list]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagConfig,
				Usage: "load configuration from `FILE` (YAML, or JSON with a .json extension)",
			},
			&cli.StringFlag{
				Name:  flagSubject,
				Value: defaults.Subject,
				Usage: "device whose position is reported",
			},
			&cli.StringFlag{
				Name:  flagReference,
				Value: defaults.Reference,
				Usage: "device whose frame the position is expressed in",
			},
			&cli.StringFlag{
				Name:  flagSource,
				Value: defaults.Source.Kind,
				Usage: "pose source: sim, replay or network",
			},
			&cli.StringFlag{
				Name:  flagTrace,
				Usage: "trace `FILE` for the replay source",
			},
			&cli.DurationFlag{
				Name:  flagInterval,
				Value: defaults.Interval,
				Usage: "time between readings",
			},
			&cli.Uint64Flag{
				Name:  flagCycles,
				Usage: "stop after this many cycles (0 runs until interrupted)",
			},
			&cli.StringFlag{
				Name:  flagFormat,
				Value: defaults.Output.Format,
				Usage: "output format: console or json",
			},
			&cli.BoolFlag{
				Name:  flagList,
				Usage: "list detected devices and exit",
			},
			&cli.BoolFlag{
				Name:  flagVerbose,
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies explicitly set flags on top.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	if c.IsSet(flagSubject) {
		cfg.Subject = c.String(flagSubject)
	}
	if c.IsSet(flagReference) {
		cfg.Reference = c.String(flagReference)
	}
	if c.IsSet(flagSource) {
		cfg.Source.Kind = c.String(flagSource)
	}
	if c.IsSet(flagTrace) {
		cfg.Source.Replay.Path = c.String(flagTrace)
		if !c.IsSet(flagSource) {
			cfg.Source.Kind = config.SourceReplay
		}
	}
	if c.IsSet(flagInterval) {
		cfg.Interval = c.Duration(flagInterval)
	}
	if c.IsSet(flagCycles) {
		cfg.MaxCycles = c.Uint64(flagCycles)
	}
	if c.IsSet(flagFormat) {
		cfg.Output.Format = c.String(flagFormat)
	}
	if c.Bool(flagVerbose) {
		cfg.LogLevel = log.LevelDebug.String()
	}

	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return errors.Wrap(err, "config")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := injector.InitializeApp(cfg, os.Stdout)
	if err != nil {
		return err
	}

	if c.Bool(flagList) {
		return app.ListDevices(ctx, os.Stdout)
	}

	if err := app.Check(ctx); err != nil {
		return err
	}

	if cfg.Output.Format == output.FormatConsole {
		fmt.Printf("Tracking %s relative to %s. Press Ctrl+C to stop.\n", cfg.Subject, cfg.Reference)
		defer fmt.Println()
	}
	return app.Run(ctx)
}
