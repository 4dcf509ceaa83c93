package main

import (
	"context"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/dhara/config"
	"github.com/jaywantadh/dhara/internal/metadata"
	"github.com/jaywantadh/dhara/internal/netaddr"
	"github.com/jaywantadh/dhara/internal/transfer"
	"github.com/jaywantadh/dhara/pkg/env"
	"github.com/jaywantadh/dhara/pkg/logging"
)

const version = "0.1.0"

var (
	headline = color.New(color.FgCyan, color.Bold)
	success  = color.New(color.FgGreen, color.Bold)
	warning  = color.New(color.FgYellow)
)

func main() {
	env.LoadEnv()
	if env.GetEnv("NO_COLOR", "") != "" || env.GetEnvBool("DHARA_NO_COLOR", false) {
		color.NoColor = true
	}

	app := newApp(os.Stdout, os.Stdin)
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		logging.Logger().Fatal(err)
	}
}

// newApp wires the commands to the given console.
func newApp(out io.Writer, console io.Reader) *cli.App {
	return &cli.App{
		Name:      "dhara",
		Usage:     "Instant file sharing via QR code",
		Version:   version,
		ArgsUsage: "<file...>",
		Writer:    out,
		Flags: append(commonFlags(),
			&cli.BoolFlag{
				Name:    "multiple",
				Aliases: []string{"m"},
				Usage:   "share the inputs as one archive even when there is a single file",
			},
			&cli.BoolFlag{
				Name:  "interactive",
				Usage: "keep serving after the download completes until \"exit\" or Ctrl+C",
			},
		),
		Action: func(c *cli.Context) error {
			return runShare(c, out, console)
		},
		Commands: []*cli.Command{
			{
				Name:    "receive",
				Aliases: []string{"r"},
				Usage:   "Receive files from a phone or another browser",
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:    "id",
						Aliases: []string{"i"},
						Usage:   "session id (default: random)",
					},
					&cli.StringFlag{
						Name:  "dir",
						Usage: "parent directory of the upload folder (default: working directory)",
					},
				),
				Action: func(c *cli.Context) error {
					return runReceive(c, out, console)
				},
			},
			{
				Name:  "history",
				Usage: "List recent transfers",
				Flags: append(commonFlags(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "number of records to show",
						Value: 20,
					},
				),
				Action: func(c *cli.Context) error {
					return runHistory(c, out)
				},
			},
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "directory holding dhara.yaml",
			Value:   ".",
			EnvVars: []string{"DHARA_CONFIG_DIR"},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "port to listen on",
		},
		&cli.StringFlag{
			Name:  "host",
			Usage: "address to advertise instead of the detected LAN address",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "verbose text logs",
		},
	}
}

// setup loads the configuration, lets command line flags override it and
// initializes the logger.
func setup(c *cli.Context) (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}
	if c.Bool("interactive") {
		cfg.AutoStop = false
	}
	if c.IsSet("dir") {
		cfg.UploadBaseDir = c.String("dir")
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}

	logging.InitLogger(cfg.Debug)
	return cfg, nil
}

// endpoint is the address peers use to reach this machine.
func endpoint(cfg *config.AppConfig, log logrus.FieldLogger) transfer.Endpoint {
	addr := cfg.Host
	if addr == "" {
		addr = netaddr.NewResolver(log).Resolve()
	}
	return transfer.Endpoint{Address: addr, Port: cfg.Port}
}

func serverOptions(cfg *config.AppConfig, log logrus.FieldLogger) transfer.ServerOptions {
	return transfer.ServerOptions{
		Port:              cfg.Port,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		Logger:            log,
	}
}

// openHistory opens the transfer ledger. History is optional: a disabled or
// locked store only costs the records of this run.
func openHistory(cfg *config.AppConfig, log logrus.FieldLogger) *metadata.HistoryStore {
	if cfg.HistoryPath == "" {
		return nil
	}
	store, err := metadata.OpenHistoryStore(cfg.HistoryPath)
	if err != nil {
		log.WithError(err).Warn("Transfer history unavailable")
		return nil
	}
	return store
}
