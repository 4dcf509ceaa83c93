package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/dhara/config"
	"github.com/jaywantadh/dhara/internal/compressor"
	"github.com/jaywantadh/dhara/internal/display"
	"github.com/jaywantadh/dhara/internal/shutdown"
	"github.com/jaywantadh/dhara/internal/transfer"
	"github.com/jaywantadh/dhara/pkg/logging"
)

// runShare serves one file, or an archive of several inputs, exactly once.
func runShare(c *cli.Context, out io.Writer, console io.Reader) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return cli.Exit("missing file argument, see dhara --help", 1)
	}
	log := logging.Logger()

	source, cleanup, err := prepareSource(c.Args().Slice(), c.Bool("multiple"), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []transfer.DownloadOption{
		transfer.WithTokenBytes(cfg.TokenBytes),
		transfer.WithProgress(transfer.TerminalProgress(out)),
		transfer.WithLogger(log),
	}
	if history := openHistory(cfg, log); history != nil {
		defer history.Close()
		opts = append(opts, transfer.WithRecorder(history))
	}

	session, err := transfer.NewDownloadSession(source, endpoint(cfg, log), opts...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	srv := transfer.NewServer(session, serverOptions(cfg, log))
	if err := srv.Start(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	headline.Fprintf(out, "Sharing: %s (%s)\n", session.FileName(), humanize.IBytes(uint64(session.FileSize())))
	display.New(out).Show(session.URL(),
		"Scan the QR code to download. The link works once.",
		fmt.Sprintf("Type %q or press Ctrl+C to stop.", shutdown.ExitCommand),
	)

	coord := shutdown.New(srv, shutdown.Options{
		Console:         console,
		AutoStop:        cfg.AutoStop,
		GraceDelay:      cfg.GraceDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          log,
	})
	reason, err := coord.Wait(c.Context, session.Done(), srv.Errors())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	switch session.State() {
	case transfer.StateCompleted:
		success.Fprintln(out, "Transfer complete.")
	case transfer.StateFailed:
		warning.Fprintln(out, "Transfer failed before completion.")
	default:
		warning.Fprintf(out, "Stopped (%s) before the file was downloaded.\n", reason)
	}
	return nil
}

// prepareSource validates the inputs and bundles them when needed. The
// returned cleanup removes a temporary archive.
func prepareSource(args []string, multiple bool, cfg *config.AppConfig) (string, func(), error) {
	noop := func() {}

	inputs, err := compressor.ResolveInputs(args)
	if err != nil {
		var nf *compressor.NotFoundError
		if errors.As(err, &nf) {
			return "", noop, cli.Exit("File not found: "+nf.Path, 1)
		}
		return "", noop, cli.Exit(err.Error(), 1)
	}

	bundle, err := compressor.NeedsBundle(inputs, multiple)
	if err != nil {
		return "", noop, cli.Exit(err.Error(), 1)
	}
	if !bundle {
		return inputs[0], noop, nil
	}

	archive, err := compressor.BuildArchive(inputs, "", cfg.ArchiveFormat)
	if err != nil {
		return "", noop, cli.Exit(err.Error(), 1)
	}
	return archive, func() {
		if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
			logging.Logger().WithError(err).Warn("Failed to remove temporary archive")
		}
	}, nil
}
