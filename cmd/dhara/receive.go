package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/dhara/internal/display"
	"github.com/jaywantadh/dhara/internal/shutdown"
	"github.com/jaywantadh/dhara/internal/transfer"
	"github.com/jaywantadh/dhara/pkg/logging"
)

// runReceive accepts uploads into a fresh dhara_uploads_<ms> directory
// until the operator stops it.
func runReceive(c *cli.Context, out io.Writer, console io.Reader) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	log := logging.Logger()

	baseDir, err := cfg.UploadDir()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	opts := []transfer.UploadOption{
		transfer.WithIDBytes(cfg.TokenBytes),
		transfer.WithMaxBodySize(cfg.MaxUploadSize),
		transfer.WithUploadLogger(log),
	}
	if id := c.String("id"); id != "" {
		opts = append(opts, transfer.WithSessionID(id))
	}
	if history := openHistory(cfg, log); history != nil {
		defer history.Close()
		opts = append(opts, transfer.WithUploadRecorder(history))
	}

	session, err := transfer.NewUploadSession(baseDir, time.Now(), endpoint(cfg, log), opts...)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	srv := transfer.NewServer(session, serverOptions(cfg, log))
	if err := srv.Start(); err != nil {
		// Only removes the directory while it is still empty.
		os.Remove(session.Dir())
		return cli.Exit(err.Error(), 1)
	}

	headline.Fprintf(out, "Receiving into: %s\n", session.Dir())
	display.New(out).Show(session.URL(),
		"Scan the QR code to upload files.",
		fmt.Sprintf("Type %q or press Ctrl+C to stop.", shutdown.ExitCommand),
	)

	coord := shutdown.New(srv, shutdown.Options{
		Console:         console,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          log,
	})
	if _, err := coord.Wait(c.Context, nil, srv.Errors()); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	success.Fprintf(out, "Received %d file(s) into %s\n", session.ReceivedCount(), session.Dir())
	return nil
}
