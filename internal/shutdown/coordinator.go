package shutdown

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/dhara/pkg/logging"
)

// ExitCommand typed on the console stops the running session.
const ExitCommand = "exit"

// Stopper is the server being coordinated.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reason says what ended the session.
type Reason string

const (
	ReasonCompleted   Reason = "completed"
	ReasonExit        Reason = "exit"
	ReasonSignal      Reason = "signal"
	ReasonServerError Reason = "server error"
	ReasonCanceled    Reason = "canceled"
)

type Options struct {
	// Console is scanned line by line for ExitCommand. Nil disables it.
	Console io.Reader
	// Signals overrides os.Interrupt and SIGTERM delivery.
	Signals <-chan os.Signal
	// AutoStop stops the server once the session reports completion.
	AutoStop bool
	// GraceDelay lets the last response flush before an automatic stop.
	GraceDelay      time.Duration
	ShutdownTimeout time.Duration
	Logger          logrus.FieldLogger
}

// Coordinator stops one server exactly once, whichever trigger fires first.
type Coordinator struct {
	stopper Stopper
	opts    Options
	log     logrus.FieldLogger

	once    sync.Once
	stopped chan struct{}
	reason  Reason
	err     error
}

func New(stopper Stopper, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = logging.Logger()
	}
	return &Coordinator{
		stopper: stopper,
		opts:    opts,
		log:     log,
		stopped: make(chan struct{}),
	}
}

// Stop stops the server for the given reason. Only the first call reaches
// the server; every call returns the outcome of that first stop.
func (c *Coordinator) Stop(reason Reason) error {
	c.once.Do(func() {
		c.reason = reason
		c.log.WithField("reason", reason).Info("Stopping server")

		ctx := context.Background()
		if c.opts.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.ShutdownTimeout)
			defer cancel()
		}
		c.err = c.stopper.Stop(ctx)
		close(c.stopped)
	})
	<-c.stopped
	return c.err
}

// Stopped is closed once the server has been stopped.
func (c *Coordinator) Stopped() <-chan struct{} {
	return c.stopped
}

// Wait blocks until a trigger fires and the server is stopped. completed
// is closed by a session that finished its work; failed carries fatal
// server errors. Either may be nil.
func (c *Coordinator) Wait(ctx context.Context, completed <-chan struct{}, failed <-chan error) (Reason, error) {
	signals := c.opts.Signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	exit := c.watchConsole()

	var grace <-chan time.Time
	for {
		select {
		case <-c.stopped:
			return c.reason, c.err
		case <-ctx.Done():
			return ReasonCanceled, c.Stop(ReasonCanceled)
		case sig := <-signals:
			c.log.WithField("signal", sig.String()).Info("Received signal")
			return ReasonSignal, c.Stop(ReasonSignal)
		case <-exit:
			return ReasonExit, c.Stop(ReasonExit)
		case err := <-failed:
			c.log.WithError(err).Error("Transfer server failed")
			if stopErr := c.Stop(ReasonServerError); stopErr != nil {
				c.log.WithError(stopErr).Warn("Failed to stop server")
			}
			return ReasonServerError, err
		case <-completed:
			completed = nil
			if !c.opts.AutoStop {
				c.log.Infof("Transfer finished. Type %q or press Ctrl+C to stop the server", ExitCommand)
				continue
			}
			t := time.NewTimer(c.opts.GraceDelay)
			defer t.Stop()
			grace = t.C
		case <-grace:
			return ReasonCompleted, c.Stop(ReasonCompleted)
		}
	}
}

// watchConsole reports the first exit line. The scanning goroutine ends
// with its reader; a blocked terminal read is left behind at process exit.
func (c *Coordinator) watchConsole() <-chan struct{} {
	if c.opts.Console == nil {
		return nil
	}
	exit := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(c.opts.Console)
		for scanner.Scan() {
			if strings.EqualFold(strings.TrimSpace(scanner.Text()), ExitCommand) {
				close(exit)
				return
			}
			select {
			case <-c.stopped:
				return
			default:
			}
		}
		if err := scanner.Err(); err != nil {
			c.log.WithError(err).Debug("Console closed")
		}
	}()
	return exit
}
