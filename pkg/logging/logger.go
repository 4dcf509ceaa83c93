package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

// Redactor is installed on every logger built by InitLogger.
var Redactor = NewRedactHook()

func InitLogger(debug bool) {
	Log = newLogger(os.Stdout, debug)
}

func newLogger(out io.Writer, debug bool) *logrus.Logger {
	l := logrus.New()
	l.Out = out
	l.AddHook(Redactor)

	if debug {
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// Logger returns the process logger, falling back to logrus' standard
// logger when InitLogger has not run (tests, library use).
func Logger() logrus.FieldLogger {
	if Log == nil {
		return logrus.StandardLogger()
	}
	return Log
}
