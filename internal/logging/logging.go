// internal/logging/logging.go

package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logrus logger writing to stderr at the given level.
// Unknown level names fall back to info.
func New(level string) *logrus.Logger {
	return NewWithOutput(level, os.Stderr)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// LogDealerConnect logs a message when a session has connected to the dealer.
func LogDealerConnect(log logrus.FieldLogger, transport string) {
	log.WithFields(logrus.Fields{
		"transport": transport,
	}).Info("Dealer connected")
}

// LogDealerDisconnect logs the end of a dealer connection. local is true when
// the client asked to leave; err carries the read failure otherwise.
func LogDealerDisconnect(log logrus.FieldLogger, local bool, err error) {
	fields := logrus.Fields{
		"local": local,
	}
	if err != nil {
		fields["error"] = err
	}
	if local {
		log.WithFields(fields).Info("Dealer disconnected")
		return
	}
	log.WithFields(fields).Warn("Dealer connection lost")
}
