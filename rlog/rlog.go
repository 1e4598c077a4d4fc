// Package rlog is the controller's structured logging facade. It
// generalizes the teacher's launchpad.net/snappy/logger package (which
// activated a simple file+stderr log.Logger and tagged returned errors)
// into a logrus-backed logger, following the logging library used by
// mendersoftware/mender, the domain twin for this spec.
package rlog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// L is the package-level logger every component logs through.
var L = logrus.New()

const defaultLogPath = "/run/rugix/rugix-ctrl.log"

// Activate opens path (creating parent directories as needed) and directs
// log output there. When alsoStderr is true, output is duplicated to
// stderr as well, matching the teacher's behavior of always keeping a
// stderr fallback available for interactive invocations.
func Activate(path string, alsoStderr bool) error {
	if path == "" {
		path = defaultLogPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	var w io.Writer = f
	if alsoStderr {
		w = io.MultiWriter(f, os.Stderr)
	}
	L.SetOutput(w)
	L.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// LogError logs err (if non-nil) at error level tagged with op, and
// returns err unchanged so call sites can write "return rlog.LogError(op, err)".
func LogError(op string, err error) error {
	if err != nil {
		L.WithField("op", op).Error(err)
	}
	return err
}

// Op logs a single structured line for the named operation's outcome.
func Op(op, result string, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["op"] = op
	fields["result"] = result
	L.WithFields(fields).Info("operation")
}
