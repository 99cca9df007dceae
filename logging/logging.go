// Package logging centralizes the step-by-step progress markers the
// teacher prints with fmt.Printf("PASO N: ...") into structured logrus
// fields, one *logrus.Entry per pipeline run.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/zatca-go/fatoora-client/models"
)

// New builds a base logrus.Logger writing JSON lines to out (stderr
// when out is nil) at the given level. An unrecognized level falls
// back to Info rather than failing the run.
func New(level string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}

// ForRun returns the single entry a pipeline run logs through, carrying
// run_id and env on every line so concurrent runs interleaved in the
// same log stream stay distinguishable.
func ForRun(log *logrus.Logger, runID string, env models.Environment) *logrus.Entry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithFields(logrus.Fields{
		"run_id": runID,
		"env":    string(env),
	})
}

// Step logs one pipeline step, the structured-field equivalent of the
// teacher's "PASO N: ..." print statements.
func Step(entry *logrus.Entry, step int, message string) {
	entry.WithField("step", step).Info(message)
}
