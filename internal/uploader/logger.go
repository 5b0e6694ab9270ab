package uploader

import "github.com/sirupsen/logrus"

const (
	StepMultipartStart        = "multipart_start"
	StepMultipartCreated      = "multipart_created"
	StepMultipartPartUploaded = "multipart_part_uploaded"
	StepMultipartComplete     = "multipart_complete"
	StepMultipartAbort        = "multipart_abort"
	StepMultipartAbortFailed  = "multipart_abort_failed"
)

// StepLogger receives upload lifecycle events.
type StepLogger interface {
	Log(step string, fields logrus.Fields)
	LogError(step string, err error)
}

type logrusStepLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger writes step events as structured logrus entries.
func NewLogrusLogger(entry *logrus.Entry) StepLogger {
	return &logrusStepLogger{entry: entry}
}

func (l *logrusStepLogger) Log(step string, fields logrus.Fields) {
	l.entry.WithField("step", step).WithFields(fields).Info(step)
}

func (l *logrusStepLogger) LogError(step string, err error) {
	l.entry.WithField("step", step).WithError(err).Warn(step)
}

type nopLogger struct{}

func (nopLogger) Log(string, logrus.Fields) {}
func (nopLogger) LogError(string, error)    {}
