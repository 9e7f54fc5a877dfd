package errors

import (
	"github.com/sirupsen/logrus"
)

// Fields returns the structured log fields carried by err: its code,
// retryable flag and context entries. Plain errors yield no fields.
func Fields(err error) logrus.Fields {
	appErr, ok := As(err)
	if !ok {
		return logrus.Fields{}
	}
	fields := logrus.Fields{
		"error_code": appErr.Code,
		"retryable":  appErr.Retryable,
	}
	for k, v := range appErr.Context {
		fields[k] = v
	}
	return fields
}

// LogError logs an error with structured context
func LogError(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	entry(logger, err, fields).Error(message)
}

// LogWarn logs a warning with structured context
func LogWarn(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	entry(logger, err, fields).Warn(message)
}

// LogRetryableError logs a retryable error at warn level, non-retryable at error level
func LogRetryableError(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	if IsRetryable(err) {
		LogWarn(logger, err, message, fields...)
		return
	}
	LogError(logger, err, message, fields...)
}

func entry(logger logrus.FieldLogger, err error, fields []logrus.Fields) *logrus.Entry {
	e := logger.WithError(err).WithFields(Fields(err))
	for _, f := range fields {
		e = e.WithFields(f)
	}
	return e
}
