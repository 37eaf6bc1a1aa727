package log

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/logging"
	"github.com/cyclopcam/logs"
)

// Log is the logging interface used throughout the trainer
type Log = logs.Log

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

// CloudLogger sends log entries to Google Cloud Logging, which is where long training
// runs on GCP instances are usually watched from.
type CloudLogger struct {
	GCP    *logging.Logger
	Client *logging.Client
}

// NewLog creates a Cloud Logging logger if GCP_PROJECT_ID and GCP_LOGNAME are set,
// otherwise a regular stdout logger.
func NewLog() (Log, error) {
	gcpProjectID := os.Getenv("GCP_PROJECT_ID")
	gcpLogname := os.Getenv("GCP_LOGNAME")
	if gcpProjectID == "" || gcpLogname == "" {
		return logs.NewLog()
	}
	fmt.Printf("Logging to GCP %v / %v (you won't see further logs on stdout)\n", gcpProjectID, gcpLogname)
	client, err := logging.NewClient(context.Background(), gcpProjectID)
	if err != nil {
		return nil, fmt.Errorf("Failed to create GCP logging client: %w", err)
	}
	return &CloudLogger{
		Client: client,
		GCP:    client.Logger(gcpLogname),
	}, nil
}

func levelToGCP(level Level) logging.Severity {
	switch level {
	case LevelDebug:
		return logging.Debug
	case LevelInfo:
		return logging.Info
	case LevelWarn:
		return logging.Warning
	case LevelError:
		return logging.Error
	case LevelCritical:
		return logging.Critical
	}
	panic("Unknown log level")
}

func (l *CloudLogger) write(level Level, format string, a ...any) {
	l.GCP.Log(logging.Entry{
		Severity: levelToGCP(level),
		Payload:  fmt.Sprintf(format, a...),
	})
}

func (l *CloudLogger) Close() {
	l.GCP.Flush()
	l.Client.Close()
}

func (l *CloudLogger) Debugf(format string, a ...any) {
	l.write(LevelDebug, format, a...)
}

func (l *CloudLogger) Infof(format string, a ...any) {
	l.write(LevelInfo, format, a...)
}

func (l *CloudLogger) Warnf(format string, a ...any) {
	l.write(LevelWarn, format, a...)
}

func (l *CloudLogger) Errorf(format string, a ...any) {
	l.write(LevelError, format, a...)
}

func (l *CloudLogger) Criticalf(format string, a ...any) {
	l.write(LevelCritical, format, a...)
}
