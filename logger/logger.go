// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const RFC3339UsecTz0 = "2006-01-02T15:04:05.000000Z07:00"

// Ensure nopLogger implements interface.
var _ Logger = &nopLogger{}

// Logger represents an interface for a shared logger.
type Logger interface {
	Printf(format string, v ...interface{}) // backward compatibility
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Panicf(format string, v ...interface{})
	// WithPrefix returns a new Logger with the same configuration as
	// this one, but all logs will have the given prefix.
	WithPrefix(prefix string) Logger
}

const (
	LevelPanic = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

func LevelPrefix(level int) string {
	return [...]string{"PANIC: ", "ERROR: ", "WARN:  ", "INFO:  ", "DEBUG: "}[level]
}

var StderrLogger = NewStandardLogger(os.Stderr)

// NopLogger represents a Logger that doesn't do anything.
var NopLogger Logger = &nopLogger{}

type nopLogger struct{}

func (n *nopLogger) Printf(format string, v ...interface{}) {}
func (n *nopLogger) Debugf(format string, v ...interface{}) {}
func (n *nopLogger) Infof(format string, v ...interface{})  {}
func (n *nopLogger) Warnf(format string, v ...interface{})  {}
func (n *nopLogger) Errorf(format string, v ...interface{}) {}
func (n *nopLogger) Panicf(format string, v ...interface{}) {}

func (n *nopLogger) WithPrefix(prefix string) Logger {
	return n
}

// standardLogger is the default Logger, backed by a logrus entry. The prefix
// given to WithPrefix is carried as the "prefix" field.
type standardLogger struct {
	entry *logrus.Entry
}

func newStandardLogger(w io.Writer, level logrus.Level) *standardLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: RFC3339UsecTz0,
		DisableColors:   true,
	})
	return &standardLogger{entry: logrus.NewEntry(l)}
}

// NewStandardLogger returns a Logger writing info level and above to w.
func NewStandardLogger(w io.Writer) *standardLogger {
	return newStandardLogger(w, logrus.InfoLevel)
}

// NewVerboseLogger returns a Logger that also writes debug messages.
func NewVerboseLogger(w io.Writer) *standardLogger {
	return newStandardLogger(w, logrus.DebugLevel)
}

func (s *standardLogger) Printf(format string, v ...interface{}) {
	s.entry.Infof(format, v...)
}

func (s *standardLogger) Debugf(format string, v ...interface{}) {
	s.entry.Debugf(format, v...)
}

func (s *standardLogger) Infof(format string, v ...interface{}) {
	s.entry.Infof(format, v...)
}

func (s *standardLogger) Warnf(format string, v ...interface{}) {
	s.entry.Warnf(format, v...)
}

func (s *standardLogger) Errorf(format string, v ...interface{}) {
	s.entry.Errorf(format, v...)
}

// Panicf logs at error level and then panics, like log.Panicf.
func (s *standardLogger) Panicf(format string, v ...interface{}) {
	s.entry.Panicf(format, v...)
}

// Entry exposes the underlying logrus entry for callers that want fields.
func (s *standardLogger) Entry() *logrus.Entry {
	return s.entry
}

func (s *standardLogger) WithPrefix(prefix string) Logger {
	if p, ok := s.entry.Data["prefix"]; ok {
		prefix = fmt.Sprintf("%v%s", p, prefix)
	}
	return &standardLogger{entry: s.entry.WithField("prefix", prefix)}
}

// Logfer is a thing that has only a Logf() method, like for instance,
// testing.T or testing.B.
type Logfer interface {
	Logf(format string, v ...interface{})
}

// LogfLogger is a test logger that wraps something that has a Logf interface
// and makes it act like our logger.
type LogfLogger struct {
	wrapped Logfer
	prefix  string
}

func (ll *LogfLogger) Printf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+format, v...)
}

func (ll *LogfLogger) Debugf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+LevelPrefix(LevelDebug)+format, v...)
}

func (ll *LogfLogger) Infof(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+LevelPrefix(LevelInfo)+format, v...)
}

func (ll *LogfLogger) Warnf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+LevelPrefix(LevelWarn)+format, v...)
}

func (ll *LogfLogger) Errorf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+LevelPrefix(LevelError)+format, v...)
}

func (ll *LogfLogger) Panicf(format string, v ...interface{}) {
	ll.wrapped.Logf(ll.prefix+LevelPrefix(LevelPanic)+format, v...)
}

func (ll *LogfLogger) WithPrefix(prefix string) Logger {
	return &LogfLogger{wrapped: ll.wrapped, prefix: ll.prefix + prefix}
}

func NewLogfLogger(l Logfer) *LogfLogger {
	return &LogfLogger{wrapped: l}
}

// bufferLogger represents a test Logger that holds log messages
// in a buffer for review.
type bufferLogger struct {
	buf *bytes.Buffer
	mu  sync.Mutex
}

// NewBufferLogger returns a new instance of bufferLogger.
func NewBufferLogger() *bufferLogger {
	return &bufferLogger{
		buf: &bytes.Buffer{},
	}
}

func (b *bufferLogger) Printf(format string, v ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := fmt.Sprintf(format, v...)
	_, err := b.buf.WriteString(s + "\n")
	if err != nil {
		panic(err)
	}
}

func (b *bufferLogger) Debugf(format string, v ...interface{}) {}
func (b *bufferLogger) Infof(format string, v ...interface{}) {
	b.Printf(LevelPrefix(LevelInfo)+format, v...)
}
func (b *bufferLogger) Warnf(format string, v ...interface{}) {
	b.Printf(LevelPrefix(LevelWarn)+format, v...)
}
func (b *bufferLogger) Errorf(format string, v ...interface{}) {
	b.Printf(LevelPrefix(LevelError)+format, v...)
}
func (b *bufferLogger) Panicf(format string, v ...interface{}) {
	b.Printf(LevelPrefix(LevelPanic)+format, v...)
}

// WithPrefix does nothing for bufferLogger.
func (b *bufferLogger) WithPrefix(prefix string) Logger {
	return b
}

func (b *bufferLogger) ReadAll() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return io.ReadAll(b.buf)
}
