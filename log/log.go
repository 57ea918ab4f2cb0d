/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package log wraps logrus with the small surface Catena's core packages
// use: leveled logging with structured fields, and a caller hook so
// Error/Fatal/Panic lines carry file:line without every call site adding it
// by hand.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level aliases logrus.Level so callers never import logrus directly.
type Level = logrus.Level

// Level constants re-exported from logrus.
const (
	PanicLevel Level = logrus.PanicLevel
	FatalLevel Level = logrus.FatalLevel
	ErrorLevel Level = logrus.ErrorLevel
	WarnLevel  Level = logrus.WarnLevel
	InfoLevel  Level = logrus.InfoLevel
	DebugLevel Level = logrus.DebugLevel
)

// Fields is the field map passed to WithFields.
type Fields = logrus.Fields

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	std.AddHook(newCallerHook())
}

// SetLevel sets the standard logger's level, e.g. from the -v/--log CLI flag.
func SetLevel(l Level) {
	std.SetLevel(l)
}

// ParseLevel maps the CLI's {debug|verbose|info|warning} vocabulary onto a
// Level, defaulting to Info for unrecognized values.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "verbose":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warning", "warn":
		return WarnLevel
	default:
		return InfoLevel
	}
}

// WithField starts a log entry carrying a single field.
func WithField(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}

// WithFields starts a log entry carrying several fields.
func WithFields(f Fields) *logrus.Entry {
	return std.WithFields(f)
}

// WithError starts a log entry carrying an "error" field.
func WithError(err error) *logrus.Entry {
	return std.WithError(err)
}

// Debugf logs at debug level.
func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...interface{}) { std.Infof(format, args...) }

// Warnf logs at warning level.
func Warnf(format string, args ...interface{}) { std.Warnf(format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }

// Fatalf logs at fatal level and terminates the process.
func Fatalf(format string, args ...interface{}) { std.Fatalf(format, args...) }

// callerHook attaches a "caller" field to Error/Fatal/Panic entries.
type callerHook struct{}

func newCallerHook() *callerHook { return &callerHook{} }

func (h *callerHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if pc, file, line, ok := runtime.Caller(8); ok {
		fn := runtime.FuncForPC(pc)
		name := "?"
		if fn != nil {
			name = fn.Name()
		}
		entry.Data["caller"] = fmt.Sprintf("%s:%d %s", filepath.Base(file), line, name)
	}
	return nil
}
