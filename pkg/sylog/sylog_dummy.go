//go:build !sylog

package sylog

import (
	"io"
	"os"
)

var (
	noColorLevel messageLevel = 90
	loggerLevel               = InfoLevel
)

func getLoggerLevel() messageLevel {
	if loggerLevel <= -noColorLevel {
		return loggerLevel + noColorLevel
	} else if loggerLevel >= noColorLevel {
		return loggerLevel - noColorLevel
	}
	return loggerLevel
}

// Fatalf exits with status 255. Must not be used from a public package.
func Fatalf(format string, a ...interface{}) {
	os.Exit(255)
}

// Errorf is a no-op in the dummy build.
func Errorf(format string, a ...interface{}) {}

// Warningf is a no-op in the dummy build.
func Warningf(format string, a ...interface{}) {}

// Infof is a no-op in the dummy build.
func Infof(format string, a ...interface{}) {}

// Verbosef is a no-op in the dummy build.
func Verbosef(format string, a ...interface{}) {}

// Debugf is a no-op in the dummy build.
func Debugf(format string, a ...interface{}) {}

// SetLevel is a no-op in the dummy build beyond tracking the value.
func SetLevel(l int, useColor bool) {
	loggerLevel = messageLevel(l)
	if !useColor {
		if loggerLevel >= InfoLevel {
			loggerLevel += noColorLevel
		} else if loggerLevel <= LogLevel {
			loggerLevel -= noColorLevel
		}
	}
}

// GetLevel returns the level last set with SetLevel (InfoLevel until
// then).
func GetLevel() int {
	return int(getLoggerLevel())
}

// GetEnvVar returns an env assignment carrying the lowest message level.
func GetEnvVar() string {
	return "UCHROOT_MESSAGELEVEL=-4"
}

// Writer returns io.Discard in the dummy build.
func Writer() io.Writer {
	return io.Discard
}
