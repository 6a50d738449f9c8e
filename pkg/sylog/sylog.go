//go:build sylog

package sylog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

var messageColors = map[messageLevel]*color.Color{
	FatalLevel: color.New(color.FgRed),
	ErrorLevel: color.New(color.FgRed),
	WarnLevel:  color.New(color.FgYellow),
	InfoLevel:  color.New(color.FgBlue),
}

var (
	noColorLevel messageLevel = 90
	loggerLevel               = InfoLevel
)

var logWriter = (io.Writer)(os.Stderr)

func init() {
	l, err := strconv.Atoi(os.Getenv("UCHROOT_MESSAGELEVEL"))
	if err == nil {
		loggerLevel = messageLevel(l)
	}
}

func prefix(logLevel, msgLevel messageLevel) string {
	c, ok := messageColors[msgLevel]
	useColor := ok && logLevel == loggerLevel

	label := msgLevel.String() + ":"
	if logLevel < DebugLevel {
		if useColor {
			return c.Sprintf("%-8s ", label)
		}
		return fmt.Sprintf("%-8s ", label)
	}

	pc, _, _, ok2 := runtime.Caller(3)
	details := runtime.FuncForPC(pc)

	var funcName string
	if ok2 && details == nil {
		funcName = "????()"
	} else {
		parts := strings.Split(details.Name(), ".")
		funcName = parts[len(parts)-1] + "()"
	}

	uidPid := fmt.Sprintf("[U=%d,P=%d]", os.Geteuid(), os.Getpid())

	levelField := label
	if useColor {
		levelField = c.Sprint(label)
	}
	return fmt.Sprintf("%-8s%-19s%-30s", levelField, uidPid, funcName)
}

func writef(msgLevel messageLevel, format string, a ...interface{}) {
	logLevel := getLoggerLevel()
	if logLevel < msgLevel {
		return
	}

	message := strings.TrimRight(fmt.Sprintf(format, a...), "\n")
	fmt.Fprintf(logWriter, "%s%s\n", prefix(logLevel, msgLevel), message)
}

func getLoggerLevel() messageLevel {
	if loggerLevel <= -noColorLevel {
		return loggerLevel + noColorLevel
	} else if loggerLevel >= noColorLevel {
		return loggerLevel - noColorLevel
	}
	return loggerLevel
}

// Fatalf logs a FATAL-level message then exits with status 255.
func Fatalf(format string, a ...interface{}) {
	writef(FatalLevel, format, a...)
	os.Exit(255)
}

// Errorf logs an ERROR-level message. It does not exit; use this when
// the error is being returned to the caller as well.
func Errorf(format string, a ...interface{}) {
	writef(ErrorLevel, format, a...)
}

// Warningf logs a WARNING-level message.
func Warningf(format string, a ...interface{}) {
	writef(WarnLevel, format, a...)
}

// Infof logs an INFO-level message. Emitted by default.
func Infof(format string, a ...interface{}) {
	writef(InfoLevel, format, a...)
}

// Verbosef logs a VERBOSE-level message.
func Verbosef(format string, a ...interface{}) {
	writef(VerboseLevel, format, a...)
}

// Debugf logs a DEBUG-level message.
func Debugf(format string, a ...interface{}) {
	writef(DebugLevel, format, a...)
}

// SetLevel sets the logger level. When color is false, the level is
// encoded so that getLoggerLevel can recover it without color escapes.
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

// GetLevel returns the current logger level.
func GetLevel() int {
	return int(getLoggerLevel())
}

// GetEnvVar returns an environment variable assignment a child process
// can use to inherit the current logger level.
func GetEnvVar() string {
	return fmt.Sprintf("UCHROOT_MESSAGELEVEL=%d", loggerLevel)
}

// Writer exposes the underlying writer for external packages whose own
// logging interface needs a plain io.Writer.
func Writer() io.Writer {
	if loggerLevel <= LogLevel {
		return io.Discard
	}
	return logWriter
}

// SetWriter installs a new writer and returns the previous one, useful
// for capturing log output in tests.
func SetWriter(w io.Writer) io.Writer {
	old := logWriter
	if w != nil {
		logWriter = w
	}
	return old
}
