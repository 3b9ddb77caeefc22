package utilities

import (
	"io"
	"log"
	"os"
	"strings"
	"time"
)

const logFlags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

var (
	InfoLogger  = log.New(os.Stdout, "\033[32m[INFO]\033[0m ", logFlags)
	WarnLogger  = log.New(os.Stdout, "\033[33m[WARN]\033[0m ", logFlags)
	ErrorLogger = log.New(os.Stderr, "\033[31m[ERROR]\033[0m ", logFlags)
	DebugLogger = log.New(io.Discard, "\033[36m[DEBUG]\033[0m ", logFlags)
)

// InitLogger rebuilds the leveled loggers. DEBUG is only written when level is "debug".
func InitLogger(level string) {
	log.SetFlags(logFlags)

	InfoLogger = log.New(os.Stdout, "\033[32m[INFO]\033[0m ", logFlags)
	WarnLogger = log.New(os.Stdout, "\033[33m[WARN]\033[0m ", logFlags)
	ErrorLogger = log.New(os.Stderr, "\033[31m[ERROR]\033[0m ", logFlags)

	var debugOut io.Writer = io.Discard
	if strings.EqualFold(level, "debug") {
		debugOut = os.Stdout
	}
	DebugLogger = log.New(debugOut, "\033[36m[DEBUG]\033[0m ", logFlags)
}

// LogRequest writes one access line per HTTP request.
func LogRequest(method, path, remoteAddr string, status int, duration time.Duration) {
	InfoLogger.Printf("%s %s %s %d %v", method, path, remoteAddr, status, duration)
}

// LogError prefixes err with the operation that failed.
func LogError(err error, context string) {
	ErrorLogger.Printf("%s: %v", context, err)
}

func LogWarn(format string, v ...interface{}) {
	WarnLogger.Printf(format, v...)
}

func LogDebug(format string, v ...interface{}) {
	DebugLogger.Printf(format, v...)
}

func LogInfo(format string, v ...interface{}) {
	InfoLogger.Printf(format, v...)
}
