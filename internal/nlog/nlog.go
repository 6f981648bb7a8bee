// Package nlog is lite-cornea's logger. It mirrors the leveled-severity
// API shape of AIStore's cmn/nlog (Infof/Warningf/Errorf, a single global
// sink, a verbosity gate) but drops nlog's buffering-pool/rotation engine:
// that machinery exists to keep a long-running storage daemon's log file
// from blocking request handling, which has no counterpart in a CLI
// process that exits in milliseconds to seconds. Output goes straight to
// os.Stderr through one mutex-guarded writer.
package nlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) tag() string {
	switch s {
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "I"
	}
}

var (
	mu      sync.Mutex
	verbose bool
	out     = os.Stderr
)

// SetVerbose toggles whether Infof lines are emitted. Call sites in
// cmd/cornea set this from CORNEA_VERBOSE at startup.
func SetVerbose(v bool) { verbose = v }

func log(sev severity, format string, args ...any) {
	if sev == sevInfo && !verbose {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	ts := time.Now().Format("15:04:05.000")
	fmt.Fprintf(out, "%s %s %s\n", sev.tag(), ts, fmt.Sprintf(format, args...))
}

// Infof logs a diagnostic line, suppressed unless verbose logging is on.
func Infof(format string, args ...any) { log(sevInfo, format, args...) }

// Warningf logs a recoverable-condition line; always emitted.
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }

// Errorf logs a failure line; always emitted.
func Errorf(format string, args ...any) { log(sevErr, format, args...) }
