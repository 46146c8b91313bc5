// Package util provides logging and traffic statistics shared by the bridge and the relay.
package util

import (
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/time/rate"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

// Logf is the per-packet / per-session trace log; it only shows with -debug.
func Logf(format string, args ...interface{}) {
	LogDebug(format, args...)
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Throttle limits how often a noisy message (such as a per-packet drop) is
// logged. Suppressed occurrences are counted and reported with the next line
// that gets through.
type Throttle struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int
}

// NewThrottle allows burst messages at once and then one per interval.
func NewThrottle(interval time.Duration, burst int) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Warn logs a warning unless the throttle is exhausted.
func (t *Throttle) Warn(format string, args ...interface{}) {
	if !t.limiter.Allow() {
		t.mu.Lock()
		t.suppressed++
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	n := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if n > 0 {
		msg = fmt.Sprintf("%s (%d similar suppressed)", msg, n)
	}
	pterm.DefaultLogger.Warn(msg)
}

// Suppressed returns how many messages were dropped since the last one logged.
func (t *Throttle) Suppressed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suppressed
}
