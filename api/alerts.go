package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const AlertLoginFailureSpike AlertType = "login_failure_spike"

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultLoginFailureWindow    = time.Minute
	defaultLoginFailureThreshold = 20
)

// loginSpikeDetector raises an alert when failed logins across all clients
// exceed a threshold within a sliding window. A nil detector does nothing.
type loginSpikeDetector struct {
	mu        sync.Mutex
	failures  []time.Time
	window    time.Duration
	threshold int
	now       func() time.Time
	alertFn   AlertFunc
}

func newLoginSpikeDetector(alertFn AlertFunc, now func() time.Time) *loginSpikeDetector {
	return &loginSpikeDetector{
		window:    defaultLoginFailureWindow,
		threshold: defaultLoginFailureThreshold,
		now:       now,
		alertFn:   alertFn,
	}
}

// WithAlertFunc enables login failure spike detection.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

func (d *loginSpikeDetector) recordFailure() {
	if d == nil || d.alertFn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.failures = append(d.failures, now)
	d.failures = trimWindow(d.failures, now, d.window)

	if len(d.failures) >= d.threshold {
		d.alertFn(AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   "login failure rate exceeds threshold",
			Count:     len(d.failures),
			Threshold: d.threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		d.failures = d.failures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
