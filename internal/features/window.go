// Package features builds per-event rolling aggregates and per-entity
// behavioral snapshots from the event log.
package features

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a trailing look-back interval.
type Window struct {
	Label    string
	Duration time.Duration
}

// DefaultWindows are the per-event windows used when none are configured.
var DefaultWindows = []Window{
	{Label: "1d", Duration: 24 * time.Hour},
	{Label: "7d", Duration: 7 * 24 * time.Hour},
	{Label: "30d", Duration: 30 * 24 * time.Hour},
}

// ParseWindow accepts "<n>d" for days or any time.ParseDuration string.
func ParseWindow(s string) (Window, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	if label == "" {
		return Window{}, fmt.Errorf("empty window")
	}

	var d time.Duration
	if days, ok := strings.CutSuffix(label, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		d, err = time.ParseDuration(label)
		if err != nil {
			return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
		}
	}

	if d <= 0 {
		return Window{}, fmt.Errorf("window %q must be positive", s)
	}
	return Window{Label: label, Duration: d}, nil
}

// ParseWindows parses a list of window labels. An empty list yields DefaultWindows.
func ParseWindows(labels []string) ([]Window, error) {
	if len(labels) == 0 {
		return DefaultWindows, nil
	}
	windows := make([]Window, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		w, err := ParseWindow(l)
		if err != nil {
			return nil, err
		}
		if seen[w.Label] {
			return nil, fmt.Errorf("duplicate window %q", w.Label)
		}
		seen[w.Label] = true
		windows = append(windows, w)
	}
	return windows, nil
}

// RollCount names the event count feature for a window label.
func RollCount(label string) string { return "roll_cnt_" + label }

// RollAmountSum names the amount sum feature for a window label.
func RollAmountSum(label string) string { return "roll_amt_sum_" + label }

// RollAmountMean names the mean amount feature for a window label.
func RollAmountMean(label string) string { return "roll_amt_mean_" + label }

// RollHRCCount names the high-risk counterparty count feature for a window label.
func RollHRCCount(label string) string { return "roll_hrc_cnt_" + label }

// RollCashCount names the cash event count feature for a window label.
func RollCashCount(label string) string { return "roll_cash_cnt_" + label }

// RollSwiftCount names the SWIFT event count feature for a window label.
func RollSwiftCount(label string) string { return "roll_swift_cnt_" + label }
