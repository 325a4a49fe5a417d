package model

import (
	"fmt"
	"strings"
	"time"
)

// Interval is the bar width of an instrument's series.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
}

// legacy spellings still found in older strategy files
var intervalAliases = map[string]Interval{
	"1min":  Interval1m,
	"5min":  Interval5m,
	"15min": Interval15m,
	"1hour": Interval1h,
	"60m":   Interval1h,
}

// ParseInterval accepts the canonical codes and their legacy aliases.
func ParseInterval(s string) (Interval, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := intervalDurations[Interval(s)]; ok {
		return Interval(s), nil
	}
	if iv, ok := intervalAliases[s]; ok {
		return iv, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Valid reports whether iv is one of the supported intervals.
func (iv Interval) Valid() bool {
	_, ok := intervalDurations[iv]
	return ok
}

// Duration returns the width of one bar. Zero for unknown intervals.
func (iv Interval) Duration() time.Duration {
	return intervalDurations[iv]
}

// PollEvery is how long a sync loop sleeps between cycles.
func (iv Interval) PollEvery() time.Duration {
	return iv.Duration()
}

func (iv Interval) String() string { return string(iv) }

// UnmarshalText lets JSON documents use any accepted spelling.
// An empty value decodes to the zero Interval.
func (iv *Interval) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*iv = ""
		return nil
	}
	parsed, err := ParseInterval(string(b))
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}

// SmartAPICode maps the interval to Angel One's candle interval names.
func (iv Interval) SmartAPICode() string {
	switch iv {
	case Interval1m:
		return "ONE_MINUTE"
	case Interval5m:
		return "FIVE_MINUTE"
	case Interval15m:
		return "FIFTEEN_MINUTE"
	case Interval1h:
		return "ONE_HOUR"
	}
	return ""
}

// TwelveDataCode maps the interval to Twelve Data's interval names.
func (iv Interval) TwelveDataCode() string {
	switch iv {
	case Interval1m:
		return "1min"
	case Interval5m:
		return "5min"
	case Interval15m:
		return "15min"
	case Interval1h:
		return "1h"
	}
	return ""
}
