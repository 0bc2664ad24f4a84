// Package timeframe defines the closed set of candle timeframes and the
// UTC bucket arithmetic that gives every candle its canonical timestamp.
package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownTimeFrame is returned when a timeframe code or value is not part of the enumeration.
var ErrUnknownTimeFrame = errors.New("unknown timeframe")

// TimeFrame is the bucket length a candle aggregates over.
type TimeFrame int

const (
	Minute TimeFrame = iota
	FiveMinutes
	FifteenMinutes
	ThirtyMinutes
	Hour
	FourHours
	Day
	Week
	Month

	timeFrameCount
)

// frameDef describes everything that varies per timeframe.
type frameDef struct {
	code     string
	interval time.Duration
	bucket   func(t time.Time) time.Time
	// update is how often a live subscription polls the feed.
	update time.Duration
}

const day = 24 * time.Hour

var frames = [...]frameDef{
	Minute:         {code: "1m", interval: time.Minute, bucket: floorMinutes(1), update: 10 * time.Second},
	FiveMinutes:    {code: "5m", interval: 5 * time.Minute, bucket: floorMinutes(5), update: 30 * time.Second},
	FifteenMinutes: {code: "15m", interval: 15 * time.Minute, bucket: floorMinutes(15), update: time.Minute},
	ThirtyMinutes:  {code: "30m", interval: 30 * time.Minute, bucket: floorMinutes(30), update: 2 * time.Minute},
	Hour:           {code: "1h", interval: time.Hour, bucket: floorHours(1), update: 5 * time.Minute},
	FourHours:      {code: "4h", interval: 4 * time.Hour, bucket: floorHours(4), update: 10 * time.Minute},
	Day:            {code: "1d", interval: day, bucket: floorDay, update: 15 * time.Minute},
	Week:           {code: "1w", interval: 7 * day, bucket: floorWeek, update: 30 * time.Minute},
	// 30 days is an approximation; BucketStart is calendar exact.
	Month: {code: "1month", interval: 30 * day, bucket: floorMonth, update: 30 * time.Minute},
}

// Adding a TimeFrame constant without a frames entry (or vice versa) fails to compile.
var (
	_ [len(frames) - int(timeFrameCount)]struct{}
	_ [int(timeFrameCount) - len(frames)]struct{}
)

// All returns every timeframe in ascending order of length.
func All() []TimeFrame {
	out := make([]TimeFrame, 0, timeFrameCount)
	for tf := Minute; tf < timeFrameCount; tf++ {
		out = append(out, tf)
	}
	return out
}

// Valid reports whether tf is a member of the enumeration.
func (tf TimeFrame) Valid() bool {
	return tf >= Minute && tf < timeFrameCount
}

func (tf TimeFrame) String() string {
	if !tf.Valid() {
		return fmt.Sprintf("TimeFrame(%d)", int(tf))
	}
	return frames[tf].code
}

// Parse converts a code such as "5m" or "1month" into a TimeFrame.
func Parse(s string) (TimeFrame, error) {
	for tf := Minute; tf < timeFrameCount; tf++ {
		if frames[tf].code == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTimeFrame, s)
}

// MarshalText encodes the timeframe as its code so JSON and YAML carry "1h" rather than an integer.
func (tf TimeFrame) MarshalText() ([]byte, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTimeFrame, int(tf))
	}
	return []byte(frames[tf].code), nil
}

// UnmarshalText decodes a timeframe code.
func (tf *TimeFrame) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}
