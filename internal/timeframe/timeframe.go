// Package timeframe models the periodic sampling interval a node's data
// operates at. Intervals form a strict total order over granularity
// (1Min < 5Min < 1H < 1D < 1W < 1Mo), which the compiler relies on when a
// consumer mixes input frequencies: it must run at the coarsest one.
package timeframe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Unit is the base interval unit.
type Unit string

const (
	Minute Unit = "Min"
	Hour   Unit = "H"
	Day    Unit = "D"
	Week   Unit = "W"
	Month  Unit = "Mo"
)

// unitMinutes orders units by their approximate span in minutes. Months use
// a 30-day span; the value is only used for ordering, never for arithmetic
// on actual timestamps.
var unitMinutes = map[Unit]int64{
	Minute: 1,
	Hour:   60,
	Day:    24 * 60,
	Week:   7 * 24 * 60,
	Month:  30 * 24 * 60,
}

// TimeFrame is one periodic interval, e.g. 5Min or 1D.
type TimeFrame struct {
	Amount int
	Unit   Unit
}

var (
	// Default is the filler interval used for scalar-category nodes whose
	// timeframe is never read at runtime.
	Default = TimeFrame{Amount: 1, Unit: Day}

	// SmallestIntraday is the fallback assigned to intradayOnly nodes that
	// carry no explicit timeframe.
	SmallestIntraday = TimeFrame{Amount: 1, Unit: Minute}
)

var parseRe = regexp.MustCompile(`^(\d+)(Min|H|D|W|Mo)$`)

// Parse converts a canonical interval string such as "5Min" or "1D".
func Parse(s string) (TimeFrame, error) {
	m := parseRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return TimeFrame{}, fmt.Errorf("invalid timeframe %q: expected <amount><Min|H|D|W|Mo>", s)
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil || amount <= 0 {
		return TimeFrame{}, fmt.Errorf("invalid timeframe amount %q", m[1])
	}
	return TimeFrame{Amount: amount, Unit: Unit(m[2])}, nil
}

// MustParse is Parse for static test fixtures; it panics on malformed input.
func MustParse(s string) TimeFrame {
	tf, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return tf
}

// String returns the canonical form, e.g. "5Min".
func (t TimeFrame) String() string {
	return strconv.Itoa(t.Amount) + string(t.Unit)
}

// Minutes returns the interval span used for ordering.
func (t TimeFrame) Minutes() int64 {
	return int64(t.Amount) * unitMinutes[t.Unit]
}

// Less reports whether t is a finer granularity than other.
func (t TimeFrame) Less(other TimeFrame) bool {
	return t.Minutes() < other.Minutes()
}

// Equal reports interval equality by span, so 60Min == 1H.
func (t TimeFrame) Equal(other TimeFrame) bool {
	return t.Minutes() == other.Minutes()
}

// IsIntraday reports whether the interval is finer than one day.
func (t TimeFrame) IsIntraday() bool {
	return t.Unit == Minute || t.Unit == Hour
}

// IsZero reports whether t is the zero value (no interval set).
func (t TimeFrame) IsZero() bool {
	return t.Amount == 0 && t.Unit == ""
}

// Coarsest returns the lowest-frequency interval of the given set. A
// consumer mixing frequencies must run at the lowest common frequency.
func Coarsest(frames []TimeFrame) (TimeFrame, bool) {
	if len(frames) == 0 {
		return TimeFrame{}, false
	}
	max := frames[0]
	for _, tf := range frames[1:] {
		if max.Less(tf) {
			max = tf
		}
	}
	return max, true
}
