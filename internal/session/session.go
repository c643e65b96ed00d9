// Package session models the trading-session constraint a node may carry:
// either an explicit intraday time range or a named exchange session
// resolved through a lookup table.
package session

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// TimeOfDay is a wall-clock time within a trading day.
type TimeOfDay struct {
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MinuteOfDay returns the time as minutes since midnight, for ordering and
// row filtering.
func (t TimeOfDay) MinuteOfDay() int {
	return t.Hour*60 + t.Minute
}

// Range is an explicit session window. Start must not be after End.
type Range struct {
	Start TimeOfDay `yaml:"start"`
	End   TimeOfDay `yaml:"end"`
}

// Contains reports whether the given minute-of-day falls inside the window,
// inclusive on both ends.
func (r Range) Contains(minuteOfDay int) bool {
	return minuteOfDay >= r.Start.MinuteOfDay() && minuteOfDay <= r.End.MinuteOfDay()
}

// Session is a tagged union: exactly one of Named or Range is set.
type Session struct {
	Named string `yaml:"named,omitempty"`
	Range *Range `yaml:"range,omitempty"`
}

// namedSessions is the lookup table for named trading sessions, in UTC.
var namedSessions = map[string]Range{
	"NewYork": {Start: TimeOfDay{14, 30}, End: TimeOfDay{21, 0}},
	"London":  {Start: TimeOfDay{8, 0}, End: TimeOfDay{16, 30}},
	"Tokyo":   {Start: TimeOfDay{0, 0}, End: TimeOfDay{6, 0}},
	"Sydney":  {Start: TimeOfDay{22, 0}, End: TimeOfDay{23, 59}},
}

// NamedSessions lists the recognized session names.
func NamedSessions() []string {
	names := make([]string, 0, len(namedSessions))
	for name := range namedSessions {
		names = append(names, name)
	}
	return names
}

// Validate checks the session invariants: explicit ranges require
// start <= end, named sessions must resolve via the lookup table.
func (s *Session) Validate() error {
	if s.Range != nil && s.Named != "" {
		return fmt.Errorf("session cannot be both named (%q) and an explicit range", s.Named)
	}
	if s.Range != nil {
		if s.Range.Start.MinuteOfDay() > s.Range.End.MinuteOfDay() {
			return fmt.Errorf("invalid session range: start %s is after end %s",
				s.Range.Start, s.Range.End)
		}
		return nil
	}
	if s.Named != "" {
		if _, ok := namedSessions[s.Named]; !ok {
			return fmt.Errorf("unknown session %q", s.Named)
		}
		return nil
	}
	return fmt.Errorf("session must be a named session or an explicit range")
}

// Resolve returns the concrete time window for the session.
func (s *Session) Resolve() (Range, error) {
	if err := s.Validate(); err != nil {
		return Range{}, err
	}
	if s.Range != nil {
		return *s.Range, nil
	}
	return namedSessions[s.Named], nil
}

// String returns a canonical representation used for hashing and equality.
func (s *Session) String() string {
	if s == nil {
		return ""
	}
	if s.Range != nil {
		return "range:" + s.Range.Start.String() + "-" + s.Range.End.String()
	}
	return "named:" + s.Named
}

// Hash returns a content hash of the session. Two sessions with equal
// content always hash equal; callers comparing sessions must still verify
// the canonical strings on a hash match.
func (s *Session) Hash() uint64 {
	return xxhash.Sum64String(s.String())
}

// Equal reports content equality.
func (s *Session) Equal(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.String() == other.String()
}
