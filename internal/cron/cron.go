package cron

import (
	"time"
)

// Schedule is a parsed cron expression
type Schedule struct {
	minutes     bitset // 0-59
	hours       bitset // 0-23
	daysOfMonth bitset // 1-31
	months      bitset // 1-12
	daysOfWeek  bitset // 0-6 (0=Sunday)

	// A day field written as "*" does not restrict the day
	domStar bool
	dowStar bool

	original string
}

// Parse parses a five-field cron expression or one of the descriptors
// @hourly, @daily, @midnight, @weekly, @monthly, @yearly, @annually.
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// MustParse is like Parse but panics on error
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the expression the schedule was parsed from
func (s *Schedule) String() string {
	return s.original
}

// Next returns the first fire time strictly after 'after', evaluated in
// after's location. It returns the zero time if nothing fires within five years.
func (s *Schedule) Next(after time.Time) time.Time {
	loc := after.Location()
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !s.months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.hours.has(t.Hour()) {
			// Built from wall clock fields so half-hour offsets stay aligned
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !s.minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

// Between returns all fire times within [start, end)
func (s *Schedule) Between(start, end time.Time) []time.Time {
	results := []time.Time{}

	t := s.Next(start.Add(-time.Minute))
	for !t.IsZero() && t.Before(end) {
		results = append(results, t)
		t = s.Next(t)
	}

	return results
}

// dayMatches applies the usual cron rule: when both day fields are
// restricted a day matches if either does.
func (s *Schedule) dayMatches(t time.Time) bool {
	dom := s.daysOfMonth.has(t.Day())
	dow := s.daysOfWeek.has(int(t.Weekday()))

	switch {
	case s.domStar && s.dowStar:
		return true
	case s.domStar:
		return dow
	case s.dowStar:
		return dom
	default:
		return dom || dow
	}
}

// bitset holds the allowed values of one field
type bitset uint64

func (b bitset) has(v int) bool {
	return b&(1<<uint(v)) != 0
}

func (b *bitset) set(v int) {
	*b |= 1 << uint(v)
}

func (b bitset) values() []int {
	var out []int
	for v := 0; v < 64; v++ {
		if b.has(v) {
			out = append(out, v)
		}
	}
	return out
}
