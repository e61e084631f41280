package cron

import (
	"testing"
	"time"
)

// Test helpers

func mustParse(t *testing.T, expr string) *Schedule {
	t.Helper()
	s, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) unexpected error: %v", expr, err)
	}
	return s
}

func assertTimes(t *testing.T, expected, actual []time.Time) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("length mismatch: expected %d times, got %d (%v)", len(expected), len(actual), actual)
	}
	for i := range expected {
		if !expected[i].Equal(actual[i]) {
			t.Errorf("time[%d] mismatch: expected %v, got %v", i, expected[i], actual[i])
		}
	}
}

func assertTime(t *testing.T, expected, actual time.Time) {
	t.Helper()
	if !expected.Equal(actual) {
		t.Errorf("expected %v, got %v", expected, actual)
	}
}

func makeTime(year, month, day, hour, minute int) time.Time {
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		expr string
		desc string
	}{
		{"* * * * *", "every minute"},
		{"0 * * * *", "every hour"},
		{"0 0 * * 0", "every Sunday"},
		{"0,30 * * * *", "0 and 30 minutes"},
		{"0 9-17 * * 1-5", "business hours"},
		{"*/5 * * * *", "every 5 minutes"},
		{"5-59/10 * * * *", "5,15,25,35,45,55"},
		{"0 2-22/4 * * *", "every 4 hours from 2"},
		{"0 0 1,15 * 1", "1st and 15th or Mondays"},
		{"  0 * * * *  ", "surrounding whitespace"},
		{"@hourly", "hourly descriptor"},
		{"@DAILY", "descriptors ignore case"},
		{"@midnight", "midnight descriptor"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := Parse(tt.expr); err != nil {
				t.Errorf("Parse(%q) unexpected error: %v", tt.expr, err)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		expr string
		desc string
	}{
		{"", "empty string"},
		{"* * * *", "four fields"},
		{"* * * * * *", "six fields"},
		{"60 * * * *", "minute out of range"},
		{"0 24 * * *", "hour out of range"},
		{"0 0 0 * *", "day of month zero"},
		{"0 0 * 13 *", "month out of range"},
		{"0 0 * * 7", "day of week out of range"},
		{"*/0 * * * *", "zero step"},
		{"5/10 * * * *", "step without range"},
		{"10-5 * * * *", "reversed range"},
		{"1,,2 * * * *", "empty list value"},
		{"a * * * *", "not a number"},
		{"@every 5m", "unknown descriptor"},
		{"0 0 30 2 *", "february 30th"},
		{"0 0 31 4,6,9,11 *", "31st of 30 day months"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := Parse(tt.expr); err == nil {
				t.Errorf("Parse(%q) expected error, got nil", tt.expr)
			}
		})
	}
}

func TestString_ReturnsOriginal(t *testing.T) {
	s := mustParse(t, "@hourly")
	if s.String() != "@hourly" {
		t.Errorf("expected @hourly, got %q", s.String())
	}
}

func TestNext_EveryHour(t *testing.T) {
	s := mustParse(t, "0 * * * *")
	assertTime(t, makeTime(2024, 1, 1, 11, 0), s.Next(makeTime(2024, 1, 1, 10, 0)))
	assertTime(t, makeTime(2024, 1, 1, 11, 0), s.Next(makeTime(2024, 1, 1, 10, 59)))
	assertTime(t, makeTime(2024, 1, 2, 0, 0), s.Next(makeTime(2024, 1, 1, 23, 30)))
}

func TestNext_HourlyDescriptorMatchesExpression(t *testing.T) {
	a := mustParse(t, "@hourly")
	b := mustParse(t, "0 * * * *")
	after := makeTime(2024, 5, 5, 5, 5)
	assertTime(t, b.Next(after), a.Next(after))
}

func TestNext_DailyAfterTargetTime(t *testing.T) {
	s := mustParse(t, "30 14 * * *")
	assertTime(t, makeTime(2024, 1, 2, 14, 30), s.Next(makeTime(2024, 1, 1, 15, 0)))
}

func TestNext_Weekdays(t *testing.T) {
	s := mustParse(t, "0 9 * * 1-5")
	// Friday 2024-01-05 10:00 -> Monday 2024-01-08 09:00
	assertTime(t, makeTime(2024, 1, 8, 9, 0), s.Next(makeTime(2024, 1, 5, 10, 0)))
}

func TestNext_YearBoundary(t *testing.T) {
	s := mustParse(t, "0 0 1 1 *")
	assertTime(t, makeTime(2025, 1, 1, 0, 0), s.Next(makeTime(2024, 6, 1, 0, 0)))
}

func TestNext_LeapYear_SkipNonLeapYears(t *testing.T) {
	s := mustParse(t, "0 0 29 2 *")
	assertTime(t, makeTime(2028, 2, 29, 0, 0), s.Next(makeTime(2024, 3, 1, 0, 0)))
}

func TestNext_HalfHourOffsetZone(t *testing.T) {
	yangon := time.FixedZone("MMT", 6*3600+1800)
	s := mustParse(t, "0 * * * *")

	next := s.Next(time.Date(2024, 3, 1, 10, 15, 0, 0, yangon))
	assertTime(t, time.Date(2024, 3, 1, 11, 0, 0, 0, yangon), next)
	if next.Minute() != 0 {
		t.Errorf("expected fire on the local hour, got %v", next)
	}
}

func TestNext_StrictlyAfter(t *testing.T) {
	s := mustParse(t, "*/15 * * * *")
	assertTime(t, makeTime(2024, 1, 1, 10, 15), s.Next(makeTime(2024, 1, 1, 10, 0)))
	assertTime(t, makeTime(2024, 1, 1, 10, 15), s.Next(makeTime(2024, 1, 1, 10, 0).Add(30*time.Second)))
}

func TestBetween_DayOfMonthAndDayOfWeek_ORLogic(t *testing.T) {
	s := mustParse(t, "15 10 5 6 3") // June 5th OR Wednesdays in June at 10:15

	results := s.Between(makeTime(2024, 6, 1, 0, 0), makeTime(2024, 7, 1, 0, 0))
	expected := []time.Time{
		makeTime(2024, 6, 5, 10, 15),
		makeTime(2024, 6, 12, 10, 15),
		makeTime(2024, 6, 19, 10, 15),
		makeTime(2024, 6, 26, 10, 15),
	}
	assertTimes(t, expected, results)
}

func TestBetween_StepDayOfMonthIsRestricted(t *testing.T) {
	s := mustParse(t, "0 0 */10 * 0") // 1st, 11th, 21st, 31st OR Sundays

	results := s.Between(makeTime(2024, 3, 1, 0, 0), makeTime(2024, 3, 12, 0, 0))
	expected := []time.Time{
		makeTime(2024, 3, 1, 0, 0),
		makeTime(2024, 3, 3, 0, 0),
		makeTime(2024, 3, 10, 0, 0),
		makeTime(2024, 3, 11, 0, 0),
	}
	assertTimes(t, expected, results)
}

func TestBetween_BoundariesInclusiveExclusive(t *testing.T) {
	s := mustParse(t, "0 * * * *")
	results := s.Between(makeTime(2024, 1, 1, 10, 0), makeTime(2024, 1, 1, 12, 0))
	assertTimes(t, []time.Time{makeTime(2024, 1, 1, 10, 0), makeTime(2024, 1, 1, 11, 0)}, results)
}

func TestBetween_StartAfterEnd(t *testing.T) {
	s := mustParse(t, "* * * * *")
	if got := s.Between(makeTime(2024, 1, 2, 0, 0), makeTime(2024, 1, 1, 0, 0)); len(got) != 0 {
		t.Errorf("expected no results, got %v", got)
	}
}

func TestMustParse_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustParse("not a schedule")
}
