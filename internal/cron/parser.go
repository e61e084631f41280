package cron

import (
	"fmt"
	"strconv"
	"strings"
)

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// bounds of one cron field
type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// parse parses a cron expression into a Schedule
func parse(expr string) (*Schedule, error) {
	original := strings.TrimSpace(expr)
	spec := original
	if strings.HasPrefix(spec, "@") {
		expanded, ok := descriptors[strings.ToLower(spec)]
		if !ok {
			return nil, fmt.Errorf("invalid cron expression: unknown descriptor %q", spec)
		}
		spec = expanded
	}

	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	var sets [5]bitset
	for i, f := range fields {
		set, err := parseField(f, fieldBounds[i].min, fieldBounds[i].max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", fieldBounds[i].name, err)
		}
		sets[i] = set
	}

	if err := validateImpossibleDates(sets[2], sets[3]); err != nil {
		return nil, err
	}

	return &Schedule{
		minutes:     sets[0],
		hours:       sets[1],
		daysOfMonth: sets[2],
		months:      sets[3],
		daysOfWeek:  sets[4],
		domStar:     fields[2] == "*",
		dowStar:     fields[4] == "*",
		original:    original,
	}, nil
}

// parseField parses a comma separated list of values, ranges and steps
func parseField(field string, lo, hi int) (bitset, error) {
	if field == "" {
		return 0, fmt.Errorf("empty field")
	}

	var set bitset
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, fmt.Errorf("empty value in list")
		}
		if err := parsePart(part, lo, hi, &set); err != nil {
			return 0, err
		}
	}
	return set, nil
}

// parsePart handles one of: *, N, N-M, */S, N-M/S
func parsePart(part string, lo, hi int, set *bitset) error {
	rangePart, stepPart, hasStep := strings.Cut(part, "/")

	step := 1
	if hasStep {
		s, err := strconv.Atoi(stepPart)
		if err != nil {
			return fmt.Errorf("invalid step value: %w", err)
		}
		if s <= 0 {
			return fmt.Errorf("step must be greater than 0")
		}
		step = s
	}

	start, end := lo, hi
	switch {
	case rangePart == "*":
	case strings.Contains(rangePart, "-"):
		a, b, _ := strings.Cut(rangePart, "-")
		var err error
		if start, err = parseValue(a, lo, hi, "range start"); err != nil {
			return err
		}
		if end, err = parseValue(b, lo, hi, "range end"); err != nil {
			return err
		}
		if start > end {
			return fmt.Errorf("invalid range: start %d > end %d", start, end)
		}
	case hasStep:
		return fmt.Errorf("invalid step range")
	default:
		v, err := parseValue(rangePart, lo, hi, "value")
		if err != nil {
			return err
		}
		start, end = v, v
	}

	for v := start; v <= end; v += step {
		set.set(v)
	}
	return nil
}

func parseValue(s string, lo, hi int, what string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", what, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s %d out of bounds [%d, %d]", what, v, lo, hi)
	}
	return v, nil
}

// validateImpossibleDates fails when no month has any of the requested days
func validateImpossibleDates(daysOfMonth, months bitset) error {
	for _, month := range months.values() {
		maxDay := daysInMonth(month)
		for _, day := range daysOfMonth.values() {
			if day <= maxDay {
				return nil
			}
		}
	}
	return fmt.Errorf("impossible date: no valid days exist for specified days %v in months %v",
		daysOfMonth.values(), months.values())
}

// daysInMonth returns the maximum number of days in a given month
func daysInMonth(month int) int {
	switch month {
	case 2:
		return 29 // leap years
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}
