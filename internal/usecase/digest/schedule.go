package digest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimezone is returned when the digest timezone cannot be resolved.
var ErrInvalidTimezone = errors.New("invalid timezone")

// Schedule is a weekly wall-clock instant in a location.
type Schedule struct {
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseSchedule builds a schedule from a weekday name ("sunday", "sun" or 0-6),
// an HH:MM time and an IANA timezone. An empty timezone means UTC.
func ParseSchedule(weekday, at, timezone string) (Schedule, error) {
	day, err := parseWeekday(weekday)
	if err != nil {
		return Schedule{}, err
	}
	clock, err := time.Parse("15:04", strings.TrimSpace(at))
	if err != nil {
		return Schedule{}, fmt.Errorf("digest time %q: want HH:MM", at)
	}
	loc := time.UTC
	if strings.TrimSpace(timezone) != "" {
		name, err := normalizeTimezone(timezone)
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %s", err, timezone)
		}
		if loc, err = time.LoadLocation(name); err != nil {
			return Schedule{}, fmt.Errorf("%w: %s", ErrInvalidTimezone, timezone)
		}
	}
	return Schedule{Weekday: day, Hour: clock.Hour(), Minute: clock.Minute(), Location: loc}, nil
}

// Next returns the first scheduled instant strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	loc := s.location()
	local := t.In(loc)
	offset := (int(s.Weekday) - int(local.Weekday()) + 7) % 7
	candidate := time.Date(local.Year(), local.Month(), local.Day()+offset, s.Hour, s.Minute, 0, 0, loc)
	if !candidate.After(t) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+offset+7, s.Hour, s.Minute, 0, 0, loc)
	}
	return candidate
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Schedule) String() string {
	return fmt.Sprintf("%s %02d:%02d %s", s.Weekday, s.Hour, s.Minute, s.location())
}

// WeekKey names the ISO week t falls in, e.g. 2024-W07.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func parseWeekday(raw string) (time.Weekday, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("digest weekday %q: want 0-6", raw)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if value == name || value == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("digest weekday %q: unknown day", raw)
}

// normalizeTimezone accepts loosely typed zone names such as "europe/berlin"
// or "America/New York".
func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	parts := strings.Split(strings.ToLower(candidate), "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
