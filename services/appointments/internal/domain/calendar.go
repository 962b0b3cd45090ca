package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Calendar is the weekly template of bookable times. It is immutable once
// built; SlotsFor hands out copies.
type Calendar struct {
	days map[time.Weekday][]string
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// DefaultCalendar is the tutoring center's regular opening hours.
func DefaultCalendar() *Calendar {
	weekday := []string{"10:00", "11:00", "14:00", "15:00", "16:00"}
	cal, _ := NewCalendar(map[time.Weekday][]string{
		time.Monday:    weekday,
		time.Tuesday:   weekday,
		time.Wednesday: weekday,
		time.Thursday:  weekday,
		time.Friday:    weekday,
		time.Saturday:  {"10:00", "11:00", "14:00"},
		time.Sunday:    {"10:00", "11:00", "14:00", "15:00"},
	})
	return cal
}

// NewCalendar validates every entry as HH:MM and drops duplicates, keeping
// the first occurrence so the configured order survives.
func NewCalendar(days map[time.Weekday][]string) (*Calendar, error) {
	c := &Calendar{days: make(map[time.Weekday][]string, len(days))}
	for day, slots := range days {
		seen := make(map[string]bool, len(slots))
		clean := make([]string, 0, len(slots))
		for _, s := range slots {
			s = strings.TrimSpace(s)
			t, err := time.Parse(TimeLayout, s)
			if err != nil {
				return nil, fmt.Errorf("calendar %s: invalid time %q", day, s)
			}
			s = t.Format(TimeLayout)
			if seen[s] {
				continue
			}
			seen[s] = true
			clean = append(clean, s)
		}
		if len(clean) > 0 {
			c.days[day] = clean
		}
	}
	return c, nil
}

// LoadCalendar reads a weekday -> times file (YAML, JSON or TOML by
// extension). Days missing from the file are closed.
func LoadCalendar(path string) (*Calendar, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read calendar %s: %w", path, err)
	}

	days := make(map[time.Weekday][]string)
	for _, key := range v.AllKeys() {
		day, ok := weekdayNames[strings.ToLower(key)]
		if !ok {
			return nil, fmt.Errorf("calendar %s: unknown weekday %q", path, key)
		}
		days[day] = v.GetStringSlice(key)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("calendar %s: no weekdays defined", path)
	}
	return NewCalendar(days)
}

// SlotsFor returns the ordered template for day, or nil when closed.
func (c *Calendar) SlotsFor(day time.Weekday) []string {
	slots := c.days[day]
	if len(slots) == 0 {
		return nil
	}
	out := make([]string, len(slots))
	copy(out, slots)
	return out
}

func (c *Calendar) Contains(day time.Weekday, hhmm string) bool {
	for _, s := range c.days[day] {
		if s == hhmm {
			return true
		}
	}
	return false
}

// Days lists open weekdays starting from Monday.
func (c *Calendar) Days() []time.Weekday {
	var out []time.Weekday
	for i := 1; i <= 7; i++ {
		d := time.Weekday(i % 7)
		if len(c.days[d]) > 0 {
			out = append(out, d)
		}
	}
	return out
}
