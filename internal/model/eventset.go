package model

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

// EventSet is a repository's webhook subscription. It is stored as a sorted,
// comma-separated column so both SQL dialects can hold it in a TEXT field.
type EventSet []string

// Normalised returns the set deduplicated and sorted.
func (s EventSet) Normalised() EventSet {
	seen := make(map[string]bool, len(s))
	out := make(EventSet, 0, len(s))
	for _, e := range s {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Value implements driver.Valuer.
func (s EventSet) Value() (driver.Value, error) {
	return strings.Join(s.Normalised(), ","), nil
}

// Scan implements sql.Scanner.
func (s *EventSet) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = EventSet{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("model: cannot scan %T into EventSet", src)
	}
	if raw == "" {
		*s = EventSet{}
		return nil
	}
	*s = EventSet(strings.Split(raw, ",")).Normalised()
	return nil
}
