package storage

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Timestamps are kept as fixed-width UTC text, so lexical order equals
// chronological order on every engine.
const (
	timestampLayout = "2006-01-02 15:04:05.000000000"
	parseLayout     = "2006-01-02 15:04:05"
)

type timestamp struct {
	Time  time.Time
	Valid bool
}

func newTimestamp(t time.Time) timestamp {
	return timestamp{Time: t, Valid: true}
}

func (t timestamp) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time.UTC().Format(timestampLayout), nil
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = timestamp{}
		return nil
	case time.Time:
		*t = newTimestamp(v.UTC())
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("storage: cannot scan %T into timestamp", src)
	}
}

func (t *timestamp) parse(s string) error {
	parsed, err := time.ParseInLocation(parseLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("storage: parse timestamp %q: %w", s, err)
	}
	*t = newTimestamp(parsed)
	return nil
}
