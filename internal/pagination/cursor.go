// Package pagination provides opaque cursor pagination for newest-first,
// time-ordered result sets.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor represents a position in a descending result set.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// Encode returns an opaque cursor string from a timestamp and record identity.
func Encode(ts time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", ts.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &Cursor{
		Timestamp: time.Unix(0, nanos).UTC(),
		ID:        parts[1],
	}, nil
}

// ResumeAfter returns the tail of a descending (newest-first) list strictly
// after the cursor position. A nil cursor returns the list unchanged.
func ResumeAfter[T any](items []T, cur *Cursor, key func(T) (time.Time, string)) []T {
	if cur == nil {
		return items
	}
	for i, item := range items {
		ts, id := key(item)
		if ts.Equal(cur.Timestamp) && id == cur.ID {
			return items[i+1:]
		}
		if ts.Before(cur.Timestamp) {
			// The cursor record fell out of the set; resume at the first
			// strictly older item so nothing is skipped.
			return items[i:]
		}
	}
	return nil
}

// ComputePage trims a descending list to the requested limit and returns the
// page, the cursor for the next page, and whether more items remain.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	last := items[len(items)-1]
	ts, id := key(last)
	return items, Encode(ts, id), true
}
