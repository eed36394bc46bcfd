package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the stored timestamp format. It is fixed width and UTC so
// stored values order the same lexically and chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout. The zero time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp. It accepts TimeLayout, RFC3339,
// epoch milliseconds and {seconds, nanoseconds} objects. Unknown shapes
// yield the zero time.
func ParseTime(value any) time.Time {
	switch v := value.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return v.UTC()
	case string:
		return parseTimeString(v)
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	case int:
		return time.UnixMilli(int64(v)).UTC()
	case json.Number:
		if ms, err := v.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	case map[string]any:
		secs := toInt64(v["seconds"])
		if secs == 0 {
			secs = toInt64(v["_seconds"])
		}
		nanos := toInt64(v["nanoseconds"])
		if nanos == 0 {
			nanos = toInt64(v["_nanoseconds"])
		}
		if secs != 0 || nanos != 0 {
			return time.Unix(secs, nanos).UTC()
		}
	}
	return time.Time{}
}

func parseTimeString(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
