package types

import (
	"strconv"
	"time"
)

// FormatScalar renders an attribute value as a table cell.
// nil renders as the empty string so that "no value" never becomes 0.
func FormatScalar(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case int32:
		return strconv.FormatInt(int64(s), 10)
	case bool:
		return strconv.FormatBool(s)
	case time.Time:
		return s.Format(TimestampLayout)
	case *float64:
		if s == nil {
			return ""
		}
		return strconv.FormatFloat(*s, 'f', -1, 64)
	default:
		return ""
	}
}

// TimestampLayout is the layout used for capture timestamps in datasets.
const TimestampLayout = "2006-01-02 15:04:05"
