package msqlsrv

import (
	"fmt"
	"strconv"
	"time"
)

// toInt64 widens any Go signed-integer-ish value to int64 for binary
// encoding against a declared column width.
func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

// toUint64 widens any Go unsigned-integer-ish value to uint64.
func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// textRepr renders v the way MySQL's text protocol renders a cell: its
// ASCII representation. NULL is signalled separately by the caller.
func textRepr(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		if x.Nanosecond() != 0 {
			return x.Format("2006-01-02 15:04:05.000000")
		}
		return x.Format("2006-01-02 15:04:05")
	case time.Duration:
		return formatDuration(x)
	default:
		if i, ok := toInt64(v); ok {
			return strconv.FormatInt(i, 10)
		}
		if u, ok := toUint64(v); ok {
			return strconv.FormatUint(u, 10)
		}
		return fmt.Sprint(v)
	}
}

func formatDuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	totalSecs := int64(d / time.Second)
	h := totalSecs / 3600
	m := (totalSecs % 3600) / 60
	s := totalSecs % 60
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

// timeToBinaryDate converts t to the wire binaryDate form for DATE/
// DATETIME/TIMESTAMP columns.
func timeToBinaryDate(t time.Time) binaryDate {
	return binaryDate{
		Year:        uint16(t.Year()),
		Month:       uint8(t.Month()),
		Day:         uint8(t.Day()),
		Hour:        uint8(t.Hour()),
		Minute:      uint8(t.Minute()),
		Second:      uint8(t.Second()),
		Microsecond: uint32(t.Nanosecond() / 1000),
	}
}

// durationToBinaryTime converts d to the wire binaryTime form for TIME
// columns.
func durationToBinaryTime(d time.Duration) binaryTime {
	neg := d < 0
	if neg {
		d = -d
	}
	totalSecs := int64(d / time.Second)
	us := uint32((d % time.Second) / time.Microsecond)
	return binaryTime{
		Negative:    neg,
		Days:        uint32(totalSecs / 86400),
		Hour:        uint8((totalSecs % 86400) / 3600),
		Minute:      uint8((totalSecs % 3600) / 60),
		Second:      uint8(totalSecs % 60),
		Microsecond: us,
	}
}
