package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
)

type TimestampFormat uint8

const (
	TimestampAbsent TimestampFormat = iota
	TimestampUnix
	TimestampText
)

// Epoch seconds outside years 0001..9999 cannot be stored by the archive or
// index backends.
const (
	minEpoch = -62135596800
	maxEpoch = 253402300799
)

var textLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// Timestamp is the notification time. The engine has been seen emitting both an
// integer epoch (seconds) and an ISO-8601 string; both are accepted and a value
// re-marshals in the form it was read.
type Timestamp struct {
	t      time.Time
	format TimestampFormat
	raw    json.RawMessage
}

func UnixTimestamp(sec int64) Timestamp {
	return Timestamp{t: time.Unix(sec, 0).UTC(), format: TimestampUnix}
}

func TextTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC(), format: TimestampText}
}

func (ts Timestamp) Time() time.Time {
	return ts.t
}

func (ts Timestamp) Format() TimestampFormat {
	return ts.format
}

func (ts Timestamp) IsZero() bool {
	return ts.format == TimestampAbsent
}

func (ts Timestamp) String() string {
	if ts.IsZero() {
		return ""
	}
	return ts.t.Format(time.RFC3339)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.raw != nil {
		return ts.raw, nil
	}

	switch ts.format {
	case TimestampUnix:
		return []byte(strconv.FormatInt(ts.t.Unix(), 10)), nil
	case TimestampText:
		return json.Marshal(ts.t.Format(time.RFC3339Nano))
	default:
		return []byte("null"), nil
	}
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*ts = Timestamp{}
		return nil
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidTimestamp, err)
		}

		t, err := parseText(s)
		if err != nil {
			return err
		}

		*ts = Timestamp{t: t, format: TimestampText, raw: raw}
		return nil
	}

	t, err := parseEpoch(string(data))
	if err != nil {
		return err
	}

	*ts = Timestamp{t: t, format: TimestampUnix, raw: raw}
	return nil
}

func parseText(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", apperrors.ErrInvalidTimestamp)
	}

	// some producers quote the epoch
	if isDigits(s) {
		return parseEpoch(s)
	}

	for _, layout := range textLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidTimestamp, s)
}

func parseEpoch(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec < minEpoch || sec > maxEpoch {
			return time.Time{}, fmt.Errorf("%w: %s out of range", apperrors.ErrInvalidTimestamp, s)
		}
		return time.Unix(sec, 0).UTC(), nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidTimestamp, s)
	}
	if f < minEpoch || f > maxEpoch {
		return time.Time{}, fmt.Errorf("%w: %s out of range", apperrors.ErrInvalidTimestamp, s)
	}

	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))

	return time.Unix(sec, nsec).UTC(), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
