package timestamp

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is stored in the catalog as epoch seconds, and rendered in
// JSON as "YYYY-MM-DD HH:MM:SS" (UTC).
type Timestamp struct {
	t time.Time
}

func Now() Timestamp {
	return NewTimestamp(time.Now())
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC().Truncate(time.Second)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.t.IsZero() {
		return []byte("\"\""), nil
	}
	stamp := fmt.Sprintf("\"%s\"", t.t.Format("2006-01-02 15:04:05"))
	return []byte(stamp), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "\"\"" {
		return nil
	}
	var err error
	t.t, err = time.Parse("2006-01-02 15:04:05", string(b[1:len(b)-1]))
	return err
}

func (t *Timestamp) Scan(src interface{}) error {
	var epoch int64
	switch v := src.(type) {
	case nil:
		t.t = time.Time{}
		return nil
	case int64:
		epoch = v
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp '%s': %s", v, err)
		}
		epoch = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp '%s': %s", v, err)
		}
		epoch = n
	default:
		return fmt.Errorf("cannot scan %T into a timestamp", src)
	}

	if epoch == 0 {
		t.t = time.Time{}
	} else {
		t.t = time.Unix(epoch, 0).UTC()
	}
	return nil
}

func (t Timestamp) Value() (driver.Value, error) {
	if t.t.IsZero() {
		return int64(0), nil
	}
	return t.t.Unix(), nil
}

func (t Timestamp) Format(layout string) string {
	return t.t.Format(layout)
}

func (t Timestamp) IsZero() bool {
	return t.t.IsZero()
}

func (t Timestamp) Time() time.Time {
	return t.t
}
