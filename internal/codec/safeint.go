package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// maxSafeInteger is the largest integer a JSON consumer backed by IEEE 754
// doubles can represent exactly (2^53 - 1).
const maxSafeInteger = 1<<53 - 1

// SafeInt64 is a 64-bit size or time field carried over textual formats.
// Values within the double-safe range travel as JSON numbers; values beyond
// it travel as numeric strings and convert back losslessly. The binary
// format encodes native int64 either way.
type SafeInt64 int64

// MarshalJSON emits a number when safe, a string otherwise.
func (s SafeInt64) MarshalJSON() ([]byte, error) {
	v := int64(s)
	if v > maxSafeInteger || v < -maxSafeInteger {
		return json.Marshal(strconv.FormatInt(v, 10))
	}
	return json.Marshal(v)
}

// UnmarshalJSON accepts either a number or a numeric string.
func (s *SafeInt64) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		v, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", str, err)
		}
		*s = SafeInt64(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = SafeInt64(v)
	return nil
}

// Int64 returns the native value.
func (s SafeInt64) Int64() int64 {
	return int64(s)
}
