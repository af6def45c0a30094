package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// StateValue is a sensor state as devices send it. Firmware is loose about
// the JSON type (true, "true", 1), so it decodes any scalar to its string
// form and always encodes back as a string.
type StateValue string

func (v *StateValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = StateValue(s)
	case 't', 'f':
		var on bool
		if err := json.Unmarshal(b, &on); err != nil {
			return err
		}
		*v = StateValue(strconv.FormatBool(on))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("state must be a string, bool or number: %w", err)
		}
		*v = StateValue(n.String())
	}
	return nil
}

func (v StateValue) String() string { return string(v) }
