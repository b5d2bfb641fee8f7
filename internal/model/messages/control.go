package messages

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
)

// ControlMessage carries the recognised keys of a control payload, already
// converted and clamped. A nil field means the key was absent.
type ControlMessage struct {
	R          *int
	G          *int
	B          *int
	Brightness *float64
}

// Empty reports whether no recognised key was present.
func (m ControlMessage) Empty() bool {
	return m.R == nil && m.G == nil && m.B == nil && m.Brightness == nil
}

// ParseControl decodes a control payload. Unknown keys are returned so the
// caller can log them; they never fail the parse. Any recognised key whose
// value cannot be converted rejects the whole payload.
func ParseControl(payload []byte) (ControlMessage, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ControlMessage{}, nil, &ports.PayloadError{Reason: "not a JSON object", Err: err}
	}
	if raw == nil {
		return ControlMessage{}, nil, &ports.PayloadError{Reason: "not a JSON object"}
	}

	var (
		msg     ControlMessage
		unknown []string
	)
	for key, val := range raw {
		switch key {
		case "r", "g", "b":
			f, err := number(val)
			if err != nil {
				return ControlMessage{}, nil, &ports.PayloadError{Reason: fmt.Sprintf("bad value for %q", key), Err: err}
			}
			c := channel(f)
			switch key {
			case "r":
				msg.R = &c
			case "g":
				msg.G = &c
			default:
				msg.B = &c
			}
		case "brightness":
			f, err := number(val)
			if err != nil {
				return ControlMessage{}, nil, &ports.PayloadError{Reason: `bad value for "brightness"`, Err: err}
			}
			b := entities.ClampBrightness(f)
			msg.Brightness = &b
		default:
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return msg, unknown, nil
}

func channel(f float64) int {
	if f <= 0 {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return entities.ClampChannel(int(f))
}

// number accepts JSON numbers, numeric strings and booleans.
func number(val json.RawMessage) (float64, error) {
	var v interface{}
	if err := json.Unmarshal(val, &v); err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return float64(i), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", x)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("not finite: %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
