package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// idList accepts a JSON array of strings, a single string, or a comma separated string.
// Blank and duplicate entries are dropped.
type idList []string

func (l *idList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	var raw []string
	switch data[0] {
	case '[':
		var values []any
		if err := json.Unmarshal(data, &values); err != nil {
			return err
		}
		for _, value := range values {
			switch v := value.(type) {
			case string:
				raw = append(raw, v)
			case float64:
				raw = append(raw, strconv.FormatFloat(v, 'f', -1, 64))
			default:
				return fmt.Errorf("ids must be strings, got %T", value)
			}
		}
	case '"':
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		raw = strings.Split(single, ",")
	default:
		return fmt.Errorf("ids must be a string or an array of strings")
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	*l = out
	return nil
}

// flexBool accepts JSON booleans and the strings "true"/"false"/"1"/"0"/"yes"/"no"/"on"/"off".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	var direct bool
	if err := json.Unmarshal(data, &direct); err == nil {
		*b = flexBool(direct)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("expected a boolean, got %s", string(data))
	}
	parsed, ok := parseBool(text)
	if !ok {
		return fmt.Errorf("expected a boolean, got %q", text)
	}
	*b = flexBool(parsed)
	return nil
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off", "":
		return false, true
	}
	return false, false
}
