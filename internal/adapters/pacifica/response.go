package pacifica

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// unwrap decodes a response body that is either {"success":..,"data":..} or a bare payload.
// success is false only when the body explicitly says so.
func unwrap(body []byte) (interface{}, bool, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, true, nil
	}
	var decoded interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, false, err
	}

	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return decoded, true, nil
	}
	success := true
	if s, ok := obj["success"].(bool); ok {
		success = s
	}
	if data, ok := obj["data"]; ok {
		return data, success, nil
	}
	return obj, success, nil
}

// errorMessage extracts a short human-readable message from an error body.
func errorMessage(body []byte) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err == nil {
		if msg := stringField(obj, "error", "message", "msg", "detail"); msg != "" {
			return truncate(msg)
		}
		if data, ok := obj["data"].(map[string]interface{}); ok {
			if msg := stringField(data, "error", "message"); msg != "" {
				return truncate(msg)
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no error details"
	}
	return truncate(msg)
}

func truncate(s string) string {
	if len(s) > maxMessageLen {
		return s[:maxMessageLen]
	}
	return s
}

// stringField returns the first present key rendered as a string. Numbers are
// rendered without exponent so numeric order ids survive.
func stringField(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// numberField returns the first key that parses as a number.
func numberField(obj map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f
			}
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}
