package migration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayouts maps the supported date format names to Go layouts
var dateLayouts = map[string]string{
	"mm/dd/yyyy": "01/02/2006",
	"yyyy-mm-dd": "2006-01-02",
	"dd/mm/yyyy": "02/01/2006",
}

// Apply runs a transform on one value. present reports whether the field existed in the
// source data; the returned bool reports whether the field exists afterwards.
func Apply(rule FieldRule, value interface{}, present bool) (interface{}, bool, error) {
	switch rule.Transform {
	case "", TransformDirect, TransformRename:
		return value, present, nil

	case TransformDrop:
		return nil, false, nil

	case TransformDefault:
		if !present || isEmpty(value) {
			if rule.Default == nil {
				return value, present, nil
			}
			return rule.Default, true, nil
		}
		return value, true, nil

	case TransformConvert:
		if !present || value == nil {
			return value, present, nil
		}
		to, _ := rule.Params["to"].(string)
		out, err := convert(value, to, rule.Params)
		return out, true, err

	case TransformFormatDate:
		if !present || isEmpty(value) {
			return value, present, nil
		}
		out, err := formatDate(value, rule.Params)
		return out, true, err

	case TransformMap:
		if !present {
			return value, present, nil
		}
		out, err := mapValue(value, rule.Params)
		return out, true, err

	case TransformTruncate:
		if !present || value == nil {
			return value, present, nil
		}
		n, ok := intParam(rule.Params, "max_length")
		if !ok || n < 0 {
			return nil, false, fmt.Errorf("truncate needs a non-negative max_length")
		}
		s, ok := value.(string)
		if !ok {
			return nil, false, fmt.Errorf("truncate expects a string, got %T", value)
		}
		runes := []rune(s)
		if len(runes) > n {
			return string(runes[:n]), true, nil
		}
		return s, true, nil
	}
	return nil, false, fmt.Errorf("unknown transform %q", rule.Transform)
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func convert(value interface{}, to string, params map[string]interface{}) (interface{}, error) {
	switch to {
	case "string":
		switch v := value.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
		return fmt.Sprint(value), nil

	case "number":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case bool:
			if v {
				return 1.0, nil
			}
			return 0.0, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to number", v)
			}
			return f, nil
		}

	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case float64:
			return v != 0, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "y", "1", "on", "x":
				return true, nil
			case "false", "no", "n", "0", "off", "":
				return false, nil
			}
			return nil, fmt.Errorf("cannot convert %q to boolean", v)
		}

	case "array":
		switch v := value.(type) {
		case []interface{}:
			return v, nil
		case string:
			sep, _ := params["separator"].(string)
			if sep == "" {
				return []interface{}{v}, nil
			}
			var out []interface{}
			for _, part := range strings.Split(v, sep) {
				out = append(out, strings.TrimSpace(part))
			}
			return out, nil
		}
		return []interface{}{value}, nil

	case "object":
		if m, ok := value.(map[string]interface{}); ok {
			return m, nil
		}
		return map[string]interface{}{"value": value}, nil

	default:
		return nil, fmt.Errorf("unknown conversion target %q", to)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", value, to)
}

func formatDate(value interface{}, params map[string]interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("format_date expects a string, got %T", value)
	}
	fromName, _ := params["from"].(string)
	toName, _ := params["to"].(string)
	from, ok := dateLayouts[fromName]
	if !ok {
		return nil, fmt.Errorf("unknown date format %q", fromName)
	}
	to, ok := dateLayouts[toName]
	if !ok {
		return nil, fmt.Errorf("unknown date format %q", toName)
	}

	t, err := time.Parse(from, strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("date %q does not match %s", s, fromName)
	}
	return t.Format(to), nil
}

func mapValue(value interface{}, params map[string]interface{}) (interface{}, error) {
	table, _ := params["values"].(map[string]interface{})
	key := fmt.Sprint(value)
	if value == nil {
		key = ""
	}
	if out, ok := table[key]; ok {
		return out, nil
	}
	if strict, _ := params["strict"].(bool); strict {
		return nil, fmt.Errorf("no mapping for value %q", key)
	}
	return value, nil
}
