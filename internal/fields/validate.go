package fields

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Validate checks value against the field's data type and validation rules in order and
// returns the first failure
func (c CanonicalField) Validate(value interface{}) error {
	if value == nil {
		for _, rule := range c.ValidationRules {
			if rule.RuleType == "required" {
				return ruleError(c, rule, "value is required")
			}
		}
		return nil
	}

	if err := checkType(c.DataType, value); err != nil {
		return fmt.Errorf("%s: %w", c.FieldName, err)
	}

	for _, rule := range c.ValidationRules {
		if ok, msg := applyRule(rule, value); !ok {
			return ruleError(c, rule, msg)
		}
	}
	return nil
}

func ruleError(c CanonicalField, rule ValidationRule, fallback string) error {
	if rule.ErrorMessage != "" {
		return fmt.Errorf("%s: %s", c.FieldName, rule.ErrorMessage)
	}
	return fmt.Errorf("%s: %s", c.FieldName, fallback)
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "02/01/2006"}

func checkType(dt DataType, value interface{}) error {
	switch dt {
	case DataTypeString, "":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case DataTypeNumber:
		switch v := value.(type) {
		case float64, float32, int, int64, int32:
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return fmt.Errorf("expected number, got %q", v)
			}
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case DataTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case DataTypeDate:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected date string, got %T", value)
		}
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return nil
			}
		}
		return fmt.Errorf("unrecognized date %q", s)
	case DataTypeArray:
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	case DataTypeObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	default:
		return fmt.Errorf("unknown data type %q", dt)
	}
	return nil
}

func applyRule(rule ValidationRule, value interface{}) (bool, string) {
	s, isString := value.(string)
	switch rule.RuleType {
	case "required":
		if isString && s == "" {
			return false, "value is required"
		}
	case "max_length":
		if max, ok := intParam(rule.Parameters, "max"); ok && isString && len([]rune(s)) > max {
			return false, fmt.Sprintf("exceeds maximum length %d", max)
		}
	case "min_length":
		if min, ok := intParam(rule.Parameters, "min"); ok && isString && len([]rune(s)) < min {
			return false, fmt.Sprintf("shorter than minimum length %d", min)
		}
	case "pattern":
		expr, _ := rule.Parameters["regex"].(string)
		if expr == "" || !isString {
			return true, ""
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return false, fmt.Sprintf("invalid pattern %q", expr)
		}
		if !re.MatchString(s) {
			return false, fmt.Sprintf("does not match %s", expr)
		}
	case "enum":
		values, _ := rule.Parameters["values"].([]interface{})
		for _, v := range values {
			if fmt.Sprint(v) == fmt.Sprint(value) {
				return true, ""
			}
		}
		if len(values) > 0 {
			return false, "value not in allowed set"
		}
	}
	return true, ""
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
