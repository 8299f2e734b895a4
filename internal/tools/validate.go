package tools

import (
	"fmt"
	"math"
	"regexp"
)

// ValidateArgs checks call arguments against the descriptor's
// parameters and returns the first violation found, walking parameters
// in declaration order. Arguments not named by any parameter are
// ignored.
func ValidateArgs(params []Param, args map[string]any) error {
	for _, p := range params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		if err := checkType(p, v); err != nil {
			return err
		}
		if err := checkEnum(p, v); err != nil {
			return err
		}
		if err := checkRange(p, v); err != nil {
			return err
		}
		if err := checkPattern(p, v); err != nil {
			return err
		}
	}
	return nil
}

func checkType(p Param, v any) error {
	switch p.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
	case "number":
		if _, ok := asNumber(v); !ok {
			return fmt.Errorf("parameter %q must be a number", p.Name)
		}
	case "integer":
		f, ok := asNumber(v)
		if !ok || math.Trunc(f) != f {
			return fmt.Errorf("parameter %q must be an integer", p.Name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", p.Name)
		}
	case "":
		// Untyped parameters accept anything.
	default:
		return fmt.Errorf("parameter %q has unsupported type %q", p.Name, p.Type)
	}
	return nil
}

func checkEnum(p Param, v any) error {
	if len(p.Enum) == 0 {
		return nil
	}
	got := formatValue(v)
	for _, allowed := range p.Enum {
		if got == allowed {
			return nil
		}
	}
	return fmt.Errorf("parameter %q must be one of %v", p.Name, p.Enum)
}

func checkRange(p Param, v any) error {
	if p.Minimum == nil && p.Maximum == nil {
		return nil
	}
	f, ok := asNumber(v)
	if !ok {
		return nil
	}
	if p.Minimum != nil && f < *p.Minimum {
		return fmt.Errorf("parameter %q must be >= %v", p.Name, *p.Minimum)
	}
	if p.Maximum != nil && f > *p.Maximum {
		return fmt.Errorf("parameter %q must be <= %v", p.Name, *p.Maximum)
	}
	return nil
}

func checkPattern(p Param, v any) error {
	if p.Pattern == "" {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return fmt.Errorf("parameter %q has invalid pattern: %w", p.Name, err)
	}
	if !re.MatchString(s) {
		return fmt.Errorf("parameter %q does not match pattern %q", p.Name, p.Pattern)
	}
	return nil
}

// asNumber widens every numeric representation JSON decoding or direct
// Go callers can produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
