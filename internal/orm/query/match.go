package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Match reports whether the field map satisfies every (or, for OR groups, any)
// condition and nested group. An empty group matches everything.
func (pg *PredicateGroup) Match(fields map[string]interface{}) bool {
	if pg == nil || (len(pg.Conditions) == 0 && len(pg.Groups) == 0) {
		return true
	}

	results := make([]bool, 0, len(pg.Conditions)+len(pg.Groups))
	for _, cond := range pg.Conditions {
		results = append(results, cond.Match(fields))
	}
	for _, group := range pg.Groups {
		if len(group.Conditions) == 0 && len(group.Groups) == 0 {
			continue
		}
		results = append(results, group.Match(fields))
	}
	if len(results) == 0 {
		return true
	}

	for _, r := range results {
		if pg.Or && r {
			return true
		}
		if !pg.Or && !r {
			return false
		}
	}
	return !pg.Or
}

// Match evaluates a single condition against a field map
func (c *Condition) Match(fields map[string]interface{}) bool {
	value := fields[c.Field]

	switch c.Operator {
	case OpIsNull:
		return value == nil
	case OpIsNotNull:
		return value != nil
	case OpEqual:
		return Equal(value, c.Value)
	case OpNotEqual:
		return !Equal(value, c.Value)
	case OpIn, OpNotIn:
		values, _ := c.Value.([]interface{})
		found := false
		for _, v := range values {
			if Equal(value, v) {
				found = true
				break
			}
		}
		return found == (c.Operator == OpIn)
	case OpContains:
		if value == nil {
			return false
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(value)), strings.ToLower(fmt.Sprint(c.Value)))
	case OpLike, OpILike:
		if value == nil {
			return false
		}
		return likeMatch(fmt.Sprint(c.Value), fmt.Sprint(value), c.Operator == OpILike)
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		if value == nil || c.Value == nil {
			return false
		}
		cmp, ok := Compare(value, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGreaterThan:
			return cmp > 0
		case OpGreaterThanOrEqual:
			return cmp >= 0
		case OpLessThan:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpBetween:
		bounds, ok := c.Value.([]interface{})
		if !ok || len(bounds) != 2 || value == nil {
			return false
		}
		lo, ok1 := Compare(value, bounds[0])
		hi, ok2 := Compare(value, bounds[1])
		return ok1 && ok2 && lo >= 0 && hi <= 0
	}
	return false
}

// Equal compares two field values, treating all numeric kinds as numbers
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if cmp, ok := Compare(a, b); ok {
		return cmp == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Compare orders two values of compatible kinds. The second result is false
// when the kinds cannot be ordered against each other.
func Compare(a, b interface{}) (int, bool) {
	if af, ok := ToFloat(a); ok {
		if bf, ok := ToFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := toTime(b)
		if !ok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		}
		return 0, true
	}
	if ab, ok := a.(bool); ok {
		bb, ok := toBool(b)
		if !ok {
			return 0, false
		}
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		}
		return 1, true
	}
	if as, ok := a.(string); ok {
		return strings.Compare(as, fmt.Sprint(b)), true
	}
	return 0, false
}

// ToFloat converts any numeric value to float64
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
	}
	return false, false
}

// likeMatch evaluates a LIKE pattern: % is any run, _ any one character and a
// backslash makes the next character literal
func likeMatch(pattern, s string, fold bool) bool {
	var b strings.Builder
	b.WriteString("(?s)")
	if fold {
		b.WriteString("(?i)")
	}
	b.WriteString("^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(regexp.QuoteMeta(`\`))
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
