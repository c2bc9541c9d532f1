package config

import (
	"reflect"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// secretFields are redacted by YAML when set.
var secretFields = map[string]bool{
	"password": true,
	"token":    true,
}

// toMap converts a config struct into nested maps keyed by mapstructure tag.
// Durations become strings and nil pointers are omitted. With redact set,
// non-empty secret fields are replaced.
func toMap(v any, redact bool) map[string]any {
	out, _ := toValue(reflect.ValueOf(v), redact).(map[string]any)
	return out
}

func toValue(v reflect.Value, redact bool) any {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String()
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return toValue(v.Elem(), redact)

	case reflect.Struct:
		m := make(map[string]any)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			val := toValue(v.Field(i), redact)
			if val == nil {
				continue
			}
			if redact && secretFields[name] && val != "" {
				val = "[REDACTED]"
			}
			m[name] = val
		}
		return m

	case reflect.Slice:
		if v.IsNil() {
			return []any{}
		}
		items := make([]any, v.Len())
		for i := range items {
			items[i] = toValue(v.Index(i), redact)
		}
		return items

	default:
		return v.Interface()
	}
}
