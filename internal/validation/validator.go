package validation

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator checks `validate` struct tags. Supported rules: required,
// min=N, max=N, len=N, hex and oneof=a b c. For strings min, max and len
// apply to the length; for numbers to the value.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldName(fieldType), err)
		}
	}

	return nil
}

// fieldName prefers the JSON name so errors match the request body
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		ruleName, arg, _ := strings.Cut(rule, "=")

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "min", "max", "len":
			limit, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("bad %s rule %q", ruleName, arg)
			}
			n, unit, ok := measure(field)
			if !ok {
				continue
			}
			switch {
			case ruleName == "min" && n < limit:
				return fmt.Errorf("minimum %s is %s", unit, arg)
			case ruleName == "max" && n > limit:
				return fmt.Errorf("maximum %s is %s", unit, arg)
			case ruleName == "len" && n != limit:
				return fmt.Errorf("%s must be %s", unit, arg)
			}

		case "hex":
			if field.Kind() == reflect.String {
				if _, err := hex.DecodeString(field.String()); err != nil {
					return fmt.Errorf("invalid hex string")
				}
			}

		case "oneof":
			if field.Kind() != reflect.String {
				continue
			}
			allowed := strings.Fields(arg)
			found := false
			for _, a := range allowed {
				if field.String() == a {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
			}
		}
	}

	return nil
}

// measure returns the quantity min/max/len compare against
func measure(field reflect.Value) (float64, string, bool) {
	switch field.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return float64(field.Len()), "length", true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), "value", true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), "value", true
	case reflect.Float32, reflect.Float64:
		return field.Float(), "value", true
	}
	return 0, "", false
}
