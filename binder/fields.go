package binder

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// parseFieldTag returns the parameter name for the field and whether the
// field should be skipped. Untagged fields fall back to the field name.
func parseFieldTag(field reflect.StructField, tag string) (string, bool) {
	value, ok := field.Tag.Lookup(tag)
	if !ok {
		return "", true
	}
	name, _, _ := strings.Cut(value, ",")
	if name == "-" {
		return "", true
	}
	if name == "" {
		name = field.Name
	}
	return name, false
}

func structTarget(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, ErrInvalidTarget
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, ErrInvalidTarget
	}
	return rv, nil
}

// bindValues copies values into the tagged fields of v.
func bindValues(v any, tag string, lookup func(name string) []string, sentinel error) error {
	rv, err := structTarget(v)
	if err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	rt := rv.Type()

	for i := range rv.NumField() {
		field := rv.Field(i)
		fieldType := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		name, skip := parseFieldTag(fieldType, tag)
		if skip {
			continue
		}
		values := lookup(name)
		if len(values) == 0 || (len(values) == 1 && values[0] == "") {
			continue
		}
		if err := setFieldValue(field, values); err != nil {
			return fmt.Errorf("%w: %s: %v", sentinel, name, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, values []string) error {
	switch field.Kind() {
	case reflect.Pointer:
		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), values); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	case reflect.Slice:
		var parts []string
		for _, v := range values {
			for p := range strings.SplitSeq(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := setScalar(slice.Index(i), p); err != nil {
				return err
			}
		}
		field.Set(slice)
		return nil
	default:
		return setScalar(field, values[0])
	}
}

func setScalar(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
