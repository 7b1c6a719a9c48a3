package blobstore

import (
	"fmt"
	"reflect"
	"strconv"
)

// Properties carry backend-specific configuration, straight from the
// YAML configuration file.
type Properties map[string]interface{}

type MissingPropertyError struct {
	Key string
}

func (e MissingPropertyError) Error() string {
	return fmt.Sprintf("No '%s' key specified in the blobstore properties", e.Key)
}

type PropertyTypeMismatchError struct {
	Key         string
	DesiredType string
}

func (e PropertyTypeMismatchError) Error() string {
	return fmt.Sprintf("'%s' key in blobstore properties is not of type '%s'", e.Key, e.DesiredType)
}

func (p Properties) StringValue(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", MissingPropertyError{Key: key}
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.String:
		return v.(string), nil
	case reflect.Int, reflect.Int64, reflect.Float64, reflect.Bool:
		/* YAML is a little too helpful with things like ports */
		return fmt.Sprintf("%v", v), nil
	}
	return "", PropertyTypeMismatchError{Key: key, DesiredType: "string"}
}

func (p Properties) StringValueDefault(key string, def string) (string, error) {
	s, err := p.StringValue(key)
	if err == nil {
		return s, nil
	}
	if _, ok := err.(MissingPropertyError); ok {
		return def, nil
	}
	return "", err
}

func (p Properties) BooleanValue(key string) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return false, MissingPropertyError{Key: key}
	}

	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if tf, err := strconv.ParseBool(b); err == nil {
			return tf, nil
		}
	}
	return false, PropertyTypeMismatchError{Key: key, DesiredType: "boolean"}
}

func (p Properties) BooleanValueDefault(key string, def bool) (bool, error) {
	tf, err := p.BooleanValue(key)
	if err == nil {
		return tf, nil
	}
	if _, ok := err.(MissingPropertyError); ok {
		return def, nil
	}
	return false, err
}

func (p Properties) IntValueDefault(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, nil
		}
	}
	return 0, PropertyTypeMismatchError{Key: key, DesiredType: "integer"}
}
