package util

import (
	"fmt"
)

// StringifyKeys turns the map[interface{}]interface{} values that
// gopkg.in/yaml.v2 produces into map[string]interface{}, all the way down.
func StringifyKeys(things interface{}) interface{} {
	switch what := things.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{})
		for k, v := range what {
			m[fmt.Sprintf("%v", k)] = StringifyKeys(v)
		}
		return m

	case map[string]interface{}:
		m := make(map[string]interface{})
		for k, v := range what {
			m[k] = StringifyKeys(v)
		}
		return m

	case []interface{}:
		l := make([]interface{}, 0)
		for _, thing := range what {
			l = append(l, StringifyKeys(thing))
		}
		return l

	default:
		return things
	}
}
