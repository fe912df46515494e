package common

import (
	"reflect"
	"regexp"
	"sort"
)

// envRefPattern matches ${NAME} references in config string values
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvReferences replaces ${NAME} references in s using lookup.
// Unset variables expand to an empty string and are returned by name.
func ExpandEnvReferences(s string, lookup func(string) (string, bool)) (string, []string) {
	var missing []string
	out := envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := lookup(name); ok {
			return value
		}
		missing = append(missing, name)
		return ""
	})
	return out, missing
}

// expandStruct walks exported string, []string and nested struct fields of v
// in place and returns the sorted set of unresolved variable names
func expandStruct(v reflect.Value, lookup func(string) (string, bool)) []string {
	seen := map[string]bool{}
	var walk func(reflect.Value)
	walk = func(val reflect.Value) {
		for i := 0; i < val.NumField(); i++ {
			field := val.Field(i)
			if !field.CanSet() {
				continue
			}
			switch field.Kind() {
			case reflect.String:
				expanded, missing := ExpandEnvReferences(field.String(), lookup)
				field.SetString(expanded)
				for _, name := range missing {
					seen[name] = true
				}
			case reflect.Slice:
				if field.Type().Elem().Kind() != reflect.String {
					continue
				}
				for j := 0; j < field.Len(); j++ {
					elem := field.Index(j)
					expanded, missing := ExpandEnvReferences(elem.String(), lookup)
					elem.SetString(expanded)
					for _, name := range missing {
						seen[name] = true
					}
				}
			case reflect.Struct:
				walk(field)
			case reflect.Ptr:
				if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
					walk(field.Elem())
				}
			}
		}
	}
	walk(v)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
