package unique

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const (
	pathSeparator = "."
	pairSeparator = "::"
)

// Canonicalize derives the identity of a unique payload.
//
// Mappings are flattened into dotted key paths, sorted byte-wise and rendered
// as "path:value" pairs joined by "::", so key order never changes the result.
// Any other payload is rendered directly. Numbers and strings that render the
// same produce the same identity.
func Canonicalize(payload any) string {
	if !isMapping(payload) {
		return stringify(payload)
	}

	flat := make(map[string]string)
	flatten(reflect.ValueOf(payload), "", flat)

	paths := make([]string, 0, len(flat))
	for path := range flat {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	for i, path := range paths {
		if i > 0 {
			b.WriteString(pairSeparator)
		}
		b.WriteString(path)
		b.WriteByte(':')
		b.WriteString(flat[path])
	}
	return b.String()
}

func flatten(m reflect.Value, prefix string, out map[string]string) {
	iter := m.MapRange()
	for iter.Next() {
		path := iter.Key().String()
		if prefix != "" {
			path = prefix + pathSeparator + path
		}

		value := iter.Value().Interface()
		if isMapping(value) {
			flatten(reflect.ValueOf(value), path, out)
			continue
		}
		out[path] = stringify(value)
	}
}

// isMapping reports whether v is a map keyed by strings
func isMapping(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	return t.Kind() == reflect.Map && t.Key().Kind() == reflect.String
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return ""
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = stringifyElement(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	case reflect.Map:
		return "[object Object]"
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return stringify(rv.Elem().Interface())
	}

	return fmt.Sprint(v)
}

// stringifyElement renders an array element; nil elements render empty
func stringifyElement(v any) string {
	if v == nil {
		return ""
	}
	return stringify(v)
}

// formatFloat renders numbers the way identities written by other queue
// clients do: plain decimals in [1e-6, 1e21), exponent form outside it
// ("1e+21", "1.5e-7").
func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, bitSize)
		mantissa, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}
