// Package visit writes scripts for the VisIt command line interface and runs
// them.
//
// The VisIt object model (plots, operators, views, annotations) only exists
// inside VisIt's embedded Python interpreter, so rendering is driven by
// generating a Python script and running "visit -cli -nowin -s <script>".
// Attribute dictionaries are applied inside the script by apply_attributes,
// which assigns along dotted key paths and falls back to Set<Key>(value)
// setters when an attribute cannot be assigned directly.
package visit

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Ident is emitted verbatim, e.g. a variable name or expression.
type Ident string

// Literal renders a Go value as a Python literal. Booleans become 1/0, which
// is what VisIt attribute setters expect; slices and arrays become tuples and
// maps become dicts with sorted keys.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case Ident:
		return string(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return quote(x)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float())
	case reflect.String:
		return quote(rv.String())
	case reflect.Bool:
		return Literal(rv.Bool())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "()"
		}
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = Literal(rv.Index(i).Interface())
		}
		if len(items) == 1 {
			return "(" + items[0] + ",)"
		}
		return "(" + strings.Join(items, ", ") + ")"
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		byKey := make(map[string]reflect.Value, rv.Len())
		for _, k := range rv.MapKeys() {
			ks := fmt.Sprint(k.Interface())
			keys = append(keys, ks)
			byKey[ks] = rv.MapIndex(k)
		}
		sort.Strings(keys)
		items := make([]string, len(keys))
		for i, k := range keys {
			items[i] = quote(k) + ": " + Literal(byKey[k].Interface())
		}
		return "{" + strings.Join(items, ", ") + "}"
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "None"
		}
		return Literal(rv.Elem().Interface())
	}
	return quote(fmt.Sprint(v))
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "float('nan')"
	case math.IsInf(f, 1):
		return "float('inf')"
	case math.IsInf(f, -1):
		return "float('-inf')"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// quote renders s as a single-quoted Python string literal.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('\'')
	return b.String()
}
