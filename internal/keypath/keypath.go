// Package keypath reads and writes values along dot separated key paths such
// as "axes3D.xAxis.title.units" on arbitrary Go values: string keyed maps,
// structs (by field name or json tag) and pointers to either.
//
// Writes follow the same contract the visualisation host uses for its
// attribute objects: assign the field directly when it exists, otherwise call
// a Set<Capitalized> method taking exactly one argument. String values aimed
// at integer fields are resolved through EnumResolver, which is how symbolic
// host constants ("Absolute", "Linear") end up as their numeric values.
package keypath

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrNoSuchKey is returned when a path component names neither a map key,
	// a field nor a setter.
	ErrNoSuchKey = errors.New("no such key")

	// ErrNotSettable is returned when the target exists but cannot be
	// written, e.g. a struct stored by value inside a map.
	ErrNotSettable = errors.New("value not settable")

	// ErrEmptyPath is returned for "" or paths with empty components ("a..b").
	ErrEmptyPath = errors.New("empty key path")

	// ErrOutOfRange is returned when a number does not fit the target type.
	ErrOutOfRange = errors.New("value out of range")
)

// EnumResolver maps symbolic constant names to their integer values.
// It is consulted when a string is assigned to an integer field.
type EnumResolver interface {
	ResolveEnum(name string) (int, bool)
}

// Split breaks a key path into its components.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrEmptyPath, path)
		}
	}
	return parts, nil
}

// Get returns the value at path. Missing map keys and nil intermediates yield
// (nil, nil); a missing struct field is ErrNoSuchKey.
func Get(obj any, path string) (any, error) {
	parts, err := Split(path)
	if err != nil {
		return nil, err
	}

	cur := reflect.ValueOf(obj)
	for i, name := range parts {
		cur = indirect(cur)
		if !cur.IsValid() {
			return nil, nil
		}
		next, found, err := child(cur, name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.Join(parts[:i+1], "."), err)
		}
		if !found {
			if cur.Kind() == reflect.Map {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrNoSuchKey, strings.Join(parts[:i+1], "."))
		}
		cur = next
	}

	cur = indirectInterface(cur)
	if !cur.IsValid() || !cur.CanInterface() {
		return nil, nil
	}
	return cur.Interface(), nil
}

// Set writes value at path. obj must be a pointer (to a struct or map) or a
// map. Intermediate components must already exist.
func Set(obj any, path string, value any) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}

	cur := reflect.ValueOf(obj)
	for i, name := range parts[:len(parts)-1] {
		cur = indirect(cur)
		if !cur.IsValid() {
			return fmt.Errorf("%w: %s is nil", ErrNoSuchKey, strings.Join(parts[:i], "."))
		}
		next, found, err := child(cur, name)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(parts[:i+1], "."), err)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrNoSuchKey, strings.Join(parts[:i+1], "."))
		}
		cur = next
	}

	target := indirect(cur)
	if !target.IsValid() {
		return fmt.Errorf("%w: parent of %s is nil", ErrNoSuchKey, path)
	}
	if err := assign(cur, target, parts[len(parts)-1], value); err != nil {
		return fmt.Errorf("can't set value %v for key '%s': %w", value, path, err)
	}
	return nil
}

// SetValues applies every key path in values onto obj in sorted key order so
// that the result does not depend on map iteration. All failures are joined.
func SetValues(obj any, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := Set(obj, k, values[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Capitalize upper-cases the first letter of every space separated word.
func Capitalize(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// indirect follows pointers and interfaces down to the concrete value.
// It returns the invalid Value for nil.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func indirectInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// child looks up name in a map or struct value.
func child(v reflect.Value, name string) (reflect.Value, bool, error) {
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, false, fmt.Errorf("map key type %s is not a string", v.Type().Key())
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return reflect.Value{}, false, nil
		}
		return mv, true, nil
	case reflect.Struct:
		idx, ok := fieldIndex(v.Type(), name)
		if !ok {
			return reflect.Value{}, false, nil
		}
		return v.FieldByIndex(idx), true, nil
	}
	return reflect.Value{}, false, fmt.Errorf("cannot descend into %s", v.Kind())
}

// fieldIndex matches an exported field by exact name, capitalised name,
// json tag, or case-insensitively, in that order.
func fieldIndex(t reflect.Type, name string) ([]int, bool) {
	candidates := []func(f reflect.StructField) bool{
		func(f reflect.StructField) bool { return f.Name == name },
		func(f reflect.StructField) bool { return f.Name == Capitalize(name) },
		func(f reflect.StructField) bool { return jsonName(f) == name },
		func(f reflect.StructField) bool { return strings.EqualFold(f.Name, name) },
	}
	for _, match := range candidates {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if match(f) {
				return f.Index, true
			}
		}
	}
	return nil, false
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

// assign sets name on target. holder is the value target was reached from,
// which may be a pointer and therefore carry pointer-receiver setters.
func assign(holder, target reflect.Value, name string, value any) error {
	switch target.Kind() {
	case reflect.Map:
		if target.IsNil() {
			return ErrNotSettable
		}
		if target.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map key type %s is not a string", ErrNotSettable, target.Type().Key())
		}
		key := reflect.ValueOf(name).Convert(target.Type().Key())
		cv, err := convert(value, target.Type().Elem())
		if err != nil {
			return err
		}
		target.SetMapIndex(key, cv)
		return nil

	case reflect.Struct:
		if idx, ok := fieldIndex(target.Type(), name); ok {
			field := target.FieldByIndex(idx)
			if field.CanSet() {
				if s, isString := value.(string); isString && isInt(field.Kind()) {
					n, ok := resolveEnum(holder, target, s)
					if !ok {
						return fmt.Errorf("unknown constant %q", s)
					}
					cv, err := convert(n, field.Type())
					if err != nil {
						return err
					}
					field.Set(cv)
					return nil
				}
				cv, err := convert(value, field.Type())
				if err != nil {
					return err
				}
				field.Set(cv)
				return nil
			}
		}
		return callSetter(holder, target, name, value)
	}
	return fmt.Errorf("cannot assign into %s", target.Kind())
}

func callSetter(holder, target reflect.Value, name string, value any) error {
	setter := "Set" + Capitalize(name)
	var m reflect.Value
	for _, recv := range []reflect.Value{holder, target} {
		if !recv.IsValid() {
			continue
		}
		if recv.Kind() != reflect.Pointer && recv.CanAddr() {
			recv = recv.Addr()
		}
		if mm := recv.MethodByName(setter); mm.IsValid() {
			m = mm
			break
		}
	}
	if !m.IsValid() {
		if !target.CanAddr() {
			return fmt.Errorf("%w: %s", ErrNotSettable, name)
		}
		return fmt.Errorf("%w: %s", ErrNoSuchKey, name)
	}
	if m.Type().NumIn() != 1 {
		return fmt.Errorf("%s takes %d arguments, want 1", setter, m.Type().NumIn())
	}
	arg, err := convert(value, m.Type().In(0))
	if err != nil {
		return err
	}
	out := m.Call([]reflect.Value{arg})
	if n := len(out); n > 0 {
		if e, ok := out[n-1].Interface().(error); ok && e != nil {
			return e
		}
	}
	return nil
}

func resolveEnum(holder, target reflect.Value, name string) (int, bool) {
	for _, v := range []reflect.Value{holder, target} {
		if !v.IsValid() {
			continue
		}
		if v.Kind() != reflect.Pointer && v.CanAddr() {
			v = v.Addr()
		}
		if v.CanInterface() {
			if r, ok := v.Interface().(EnumResolver); ok {
				return r.ResolveEnum(name)
			}
		}
	}
	return 0, false
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// checkRange reports whether the number rv can be stored in t without
// wrapping or overflowing.
func checkRange(rv reflect.Value, t reflect.Type) error {
	target := reflect.New(t).Elem()
	var over bool
	switch {
	case isSigned(t.Kind()):
		switch {
		case isSigned(rv.Kind()):
			over = target.OverflowInt(rv.Int())
		case isFloat(rv.Kind()):
			f := rv.Float()
			over = f < math.MinInt64 || f >= math.MaxInt64 || target.OverflowInt(int64(f))
		default:
			u := rv.Uint()
			over = u > math.MaxInt64 || target.OverflowInt(int64(u))
		}
	case isInt(t.Kind()):
		switch {
		case isSigned(rv.Kind()):
			n := rv.Int()
			over = n < 0 || target.OverflowUint(uint64(n))
		case isFloat(rv.Kind()):
			f := rv.Float()
			over = f < 0 || f >= math.MaxUint64 || target.OverflowUint(uint64(f))
		default:
			over = target.OverflowUint(rv.Uint())
		}
	case t.Kind() == reflect.Float32 && isFloat(rv.Kind()):
		over = target.OverflowFloat(rv.Float())
	}
	if over {
		return fmt.Errorf("%w: %v does not fit %s", ErrOutOfRange, rv.Interface(), t)
	}
	return nil
}

// convert coerces value into type t the way configuration values need it:
// JSON float64 into ints (when integral), 0/1 into bools, []any into slices
// and fixed-size arrays.
func convert(value any, t reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}

	switch {
	case isInt(t.Kind()) && isFloat(rv.Kind()):
		f := rv.Float()
		if f != math.Trunc(f) {
			return reflect.Value{}, fmt.Errorf("cannot use non-integral %v as %s", f, t)
		}
		if err := checkRange(rv, t); err != nil {
			return reflect.Value{}, err
		}
		return rv.Convert(t), nil
	case (isInt(t.Kind()) || isFloat(t.Kind())) && (isInt(rv.Kind()) || isFloat(rv.Kind())):
		if err := checkRange(rv, t); err != nil {
			return reflect.Value{}, err
		}
		return rv.Convert(t), nil
	case t.Kind() == reflect.Bool && (isInt(rv.Kind()) || isFloat(rv.Kind())):
		return reflect.ValueOf(!rv.IsZero()).Convert(t), nil
	case (isInt(t.Kind()) || isFloat(t.Kind())) && rv.Kind() == reflect.Bool:
		n := 0
		if rv.Bool() {
			n = 1
		}
		return reflect.ValueOf(n).Convert(t), nil
	case t.Kind() == reflect.String && rv.Kind() == reflect.String:
		return rv.Convert(t), nil
	case t.Kind() == reflect.Slice && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array):
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := convert(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case t.Kind() == reflect.Array && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array):
		if rv.Len() != t.Len() {
			return reflect.Value{}, fmt.Errorf("need %d elements for %s, got %d", t.Len(), t, rv.Len())
		}
		out := reflect.New(t).Elem()
		for i := 0; i < rv.Len(); i++ {
			ev, err := convert(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case t.Kind() == reflect.Interface && rv.Type().Implements(t):
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", value, t)
}
