package audit

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize encodes v as canonical JSON: object keys sorted after NFC
// normalization, nil members dropped, numbers in shortest round-trip form.
// Structs are not accepted; callers build explicit map views.
func Canonicalize(v any) ([]byte, error) {
	var enc encoder
	if err := enc.value(v); err != nil {
		return nil, err
	}
	return enc.buf.Bytes(), nil
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) value(v any) error {
	switch value := v.(type) {
	case nil:
		e.buf.WriteString("null")
		return nil
	case json.Number:
		return e.number(value)
	case time.Time:
		return e.str(value.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if value == nil {
			e.buf.WriteString("null")
			return nil
		}
		return e.str(value.UTC().Format(time.RFC3339Nano))
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return e.str(rv.String())
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		return e.float(rv.Float())
	case reflect.Map:
		return e.object(rv)
	case reflect.Slice, reflect.Array:
		return e.array(rv)
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			return e.str(t.UTC().Format(time.RFC3339Nano))
		}
		return ErrUnsupportedType
	default:
		return ErrUnsupportedType
	}
}

func (e *encoder) str(s string) error {
	encoded, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	e.buf.Write(encoded)
	return nil
}

// float prints integral values without a fraction so that a payload read
// back from JSON digests the same as the value that was written.
func (e *encoder) float(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrNonFiniteFloat
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		e.buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	e.buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func (e *encoder) number(n json.Number) error {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		e.buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return ErrInvalidNumber
	}
	return e.float(f)
}

func (e *encoder) object(rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return ErrNonStringMapKey
	}

	type member struct {
		key   string
		value any
	}
	members := make([]member, 0, rv.Len())
	seen := make(map[string]struct{}, rv.Len())
	for _, k := range rv.MapKeys() {
		key := norm.NFC.String(k.String())
		if _, dup := seen[key]; dup {
			return ErrKeyCollision
		}
		seen[key] = struct{}{}

		val := rv.MapIndex(k).Interface()
		if isNil(val) {
			continue
		}
		members = append(members, member{key: key, value: val})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].key < members[j].key })

	e.buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.str(m.key); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.value(m.value); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) array(rv reflect.Value) error {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		e.buf.WriteString("null")
		return nil
	}
	e.buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.value(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
