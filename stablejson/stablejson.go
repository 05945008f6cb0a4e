// Package stablejson serializes Go values to the canonical JSON form the
// datastore protocol signs over: object keys sorted ascending by code
// point, arrays kept in order, nil/undefined fields skipped, and cycles
// rejected rather than walked. encoding/json does not offer sorted map
// keys for anything but map[string]T (and even there the sort is an
// implementation detail, not a documented guarantee for struct fields),
// so this package walks values itself rather than post-processing
// json.Marshal output.
package stablejson

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// CycleError is returned when Marshal encounters a value it has already
// visited on the current path.
type CycleError struct {
	Type string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("stablejson: cycle detected at %s", e.Type)
}

// Marshal encodes v into its canonical JSON byte representation.
func Marshal(v any) ([]byte, error) {
	var b strings.Builder
	enc := &encoder{seen: map[uintptr]bool{}}
	if err := enc.encode(&b, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// MarshalString is a convenience wrapper returning the canonical form as a
// string, matching the JS-style "stableJson" naming used by the protocol.
func MarshalString(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type encoder struct {
	seen map[uintptr]bool
}

func (e *encoder) encode(b *strings.Builder, v reflect.Value) error {
	if !v.IsValid() {
		b.WriteString("null")
		return nil
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			b.WriteString("null")
			return nil
		}
		if v.Kind() == reflect.Ptr {
			addr := v.Pointer()
			if e.seen[addr] {
				return &CycleError{Type: v.Type().String()}
			}
			e.seen[addr] = true
			defer delete(e.seen, addr)
		}
		return e.encode(b, v.Elem())

	case reflect.Map:
		if v.IsNil() {
			b.WriteString("null")
			return nil
		}
		addr := v.Pointer()
		if e.seen[addr] {
			return &CycleError{Type: v.Type().String()}
		}
		e.seen[addr] = true
		defer delete(e.seen, addr)
		return e.encodeMap(b, v)

	case reflect.Slice:
		if v.IsNil() {
			b.WriteString("null")
			return nil
		}
		addr := v.Pointer()
		if v.Len() > 0 && e.seen[addr] {
			return &CycleError{Type: v.Type().String()}
		}
		if v.Len() > 0 {
			e.seen[addr] = true
			defer delete(e.seen, addr)
		}
		return e.encodeArray(b, v)

	case reflect.Array:
		return e.encodeArray(b, v)

	case reflect.Struct:
		return e.encodeStruct(b, v)

	case reflect.String:
		b.WriteString(quoteString(v.String()))
		return nil

	case reflect.Bool:
		if v.Bool() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(v.Uint(), 10))
		return nil

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("stablejson: unsupported float value %v", f)
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return nil

	default:
		return fmt.Errorf("stablejson: unsupported kind %s", v.Kind())
	}
}

func (e *encoder) encodeMap(b *strings.Builder, v reflect.Value) error {
	if v.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("stablejson: map key type %s unsupported, only string keys", v.Type().Key())
	}
	keys := v.MapKeys()
	strKeys := make([]string, len(keys))
	for i, k := range keys {
		strKeys[i] = k.String()
	}
	sort.Strings(strKeys)

	b.WriteByte('{')
	first := true
	for _, k := range strKeys {
		val := v.MapIndex(reflect.ValueOf(k))
		if isUndefined(val) {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(quoteString(k))
		b.WriteByte(':')
		if err := e.encode(b, val); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func (e *encoder) encodeArray(b *strings.Builder, v reflect.Value) error {
	b.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := e.encode(b, v.Index(i)); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func (e *encoder) encodeStruct(b *strings.Builder, v reflect.Value) error {
	t := v.Type()
	type field struct {
		name string
		val  reflect.Value
	}
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		name, opts := parseTag(sf)
		if name == "-" {
			continue
		}
		fv := v.Field(i)
		if opts.omitempty && isEmptyValue(fv) {
			continue
		}
		if isUndefined(fv) {
			continue
		}
		fields = append(fields, field{name: name, val: fv})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteString(f.name))
		b.WriteByte(':')
		if err := e.encode(b, f.val); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

type tagOpts struct{ omitempty bool }

func parseTag(sf reflect.StructField) (string, tagOpts) {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name, tagOpts{}
	}
	parts := strings.Split(tag, ",")
	name := parts[0]
	if name == "" {
		name = sf.Name
	}
	opts := tagOpts{}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			opts.omitempty = true
		}
	}
	return name, opts
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

// isUndefined treats nil interfaces/pointers/maps/slices as "undefined"
// per the protocol's "omits undefined values" rule, distinct from
// omitempty which additionally drops zero-valued scalars.
func isUndefined(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Base64Encode and Base64Decode are re-exported for callers building signature envelopes, keeping
// the "base64 of raw signature bytes" convention in one place alongside
// the canonical-serialization helper it is almost always paired with.
func Base64Encode(b []byte) string          { return base64.StdEncoding.EncodeToString(b) }
func Base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
