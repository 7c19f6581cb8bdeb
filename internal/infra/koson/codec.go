package koson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/kos-tools/gturn/internal/domain"
)

// Wire format constants shared with kOS.
const (
	TypeField    = "$type"
	LexiconType  = "kOS.Safe.Encapsulation.Lexicon"
	ListType     = "kOS.Safe.Encapsulation.ListValue"
	EntriesField = "entries"
	ItemsField   = "items"
)

// ─── Encoding ───────────────────────────────────────────────────────────────

// Marshal encodes v in compact wire form.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalIndent encodes v and indents each nesting level with indent.
// An empty indent yields the compact form.
func MarshalIndent(v Value, indent string) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil || indent == "" {
		return raw, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", indent); err != nil {
		return nil, fmt.Errorf("indent: %w", err)
	}
	return out.Bytes(), nil
}

// Dump writes the encoded value followed by a newline.
func Dump(w io.Writer, v Value, indent string) error {
	data, err := MarshalIndent(v, indent)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("%w: number %v has no JSON representation", domain.ErrMalformedEncoding, v.n)
		}
		buf.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindString:
		encodeString(buf, v.s)
	case KindMap:
		buf.WriteString(`{"` + EntriesField + `":[`)
		first := true
		var err error
		v.m.Range(func(key string, val Value) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			encodeString(buf, key)
			buf.WriteByte(',')
			err = encodeValue(buf, val)
			return err == nil
		})
		if err != nil {
			return err
		}
		buf.WriteString(`],"` + TypeField + `":"` + LexiconType + `"}`)
	case KindList:
		buf.WriteString(`{"` + ItemsField + `":[`)
		for i, it := range v.l {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, it); err != nil {
				return err
			}
		}
		buf.WriteString(`],"` + TypeField + `":"` + ListType + `"}`)
	default:
		return fmt.Errorf("%w: unknown value kind %d", domain.ErrMalformedEncoding, v.kind)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) {
	// json.Marshal of a string cannot fail.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// ─── Decoding ───────────────────────────────────────────────────────────────

// Unmarshal decodes a wire-form document.
func Unmarshal(data []byte) (Value, error) {
	return Load(bytes.NewReader(data))
}

// ReadFile decodes the wire-form document stored at path.
func ReadFile(path string) (Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return Value{}, err
	}
	defer f.Close()
	return Load(f)
}

// Load decodes exactly one wire-form document from r. Objects are decoded
// bottom-up: a Lexicon becomes an ordered Map, a ListValue becomes a List,
// and an object without a type tag passes through as a Map of its fields
// in document order.
func Load(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	v, err := decodeNext(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("%w: trailing content after document", domain.ErrMalformedEncoding)
	}
	return v, nil
}

func decodeNext(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, syntaxError(err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return Value{}, fmt.Errorf("%w: unexpected %q", domain.ErrMalformedEncoding, t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %s: %v", domain.ErrMalformedEncoding, t, err)
		}
		return Number(n), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	}
	return Value{}, fmt.Errorf("%w: unexpected token %v", domain.ErrMalformedEncoding, tok)
}

func decodeArray(dec *json.Decoder) (Value, error) {
	items := []Value{}
	for dec.More() {
		it, err := decodeNext(dec)
		if err != nil {
			return Value{}, err
		}
		items = append(items, it)
	}
	if _, err := dec.Token(); err != nil { // ']'
		return Value{}, syntaxError(err)
	}
	return List(items...), nil
}

func decodeObject(dec *json.Decoder) (Value, error) {
	fields := NewMap()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, syntaxError(err)
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: object key %v is not a string", domain.ErrMalformedEncoding, tok)
		}
		val, err := decodeNext(dec)
		if err != nil {
			return Value{}, err
		}
		fields.Set(key, val)
	}
	if _, err := dec.Token(); err != nil { // '}'
		return Value{}, syntaxError(err)
	}
	return interpretObject(fields)
}

func interpretObject(fields *Map) (Value, error) {
	tagValue, tagged := fields.Get(TypeField)
	if !tagged {
		return MapValue(fields), nil
	}
	tag, ok := tagValue.AsString()
	if !ok {
		return Value{}, fmt.Errorf("%w: %s must be a string, got %s", domain.ErrMalformedEncoding, TypeField, tagValue.Kind())
	}

	switch tag {
	case LexiconType:
		return decodeLexicon(fields)
	case ListType:
		items, ok := fields.Get(ItemsField)
		if !ok {
			return Value{}, fmt.Errorf("%w: list value without %q", domain.ErrMalformedEncoding, ItemsField)
		}
		if _, ok := items.AsList(); !ok {
			return Value{}, fmt.Errorf("%w: list %q is a %s", domain.ErrMalformedEncoding, ItemsField, items.Kind())
		}
		return items, nil
	default:
		// Untagged (empty tag) and foreign kOS types pass through unchanged.
		return MapValue(fields), nil
	}
}

func decodeLexicon(fields *Map) (Value, error) {
	entriesValue, ok := fields.Get(EntriesField)
	if !ok {
		return Value{}, fmt.Errorf("%w: lexicon without %q", domain.ErrMalformedEncoding, EntriesField)
	}
	entries, ok := entriesValue.AsList()
	if !ok {
		return Value{}, fmt.Errorf("%w: lexicon %q is a %s", domain.ErrMalformedEncoding, EntriesField, entriesValue.Kind())
	}
	if len(entries)%2 != 0 {
		return Value{}, fmt.Errorf("%w: lexicon has %d entries, want an even count", domain.ErrMalformedEncoding, len(entries))
	}

	m := NewMap()
	for i := 0; i < len(entries); i += 2 {
		key, ok := entries[i].AsString()
		if !ok {
			return Value{}, fmt.Errorf("%w: lexicon key #%d is a %s", domain.ErrMalformedEncoding, i/2, entries[i].Kind())
		}
		m.Set(key, entries[i+1])
	}
	return MapValue(m), nil
}

func syntaxError(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %v", domain.ErrMalformedEncoding, err)
}
