package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// field is one key of a decoded JSON object. value is nil, string,
// json.Number, bool, object or []any.
type field struct {
	key   string
	value any
}

// object is a JSON object that keeps its key order, so record columns come out
// in the order the API returned them.
type object []field

// UnmarshalJSON decodes a JSON object keeping key order.
func (o *object) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	obj, ok := v.(object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*o = obj
	return nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := object{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, field{key: key, value: v})
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

// plain converts decoded values to maps and slices for re-encoding.
func plain(v any) any {
	switch t := v.(type) {
	case object:
		m := make(map[string]any, len(t))
		for _, f := range t {
			m[f.key] = plain(f.value)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// flatten returns the scalar fields of a record with nested relationship
// objects expanded to dotted keys (Facility__r.Name). The attributes metadata
// key is dropped at every level. Arrays, such as sub-query results, are kept
// as their JSON text.
func flatten(obj object) []field {
	var out []field
	flattenInto(&out, "", obj)
	return out
}

func flattenInto(out *[]field, prefix string, obj object) {
	for _, f := range obj {
		if f.key == "attributes" {
			continue
		}
		key := prefix + f.key
		switch v := f.value.(type) {
		case object:
			flattenInto(out, key+".", v)
		case []any:
			b, err := json.Marshal(plain(v))
			if err != nil {
				*out = append(*out, field{key: key, value: nil})
				continue
			}
			*out = append(*out, field{key: key, value: string(b)})
		default:
			*out = append(*out, field{key: key, value: v})
		}
	}
}
