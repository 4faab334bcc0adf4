package main

import "strings"

// rawRecord is one device or edge object as decoded from a Mist stats
// response. Fields are optional and loosely typed; access goes through
// fieldValue so that a missing or mistyped field reads as absent instead of
// panicking or failing the batch.
type rawRecord map[string]interface{}

// fieldValue is a tagged-optional view of one field: either a value of some
// JSON type, or absent.
type fieldValue struct {
	value   interface{}
	present bool
}

// at resolves a dotted path ("radio_stat.band_5.util_all") against the
// record. Any missing segment, or a non-object in the middle of the path,
// yields an absent value.
func (r rawRecord) at(path string) fieldValue {
	if r == nil {
		return fieldValue{}
	}
	cur := interface{}(map[string]interface{}(r))
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return fieldValue{}
		}
		cur, ok = obj[part]
		if !ok {
			return fieldValue{}
		}
	}
	return fieldValue{value: cur, present: true}
}

// str returns the field as a string. Non-string values read as absent.
func (f fieldValue) str() (string, bool) {
	if !f.present {
		return "", false
	}
	s, ok := f.value.(string)
	return s, ok
}

// number returns the field as a float64 (the type encoding/json decodes all
// JSON numbers to). Non-numeric values read as absent.
func (f fieldValue) number() (float64, bool) {
	if !f.present {
		return 0, false
	}
	n, ok := f.value.(float64)
	return n, ok
}

// boolean returns the field as a bool. Non-bool values read as absent.
func (f fieldValue) boolean() (bool, bool) {
	if !f.present {
		return false, false
	}
	b, ok := f.value.(bool)
	return b, ok
}

// object returns the field as a nested record, for iterating keyed maps such
// as port_stat or sensor_stat.
func (f fieldValue) object() (rawRecord, bool) {
	if !f.present {
		return nil, false
	}
	obj, ok := f.value.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return rawRecord(obj), true
}
