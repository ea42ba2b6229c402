package remote

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"reflect"
	"sort"
)

type blobBox struct {
	V any
}

type mapEntry struct {
	Key   string
	Value any
}

// sortedMap is how string-keyed maps travel inside blobs: gob walks maps in
// random order, which would make packed requests fingerprint differently on
// every run.
type sortedMap []mapEntry

func init() {
	gob.Register([]any(nil))
	gob.Register(map[string]any(nil))
	gob.Register(sortedMap(nil))
	gob.Register(mobileCode{})
	gob.Register(Instance{})
}

// RegisterType makes a concrete type usable inside blobs, for example a value
// implementing Structured or one captured by a Lambda.
func RegisterType(value any) {
	gob.Register(value)
}

func EncodeBlob(value any) (blob string, err error) {
	var buffer bytes.Buffer
	err = gob.NewEncoder(&buffer).Encode(blobBox{V: canonicalize(value)})
	if err != nil {
		err = errorf(Serialization, err, "value of type %T cannot be encoded as a blob", value)
		return
	}
	return base64.StdEncoding.EncodeToString(buffer.Bytes()), nil
}

func DecodeBlob(blob string) (value any, err error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		err = errorf(Protocol, err, "blob is not valid base64")
		return
	}
	var box blobBox
	err = gob.NewDecoder(bytes.NewReader(data)).Decode(&box)
	if err != nil {
		err = errorf(Protocol, err, "blob cannot be decoded")
		return
	}
	return restore(box.V), nil
}

func canonicalize(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		entries := make(sortedMap, 0, len(v))
		for key, item := range v {
			entries = append(entries, mapEntry{Key: key, Value: canonicalize(item)})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Key < entries[j].Key
		})
		return entries
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = canonicalize(item)
		}
		return items
	case mobileCode:
		v.Defaults = canonicalize(v.Defaults).([]any)
		for i := range v.Captures {
			v.Captures[i].Value = canonicalize(v.Captures[i].Value)
		}
		v.Value = canonicalize(v.Value)
		return v
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		generic := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			generic[iter.Key().String()] = iter.Value().Interface()
		}
		return canonicalize(generic)
	}
	return value
}

func restore(value any) any {
	switch v := value.(type) {
	case sortedMap:
		m := make(map[string]any, len(v))
		for _, entry := range v {
			m[entry.Key] = restore(entry.Value)
		}
		return m
	case []any:
		for i, item := range v {
			v[i] = restore(item)
		}
		return v
	case mobileCode:
		for i, item := range v.Defaults {
			v.Defaults[i] = restore(item)
		}
		for i := range v.Captures {
			v.Captures[i].Value = restore(v.Captures[i].Value)
		}
		v.Value = restore(v.Value)
		return v
	}
	return value
}
