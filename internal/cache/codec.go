package cache

import "github.com/vmihailenco/msgpack/v5"

// Encode serializes a value into the compact binary form stored by the
// on-disk and distributed backends. Values that cross the REST/WS wire
// use encoding/json elsewhere; this codec is for cache-internal values
// only.
func Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserializes bytes previously produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
