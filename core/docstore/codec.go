package docstore

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TimeLayout is the encoding of timestamps inside documents.
const TimeLayout = time.RFC3339Nano

// Encode converts a struct (with json tags) to a document body.
func Encode(v interface{}) (Data, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	return data, nil
}

// Decode converts a document body into v.
func Decode(data Data, v interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "decoding document")
	}
	return errors.Wrap(json.Unmarshal(raw, v), "decoding document")
}

// Marshal and Unmarshal expose the document codec to the backends.
func Marshal(data Data) ([]byte, error) {
	return json.Marshal(data)
}

func Unmarshal(raw []byte) (Data, error) {
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "unmarshalling document")
	}
	return data, nil
}

// Normalize converts v to its stored JSON-like form: numbers become float64, times become
// TimeLayout strings, slices become []interface{}. Field transforms are returned unchanged.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case time.Time:
		return val.UTC().Format(TimeLayout)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(TimeLayout)
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	if isTransform(v) {
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
