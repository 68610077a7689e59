package docstore

// Field transforms are resolved by the store at commit time against the stored document.
type (
	incrementTransform       struct{ n float64 }
	arrayUnionTransform      struct{ values []interface{} }
	arrayRemoveTransform     struct{ values []interface{} }
	serverTimestampTransform struct{}
)

// ServerTimestamp sets the field to the commit time.
var ServerTimestamp = serverTimestampTransform{}

// Increment adds n to the numeric field (a missing field counts as 0).
func Increment(n int) interface{} {
	return incrementTransform{n: float64(n)}
}

// ArrayUnion appends each value that is not already in the array field.
func ArrayUnion(values ...interface{}) interface{} {
	return arrayUnionTransform{values: values}
}

// ArrayRemove removes every occurrence of each value from the array field.
func ArrayRemove(values ...interface{}) interface{} {
	return arrayRemoveTransform{values: values}
}

// IncrementOf returns the delta carried by an Increment transform.
func IncrementOf(v interface{}) (int, bool) {
	t, ok := v.(incrementTransform)
	return int(t.n), ok
}

// ArrayUnionOf returns the values carried by an ArrayUnion transform.
func ArrayUnionOf(v interface{}) ([]interface{}, bool) {
	t, ok := v.(arrayUnionTransform)
	return t.values, ok
}

// ArrayRemoveOf returns the values carried by an ArrayRemove transform.
func ArrayRemoveOf(v interface{}) ([]interface{}, bool) {
	t, ok := v.(arrayRemoveTransform)
	return t.values, ok
}

func IsServerTimestamp(v interface{}) bool {
	_, ok := v.(serverTimestampTransform)
	return ok
}

func isTransform(v interface{}) bool {
	switch v.(type) {
	case incrementTransform, arrayUnionTransform, arrayRemoveTransform, serverTimestampTransform:
		return true
	}
	return false
}
