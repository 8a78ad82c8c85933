package models

import "fmt"

// Optional holds a derived value that may be unavailable because the
// sidecar or header it comes from is missing. The zero value is unavailable.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some returns an available Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// None returns an unavailable Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is available.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// OrElse returns the value, or def when unavailable.
func (o Optional[T]) OrElse(def T) T {
	if !o.Valid {
		return def
	}
	return o.Value
}

// String renders the value, or "NA" when unavailable.
func (o Optional[T]) String() string {
	if !o.Valid {
		return "NA"
	}
	return fmt.Sprintf("%v", o.Value)
}

// MarshalYAML emits null for unavailable values.
func (o Optional[T]) MarshalYAML() (interface{}, error) {
	if !o.Valid {
		return nil, nil
	}
	return o.Value, nil
}
