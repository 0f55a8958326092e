package event

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"time"
)

// keyPattern accepts plain keys and '#'-prefixed system keys.
var keyPattern = regexp.MustCompile(`^#?[a-zA-Z][a-zA-Z0-9_]{0,50}$`)

var (
	// ErrMissingIdentity is returned when neither account id nor distinct id is set
	ErrMissingIdentity = errors.New("account_id or distinct_id must be provided")

	// ErrMissingEventName is returned when a track event has no name
	ErrMissingEventName = errors.New("the event name must be provided")

	// ErrMissingEventID is returned when an updatable/first event has no id
	ErrMissingEventID = errors.New("the event id must be provided")

	// ErrInvalidKey is returned for keys or event names outside the key pattern
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidValue is returned for property values of an unsupported type
	ErrInvalidValue = errors.New("unsupported property value type")

	// ErrNotNumber is returned for non-numeric user_add values
	ErrNotNumber = errors.New("only numbers are allowed for user_add")

	// ErrInvalidTime is returned when #time holds neither a time nor a parseable string
	ErrInvalidTime = errors.New("invalid #time value")

	// ErrUnknownType is returned for record types the receiver does not know
	ErrUnknownType = errors.New("unknown record type")
)

// ValidationError describes a record the receiver would reject.
type ValidationError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("validation error: %v", e.Err)
}

// Unwrap returns the sentinel cause.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// ValidateKey checks a property key or event name against the key pattern.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return invalid(key, ErrInvalidKey)
	}
	return nil
}

// ValidateProperties checks every key and value of props for a record of type t.
// Nil values are allowed and skipped.
func ValidateProperties(t Type, props Properties) error {
	for key, value := range props {
		if err := ValidateKey(key); err != nil {
			return err
		}
		if value == nil {
			continue
		}
		if !isSupported(value) {
			return invalid(key, fmt.Errorf("%w: %T", ErrInvalidValue, value))
		}
		if t == UserAdd && !IsNumber(value) {
			return invalid(key, ErrNotNumber)
		}
	}
	return nil
}

// IsNumber reports whether v is one of Go's numeric kinds.
func IsNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func isSupported(v any) bool {
	if IsNumber(v) {
		return true
	}
	switch v.(type) {
	case string, bool, time.Time, *time.Time:
		return true
	}
	// Lists and string-keyed maps of any element type.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return true
	case reflect.Map:
		return rv.Type().Key().Kind() == reflect.String
	}
	return false
}
