package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNegative = errors.New("must be >= 0")

// FieldError names the config key a value was rejected for.
type FieldError struct {
	Key string
	Err error
}

func (e *FieldError) Error() string { return e.Key + ": " + e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(key string, err error) error { return &FieldError{Key: key, Err: err} }

// ParseDurationField parses a Go duration such as "1m30s". Empty is 0.
func ParseDurationField(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fieldErr(key, fmt.Errorf("bad duration %q: %w", raw, err))
	case d < 0:
		return 0, fieldErr(key, ErrNegative)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def in place of 0.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err == nil && d == 0 {
		d = def
	}
	return d, err
}
