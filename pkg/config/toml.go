package config

import (
	"time"

	"github.com/pkg/errors"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	res, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration{res}
	return nil
}

// StringSlice is a toml extension that lets you to specify either a string
// value (a slice with just one element) or a string slice.
type StringSlice []string

func (s *StringSlice) UnmarshalTOML(v interface{}) error {
	switch value := v.(type) {
	case string:
		*s = []string{value}
		return nil
	case []interface{}:
		list := make([]string, 0, len(value))
		for _, item := range value {
			str, ok := item.(string)
			if !ok {
				return errors.Errorf("unexpected %T in string slice", item)
			}
			list = append(list, str)
		}
		*s = list
		return nil
	}

	return errors.New("failed to decode string (slice) field")
}
