// Package cfg decodes the raw [http.services.<name>] and interceptor maps
// into typed config structs.
package cfg

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Setter is implemented by config structs that fill in their own defaults.
type Setter interface {
	ApplyDefaults()
}

// newDecoder accepts TOML integers for int fields of any width and duration
// strings ("5s") for time.Duration fields.
func newDecoder(c any, md *mapstructure.Metadata) (*mapstructure.Decoder, error) {
	return mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         md,
		Result:           c,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
}

// Decode decodes input into c, then calls ApplyDefaults when c is a Setter.
func Decode(input map[string]any, c any) error {
	_, err := decode(input, c)
	return err
}

// DecodeWithUnused is Decode, also returning the keys that matched no
// field, sorted.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	return decode(input, c)
}

// MustDecodeStrict fails when any key is unused. Tests use it to catch
// dead config.
func MustDecodeStrict(input map[string]any, c any) error {
	unused, err := decode(input, c)
	if err != nil {
		return err
	}
	if len(unused) > 0 {
		return fmt.Errorf("unused config keys: %v", unused)
	}
	return nil
}

func decode(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	d, err := newDecoder(c, &md)
	if err != nil {
		return nil, err
	}
	if err := d.Decode(input); err != nil {
		return nil, err
	}
	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}
	unused := md.Unused
	sort.Strings(unused)
	return unused, nil
}
