package mapstruct

import (
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Decode decodes a generic map (usually a yaml `db_config` or `options`
// block) into out. Durations may be given as strings ("30s") and scalar
// types are weakly converted.
func Decode(in any, out any) error {
	if in == nil {
		return nil
	}
	if m, ok := in.(map[string]any); ok && len(m) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			durationFromNumberHook,
		),
		WeaklyTypedInput: true,
		TagName:          "yaml",
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func durationFromNumberHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}
