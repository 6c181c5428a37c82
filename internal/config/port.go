package config

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
)

// Port accepts both string and integer notation in config files.
type Port string

func (p Port) String() string {
	return string(p)
}

func (p Port) Validate() error {
	if p == "" {
		return nil
	}
	n, err := strconv.Atoi(string(p))
	if err != nil {
		return fmt.Errorf("port '%s' is not a number", p)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d is outside the valid range 1-65535", n)
	}
	return nil
}

func PortDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		// Only process if target type is Port
		if t != reflect.TypeOf(Port("")) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return Port(v), nil
		case int:
			return Port(strconv.Itoa(v)), nil
		case int64:
			return Port(strconv.FormatInt(v, 10)), nil
		case float64:
			// YAML and JSON may parse integers as floats
			if v == float64(int(v)) {
				return Port(strconv.Itoa(int(v))), nil
			}
			return nil, fmt.Errorf("port must be an integer, got float: %v", v)
		default:
			return nil, fmt.Errorf("port must be a string or integer, got %T: %v", data, data)
		}
	}
}
