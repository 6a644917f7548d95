package utils

import (
	"github.com/bytedance/sonic"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

// api sorts map keys so equal views always encode to equal bytes; program
// breakdowns are maps and clients diff responses.
var api = sonic.Config{
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
}.Froze()

func Marshal(data interface{}) ([]byte, error) {
	return api.Marshal(data)
}

func Unmarshal[T any](data []byte, target *T) error {
	return api.Unmarshal(data, target)
}

// UnmarshalConfig decodes a loosely typed params map, as found under a
// middleware's config, into target.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return types.Errorf(types.ErrInvalidParameter, "config is nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	data, err := api.Marshal(config)
	if err != nil {
		return types.WrapError(types.ErrInvalidParameter, err.Error())
	}

	if err := api.Unmarshal(data, target); err != nil {
		return types.WrapError(types.ErrInvalidParameter, err.Error())
	}

	return nil
}
