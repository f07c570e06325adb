package core

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// JSONEncode encodes a value to JSON bytes using Sonic (fail-fast).
// Sonic is significantly faster than the standard library's json.Marshal.
func JSONEncode(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("json encode: cannot encode nil value")
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode failed: %w", err)
	}
	return data, nil
}

// JSONDecode decodes JSON bytes into a value using Sonic (fail-fast).
func JSONDecode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("json decode: cannot decode empty data")
	}
	if v == nil {
		return fmt.Errorf("json decode: cannot decode into nil value")
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode failed: %w", err)
	}
	return nil
}
