package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// decoders maps a file extension to an unmarshaler producing plain Go
// values. Their output is re-encoded as JSON so one strict decoder checks
// every format.
var decoders = map[string]struct {
	format    string
	unmarshal func([]byte, any) error
}{
	".yaml": {"yaml", yaml.Unmarshal},
	".yml":  {"yaml", yaml.Unmarshal},
	".toml": {"toml", toml.Unmarshal},
}

// coerceToJSONBytes returns data as JSON plus the detected format name.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	d, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return data, "json", nil
	}
	doc := map[string]any{}
	if err := d.unmarshal(data, &doc); err != nil {
		return nil, d.format, fmt.Errorf("%s config: %w", d.format, err)
	}
	j, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, d.format, fmt.Errorf("%s config: %w", d.format, err)
	}
	return j, d.format, nil
}

// stringKeys rewrites YAML's map[any]any nodes so encoding/json accepts them.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
	}
	return v
}
