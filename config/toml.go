package config

import (
	"bytes"

	"github.com/BurntSushi/toml"

	"github.com/YuminosukeSato/goforest/pkg/errors"
)

// TOMLParser is a koanf parser for TOML documents.
type TOMLParser struct{}

// TOML returns a koanf parser for TOML.
func TOML() *TOMLParser { return &TOMLParser{} }

// Unmarshal parses a TOML document into a nested map.
func (p *TOMLParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if _, err := toml.Decode(string(b), &out); err != nil {
		return nil, errors.Wrap(err, "parsing TOML")
	}
	return out, nil
}

// Marshal renders a nested map as TOML.
func (p *TOMLParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, errors.Wrap(err, "encoding TOML")
	}
	return buf.Bytes(), nil
}
