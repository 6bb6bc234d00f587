package tac

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"
)

// tomlSettings mirrors go-probeum's cmd/gprobe/config.go convention of
// using Go struct field names verbatim as TOML keys (no case-folding),
// rejecting any unrecognised key in the file rather than silently
// swallowing a typo.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// LoadConfigFile reads a TOML configuration file (settings.py's config.ini,
// reimagined as the explicit Config record spec.md §9 calls for) into a
// copy of base, and returns the merged result. Only fields present in the
// file override base's values.
func LoadConfigFile(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, err
	}
	defer f.Close()

	cfg := base
	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	if err != nil {
		return base, err
	}
	return cfg, nil
}

// DumpConfigFile writes cfg to path as TOML, the dumpconfig counterpart
// go-probeum's cmd ships for inspecting the configuration actually in
// effect.
func DumpConfigFile(path string, cfg Config) error {
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
