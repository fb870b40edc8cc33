// Package config reads command defaults from a YAML file.
//
// The file has one section per command, keyed by flag name:
//
//	train:
//	  embedding-dimension: 32
//	  depth: 4
//	  categorical-columns: [color, shape]
//
// Values given on the command line take precedence over the file.
package config

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type File map[string]map[string]interface{}

func Load(path string) (File, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return f, nil
}

// Apply sets the flags of section that were not given on the command line.
func (f File) Apply(section string, flags *pflag.FlagSet) error {
	for name, value := range f[section] {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown option %q in config section %s", name, section)
		}
		if flag.Changed {
			continue
		}
		if err := flags.Set(name, format(value)); err != nil {
			return fmt.Errorf("invalid value for option %q: %w", name, err)
		}
	}
	return nil
}

func format(value interface{}) string {
	list, ok := value.([]interface{})
	if !ok {
		return fmt.Sprint(value)
	}
	items := make([]string, len(list))
	for i, item := range list {
		items[i] = fmt.Sprint(item)
	}
	return strings.Join(items, ",")
}
