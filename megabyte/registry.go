package megabyte

import (
	"fmt"

	"github.com/Karinza38/BlaGPT/params"
)

// Builder constructs a model variant from a config.
type Builder func(params.Config) (*Model, error)

var builders = make(map[string]Builder)

// Register makes a model variant available under name. Registering the same
// name twice panics.
func Register(name string, b Builder) {
	if _, ok := builders[name]; ok {
		panic(fmt.Sprintf("megabyte: variant %q registered twice", name))
	}
	builders[name] = b
}

// Build constructs the named variant.
func Build(name string, cfg params.Config) (*Model, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("megabyte: unknown variant %q", name)
	}
	return b(cfg)
}

func init() {
	Register("megabyte", New)
}
