package factory

import (
	"fmt"
	"sort"

	"pathprobe/internal/config"
	"pathprobe/internal/model"
)

// PluginFactory creates a measurement plugin from the loaded configuration.
type PluginFactory func(cfg *config.Config) (model.Plugin, error)

// registry holds the mapping of plugin names to their factory functions.
var registry = make(map[string]PluginFactory)

// Register registers a measurement plugin under its name. Plugins call
// this from an init function so importing the package is enough to make
// the plugin selectable.
func Register(name string, factory PluginFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("plugin '%s' already registered", name))
	}
	registry[name] = factory
}

// Create instantiates the named plugin.
func Create(name string, cfg *config.Config) (model.Plugin, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown plugin: '%s'", name)
	}
	plugin, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating plugin '%s': %w", name, err)
	}
	return plugin, nil
}

// List returns the registered plugin names, sorted.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
