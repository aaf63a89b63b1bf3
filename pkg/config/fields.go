// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"slices"
	"sync"
)

// ConfigFieldSpec describes a setting reachable through `easyaccess config`.
type ConfigFieldSpec struct {
	// Name is the key used on the command line, e.g. "azp-policy".
	Name string
	// SetValidator checks a value before it is stored. Optional.
	SetValidator func(provider Provider, value string) error
	Setter       func(cfg *Config, value string)
	Getter       func(cfg *Config) string
	Unsetter     func(cfg *Config)
	// IsSet reports whether the field differs from its zero value. Optional.
	IsSet       func(cfg *Config) bool
	DisplayName string
	HelpText    string
}

var (
	fieldsMu sync.RWMutex
	fields   = map[string]ConfigFieldSpec{}
)

// RegisterConfigField adds a field to the registry.
// It panics on an incomplete spec or a duplicate name.
func RegisterConfigField(spec ConfigFieldSpec) {
	if spec.Name == "" {
		panic("config field name cannot be empty")
	}
	if spec.Setter == nil {
		panic(fmt.Sprintf("config field %q must have a Setter", spec.Name))
	}
	if spec.Getter == nil {
		panic(fmt.Sprintf("config field %q must have a Getter", spec.Name))
	}
	if spec.Unsetter == nil {
		panic(fmt.Sprintf("config field %q must have an Unsetter", spec.Name))
	}

	fieldsMu.Lock()
	defer fieldsMu.Unlock()
	if _, exists := fields[spec.Name]; exists {
		panic(fmt.Sprintf("config field %q is already registered", spec.Name))
	}
	fields[spec.Name] = spec
}

// RegisterStringField registers a field backed by a string in Config.
func RegisterStringField(name string, field func(*Config) *string, validator func(Provider, string) error) {
	RegisterConfigField(ConfigFieldSpec{
		Name:         name,
		SetValidator: validator,
		Setter:       func(cfg *Config, value string) { *field(cfg) = value },
		Getter:       func(cfg *Config) string { return *field(cfg) },
		Unsetter:     func(cfg *Config) { *field(cfg) = "" },
		IsSet:        func(cfg *Config) bool { return *field(cfg) != "" },
	})
}

// GetConfigFieldSpec returns the spec registered under name.
func GetConfigFieldSpec(name string) (ConfigFieldSpec, bool) {
	fieldsMu.RLock()
	defer fieldsMu.RUnlock()
	spec, ok := fields[name]
	return spec, ok
}

// ListConfigFields returns the registered field names in sorted order.
func ListConfigFields() []string {
	fieldsMu.RLock()
	defer fieldsMu.RUnlock()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func lookupField(name string) (ConfigFieldSpec, error) {
	spec, ok := GetConfigFieldSpec(name)
	if !ok {
		return ConfigFieldSpec{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return spec, nil
}

// SetConfigField validates value and stores it under the named field.
func SetConfigField(provider Provider, name, value string) error {
	spec, err := lookupField(name)
	if err != nil {
		return err
	}
	if spec.SetValidator != nil {
		if err := spec.SetValidator(provider, value); err != nil {
			return err
		}
	}
	return provider.UpdateConfig(func(cfg *Config) error {
		spec.Setter(cfg, value)
		return nil
	})
}

// GetConfigField returns the current value of the named field.
func GetConfigField(provider Provider, name string) (string, error) {
	spec, err := lookupField(name)
	if err != nil {
		return "", err
	}
	cfg, err := provider.GetConfig()
	if err != nil {
		return "", err
	}
	return spec.Getter(cfg), nil
}

// UnsetConfigField resets the named field. The default is restored on the next load.
func UnsetConfigField(provider Provider, name string) error {
	spec, err := lookupField(name)
	if err != nil {
		return err
	}
	return provider.UpdateConfig(func(cfg *Config) error {
		spec.Unsetter(cfg)
		return nil
	})
}
