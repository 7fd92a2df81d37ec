// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog loads and serves the declarative tool registry the model
// is allowed to call.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/concierge/services/llm"
)

// ErrToolNotFound is returned by Describe for names absent from the catalog.
var ErrToolNotFound = errors.New("catalog: tool not found")

// Descriptor describes one callable tool.
//
// Description:
//
//	The model synthesizes calls purely from Name + Description + Parameters,
//	so the schema must be complete: every mandatory field listed in
//	Required, every field declared in Properties. Load validates this.
//
// Thread Safety: Descriptors are immutable after load.
type Descriptor struct {
	// Name is the unique tool identifier (e.g. "create_reservation").
	Name string `yaml:"name"`

	// Description tells the model what the tool does and when to use it.
	Description string `yaml:"description"`

	// RequiresAuth gates the tool behind an authenticated direct-message
	// context. The dispatcher enforces this before the handler runs.
	RequiresAuth bool `yaml:"requiresAuth"`

	// InputSchema is the JSON-schema object for the tool arguments.
	InputSchema llm.ToolParameters `yaml:"inputSchema"`
}

// Catalog is the immutable set of tool descriptors, in file order.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Catalog struct {
	ordered []Descriptor
	byName  map[string]Descriptor
}

// catalogFile is the YAML document shape.
type catalogFile struct {
	Tools []Descriptor `yaml:"tools"`
}

// Load reads the tool catalog from a YAML file.
//
// Description:
//
//	The service fails fast at startup when the catalog is missing or
//	invalid: a gateway without its tool menu must not come up half-armed.
//
// Inputs:
//   - path: Path to the catalog YAML (a "tools:" list).
//
// Outputs:
//   - *Catalog: The validated catalog.
//   - error: Non-nil on read, parse, or validation failure.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: parsing %s: %w", path, err)
	}

	cat, err := New(file.Tools)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}

	slog.Info("Tool catalog loaded",
		slog.String("path", path),
		slog.Int("tools", len(file.Tools)),
	)
	return cat, nil
}

// New builds a catalog from descriptors, validating each entry.
//
// Outputs:
//   - *Catalog: The catalog, preserving input order.
//   - error: Non-nil on an empty list, a duplicate name, or a bad schema.
func New(descriptors []Descriptor) (*Catalog, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no tools defined")
	}

	byName := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		if err := validateDescriptor(d); err != nil {
			return nil, err
		}
		if _, exists := byName[d.Name]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", d.Name)
		}
		byName[d.Name] = d
	}

	return &Catalog{
		ordered: slices.Clone(descriptors),
		byName:  byName,
	}, nil
}

// validateDescriptor checks one entry's completeness.
func validateDescriptor(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool with empty name")
	}
	if d.Description == "" {
		return fmt.Errorf("tool %q has no description", d.Name)
	}
	if d.InputSchema.Type != "object" {
		return fmt.Errorf("tool %q: inputSchema.type must be \"object\", got %q", d.Name, d.InputSchema.Type)
	}
	for _, required := range d.InputSchema.Required {
		if _, declared := d.InputSchema.Properties[required]; !declared {
			return fmt.Errorf("tool %q: required field %q not declared in properties", d.Name, required)
		}
	}
	return nil
}

// List returns the descriptors in stable file order. The slice is a copy;
// callers may not mutate catalog state through it.
func (c *Catalog) List() []Descriptor {
	return slices.Clone(c.ordered)
}

// Describe looks up a tool by name.
//
// Outputs:
//   - Descriptor: The matching descriptor.
//   - error: ErrToolNotFound when the name is unknown.
func (c *Catalog) Describe(name string) (Descriptor, error) {
	d, ok := c.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return d, nil
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	return len(c.ordered)
}

// ModelDefs converts the catalog into the provider function-calling format,
// preserving order. This is the verbatim menu the model sees.
func (c *Catalog) ModelDefs() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(c.ordered))
	for _, d := range c.ordered {
		defs = append(defs, llm.ToolDef{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return defs
}
