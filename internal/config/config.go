// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads the YAML run configuration shared by the command line
// tool and the REST server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mlnoga/cnetbundle/internal/bundle"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/interest"
	"github.com/mlnoga/cnetbundle/internal/logging"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/refselect"
	"github.com/mlnoga/cnetbundle/internal/validate"
)

type Config struct {
	Logging logging.Config `yaml:"logging"`
	// Concurrent points during reference selection
	Workers int `yaml:"workers"`
	// Image cache budget in MB, 0 derives it from physical memory
	MemoryMB int    `yaml:"memoryMB"`
	Listen   string `yaml:"listen"`
	// Directory requests of the REST server are confined to. Empty allows all paths
	Sandbox string `yaml:"sandbox"`

	Select Select          `yaml:"select"`
	Bundle bundle.Settings `yaml:"bundle"`
}

type Select struct {
	Criterion     refselect.Criterion `yaml:"criterion"`
	Resolution    float64             `yaml:"resolution"`
	MinResolution float64             `yaml:"minResolution"`
	MaxResolution float64             `yaml:"maxResolution"`
	Strict        bool                `yaml:"strict"`
	// PVL file with optional ValidMeasure and Operator groups
	Definition string `yaml:"definition"`
}

func Default() *Config {
	return &Config{
		Logging: logging.Config{Level: "info", Format: "console"},
		Workers: 1,
		Listen:  ":8080",
		Select:  Select{Criterion: refselect.LeastEmission},
		Bundle:  bundle.DefaultSettings(),
	}
}

// Reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.Input, "config file not found: %s", path)
		}
		return nil, errs.Wrap(errs.Resource, err, "reading config file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errs.Wrap(errs.Input, err, "parsing config YAML")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errs.Wrap(errs.Input, err, "marshaling config YAML")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errs.Wrap(errs.Resource, err, "writing config file")
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errs.New(errs.Input, "workers must be at least 1, got %d", c.Workers)
	}
	if c.MemoryMB < 0 {
		return errs.New(errs.Input, "memoryMB must not be negative, got %d", c.MemoryMB)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return errs.New(errs.Input, "logging.format must be json or console, got %s", c.Logging.Format)
	}
	if err := c.selection().Check(); err != nil {
		return err
	}
	return c.Bundle.Validate()
}

// Selection settings without the PVL definition
func (c *Config) selection() refselect.Config {
	r := refselect.DefaultConfig()
	r.Criterion = c.Select.Criterion
	r.Resolution = c.Select.Resolution
	r.MinResolution = c.Select.MinResolution
	r.MaxResolution = c.Select.MaxResolution
	r.Strict = c.Select.Strict
	r.Workers = c.Workers
	return r
}

// Builds the reference selection settings, reading the definition file if one is named
func (c *Config) Refselect() (refselect.Config, error) {
	r := c.selection()
	if c.Select.Definition == "" {
		if r.Criterion == refselect.Interest {
			return r, errs.New(errs.Input, "criterion Interest needs a definition file with an Operator group")
		}
		return r, r.Check()
	}
	doc, err := pvl.ReadFile(c.Select.Definition)
	if err != nil {
		return r, errs.Wrap(errs.Input, err, "reading definition %s", c.Select.Definition)
	}
	if err := ApplyDefinition(&r, &doc.Object); err != nil {
		return r, err
	}
	return r, r.Check()
}

// Reads the ValidMeasure and Operator groups of a definition into selection settings
func ApplyDefinition(r *refselect.Config, def *pvl.Object) error {
	if g := def.FindGroupDeep("ValidMeasure"); g != nil {
		o, err := validate.ParseOptions(g)
		if err != nil {
			return err
		}
		r.Validate = o
	}
	if g := def.FindGroupDeep("Operator"); g != nil {
		ic, err := interest.ParseConfig(g)
		if err != nil {
			return err
		}
		r.Interest = ic
	} else if r.Criterion == refselect.Interest {
		return errs.New(errs.Input, "criterion Interest needs an Operator group")
	}
	return nil
}
