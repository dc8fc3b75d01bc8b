// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package configutil loads YAML configuration files, resolving a chain of
// "extends" base files before validating the merged result once.
package configutil

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// ErrCycleRef is returned by resolveExtends when a file's extends chain
// loops back on itself.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

// ValidationError wraps the field-level errors produced by validating a
// loaded config, keyed by struct field name.
type ValidationError struct {
	errs validator.ErrorMap
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", e.errs.Error())
}

// ErrForField returns the validation errors for a single field, or nil if
// that field was valid.
func (e ValidationError) ErrForField(field string) validator.ErrorArray {
	errs, ok := e.errs[field]
	if !ok {
		return nil
	}
	return errs
}

type extendsStub struct {
	Extends string `yaml:"extends"`
}

// Load reads path, follows its extends chain, merges every file in the
// chain (base first, path last), and validates the merged result.
func Load(path string, cfg interface{}) error {
	filenames, err := resolveExtends(path, readExtends)
	if err != nil {
		return err
	}
	return loadFiles(cfg, filenames)
}

// readExtends reads filename's extends key, returning "" if it has none.
func readExtends(filename string) (string, error) {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return "", err
	}
	var stub extendsStub
	if err := yaml.Unmarshal(b, &stub); err != nil {
		return "", err
	}
	return stub.Extends, nil
}

// resolveExtends walks fpath's extends chain via readExtends, returning the
// ordered list of files from the most-base ancestor to fpath itself.
// Relative extends targets resolve against the directory of the file that
// named them.
func resolveExtends(fpath string, readExtends func(string) (string, error)) ([]string, error) {
	var chain []string
	seen := make(map[string]bool)

	cur := fpath
	for {
		if seen[cur] {
			return nil, ErrCycleRef
		}
		seen[cur] = true
		chain = append([]string{cur}, chain...)

		target, err := readExtends(cur)
		if err != nil {
			return nil, err
		}
		if target == "" {
			break
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(cur), target)
		}
		cur = target
	}
	return chain, nil
}

// loadFiles merges filenames in order (later files override earlier ones)
// into cfg and validates the merged result exactly once.
func loadFiles(cfg interface{}, filenames []string) error {
	for _, fn := range filenames {
		b, err := ioutil.ReadFile(fn)
		if err != nil {
			return fmt.Errorf("read %s: %s", fn, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("unmarshal %s: %s", fn, err)
		}
	}

	if err := validator.Validate(cfg); err != nil {
		if errs, ok := err.(validator.ErrorMap); ok {
			return ValidationError{errs: errs}
		}
		return err
	}
	return nil
}
