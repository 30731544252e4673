// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openstack-archive/congress-sub001/ast"
)

// ParseSchemas parses a schema document that maps module names to tables
// and tables to their column names:
//
//	nova:
//	  servers: [id, name, host_id]
//	  flavors: [id, vcpus]
func ParseSchemas(bs []byte) (ast.ModuleSchemas, error) {
	var doc map[string]map[string][]string
	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, err
	}

	result := make(ast.ModuleSchemas, len(doc))
	for module, tables := range doc {
		for table, columns := range tables {
			seen := make(map[string]struct{}, len(columns))
			for _, c := range columns {
				if _, ok := seen[c]; ok {
					return nil, fmt.Errorf("%v:%v: duplicate column %v", module, table, c)
				}
				seen[c] = struct{}{}
			}
		}
		result[module] = ast.NewSchema(tables)
	}
	return result, nil
}

// LoadSchemas reads the schema documents at paths and merges them. A module
// declared in more than one document is an error.
func LoadSchemas(paths ...string) (ast.ModuleSchemas, error) {
	result := ast.ModuleSchemas{}
	for _, path := range paths {
		bs, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		schemas, err := ParseSchemas(bs)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", path, err)
		}
		if err := merge(result, schemas); err != nil {
			return nil, fmt.Errorf("%v: %w", path, err)
		}
	}
	return result, nil
}

// ModuleSchemas returns the schemas of the configured schema files and the
// data source tables.
func (c *Config) ModuleSchemas() (ast.ModuleSchemas, error) {
	result, err := LoadSchemas(c.Schemas...)
	if err != nil {
		return nil, err
	}
	if err := merge(result, c.DataSourceSchemas()); err != nil {
		return nil, err
	}
	return result, nil
}

func merge(dst, src ast.ModuleSchemas) error {
	for module, s := range src {
		if _, ok := dst[module]; ok {
			return fmt.Errorf("schema for module %v declared more than once", module)
		}
		dst[module] = s
	}
	return nil
}
