// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/config"
	"github.com/openstack-archive/congress-sub001/runtime"
	"github.com/openstack-archive/congress-sub001/theory"
)

// policyFile names a file of statements and the policy they are loaded into.
type policyFile struct {
	policy string
	path   string
}

// parsePolicyFile parses a file argument of the form [policy=]path. The
// policy defaults to the file name without its extension.
func parsePolicyFile(s string) policyFile {
	if i := strings.Index(s, "="); i > 0 {
		return policyFile{policy: s[:i], path: s[i+1:]}
	}
	base := filepath.Base(s)
	return policyFile{policy: strings.TrimSuffix(base, filepath.Ext(base)), path: s}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.ParseConfig([]byte("{}"))
	}
	return config.Load(path)
}

// newRuntime returns a runtime with the data sources of the configuration
// registered and the policies of the configuration and of args loaded.
func newRuntime(ctx context.Context, params runtime.Params, args []string) (*runtime.Runtime, error) {
	rt, err := runtime.New(params)
	if err != nil {
		return nil, err
	}
	if err := registerDataSources(ctx, rt); err != nil {
		return nil, err
	}
	if err := loadPolicies(ctx, rt, args); err != nil {
		return nil, err
	}
	return rt, nil
}

func registerDataSources(ctx context.Context, rt *runtime.Runtime) error {
	schemas := rt.Config().DataSourceSchemas()
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rt.RegisterDataSource(ctx, name, schemas[name]); err != nil {
			return err
		}
	}
	return nil
}

// loadPolicies creates the policies declared by the configuration and named
// by args, then loads their files. Every policy exists before any file is
// loaded so that files may refer to each other.
func loadPolicies(ctx context.Context, rt *runtime.Runtime, args []string) error {
	cfg := rt.Config()
	kinds := map[string]theory.Kind{}
	var files []policyFile

	for _, p := range cfg.Policies {
		kind, err := theory.ParseKind(p.Kind)
		if err != nil {
			return fmt.Errorf("policy %v: %w", p.Name, err)
		}
		kinds[p.Name] = kind
		for _, path := range p.Files {
			files = append(files, policyFile{policy: p.Name, path: path})
		}
	}

	for _, arg := range args {
		f := parsePolicyFile(arg)
		if _, ok := kinds[f.policy]; !ok {
			kinds[f.policy] = theory.Kind(cfg.DefaultPolicyKind)
		}
		files = append(files, f)
	}

	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rt.CreatePolicy(ctx, name, kinds[name]); err != nil && !runtime.IsAlreadyExists(err) {
			return err
		}
	}

	// Statement errors of all files are reported together.
	var errs ast.Errors
	for _, f := range files {
		err := loadFile(ctx, rt, f)
		var astErrs ast.Errors
		switch {
		case err == nil:
		case errors.As(err, &astErrs):
			errs = append(errs, astErrs...)
		default:
			return err
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func loadFile(ctx context.Context, rt *runtime.Runtime, f policyFile) error {
	bs, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	result, err := rt.InsertText(ctx, f.policy, string(bs))
	if err != nil {
		return fmt.Errorf("%v: %w", f.path, err)
	}
	if !result.Permitted {
		return withFile(result.Errors, f.path)
	}
	return nil
}

// withFile returns copies of errs located in file.
func withFile(errs ast.Errors, file string) ast.Errors {
	result := make(ast.Errors, len(errs))
	for i, e := range errs {
		cpy := *e
		if e.Location != nil {
			loc := *e.Location
			loc.File = file
			cpy.Location = &loc
		}
		result[i] = &cpy
	}
	return result
}

// policyFiles returns the policy files configured for each policy and named
// by args.
func policyFiles(cfg *config.Config, args []string) map[string][]string {
	result := map[string][]string{}
	for _, p := range cfg.Policies {
		result[p.Name] = append(result[p.Name], p.Files...)
	}
	for _, arg := range args {
		f := parsePolicyFile(arg)
		result[f.policy] = append(result[f.policy], f.path)
	}
	return result
}

// defaultPolicy returns policy or, if it is empty, the policy of the only
// file in args.
func defaultPolicy(policy string, args []string) (string, error) {
	if policy != "" {
		return policy, nil
	}
	if len(args) == 1 {
		return parsePolicyFile(args[0]).policy, nil
	}
	return "", errors.New("specify the policy to query with --policy")
}
