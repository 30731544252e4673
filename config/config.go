// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package config implements engine configuration file parsing and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/internal/levenshtein"
)

// Defaults injected by ParseConfig.
const (
	DefaultActionPolicy      = "action"
	DefaultQueryCacheSize    = 100
	DefaultPolicyKind        = "nonrecursive"
	DefaultPollInterval      = 30 * time.Second
	DefaultPollRate          = 1.0
	DefaultLoggingLevel      = "info"
	DefaultLoggingFormat     = "json"
	DefaultMaxRetryDelay     = 60 * time.Second
	defaultStorageDirName    = ".congress"
	supportedLoggingFormats  = "json, json-pretty, text"
	supportedDataSourceKinds = "sqlite, postgres, mysql, sqlserver"
)

// Config represents the configuration file that the engine can be started
// with.
type Config struct {
	ActionPolicy      string             `json:"action_policy,omitempty"`
	QueryCacheSize    int                `json:"query_cache_size,omitempty"`
	DefaultPolicyKind string             `json:"default_policy_kind,omitempty"`
	Policies          []PolicyConfig     `json:"policies,omitempty"`
	Schemas           []string           `json:"schemas,omitempty"`
	DataSources       []DataSourceConfig `json:"datasources,omitempty"`
	Storage           *StorageConfig     `json:"storage,omitempty"`
	Logging           LoggingConfig      `json:"logging,omitempty"`
	Metrics           MetricsConfig      `json:"metrics,omitempty"`
	Trace             TraceConfig        `json:"trace,omitempty"`
}

// PolicyConfig declares a policy and the files its statements are loaded
// from.
type PolicyConfig struct {
	Name  string   `json:"name"`
	Kind  string   `json:"kind,omitempty"`
	Files []string `json:"files,omitempty"`
}

// DataSourceConfig declares a data source polled for table snapshots.
type DataSourceConfig struct {
	Name         string        `json:"name"`
	Driver       string        `json:"driver"`
	DSN          string        `json:"dsn"`
	PollInterval string        `json:"poll_interval,omitempty"`
	Rate         float64       `json:"rate,omitempty"`
	Tables       []TableConfig `json:"tables"`

	interval time.Duration
}

// Interval returns the parsed poll interval.
func (c DataSourceConfig) Interval() time.Duration {
	return c.interval
}

// TableConfig declares a table of a data source. Source names the table in
// the underlying store and defaults to Name.
type TableConfig struct {
	Name    string   `json:"name"`
	Source  string   `json:"source,omitempty"`
	Columns []string `json:"columns"`
}

// StorageConfig represents the persistence options.
type StorageConfig struct {
	Dir      string `json:"dir,omitempty"`
	InMemory bool   `json:"in_memory,omitempty"`
}

// LoggingConfig represents the logging options.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// MetricsConfig represents the metrics endpoint options.
type MetricsConfig struct {
	Addr    string    `json:"addr,omitempty"`
	Buckets []float64 `json:"buckets,omitempty"`
}

// TraceConfig lists glob patterns of tables whose evaluation is traced.
type TraceConfig struct {
	Patterns []string `json:"patterns,omitempty"`
}

// ParseConfig returns a valid Config object with defaults injected. The raw
// bytes may be YAML or JSON. Unknown keys are rejected.
func ParseConfig(raw []byte) (*Config, error) {
	var extra map[string]json.RawMessage
	if err := yaml.Unmarshal(raw, &extra); err != nil {
		return nil, err
	}

	var result Config
	known := knownKeys(reflect.TypeOf(result))
	for key := range extra {
		if _, ok := known[key]; !ok {
			return nil, fmt.Errorf("unknown configuration key %q%v", key, levenshtein.Suggest(key, sortedKeys(known)))
		}
	}

	if err := yaml.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, result.validateAndInjectDefaults()
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := ParseConfig(bs)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return c, nil
}

func knownKeys(t reflect.Type) map[string]struct{} {
	result := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		result[name] = struct{}{}
	}
	return result
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Config) validateAndInjectDefaults() error {
	if c.ActionPolicy == "" {
		c.ActionPolicy = DefaultActionPolicy
	}
	if c.QueryCacheSize == 0 {
		c.QueryCacheSize = DefaultQueryCacheSize
	} else if c.QueryCacheSize < 0 {
		return fmt.Errorf("invalid query_cache_size %v", c.QueryCacheSize)
	}
	if c.DefaultPolicyKind == "" {
		c.DefaultPolicyKind = DefaultPolicyKind
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLoggingLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLoggingFormat
	}
	switch c.Logging.Format {
	case "json", "json-pretty", "text":
	default:
		return fmt.Errorf("invalid logging format %q (supported: %v)", c.Logging.Format, supportedLoggingFormats)
	}

	policies := map[string]struct{}{}
	for i := range c.Policies {
		p := &c.Policies[i]
		if p.Name == "" {
			return fmt.Errorf("policy %d: missing name", i)
		}
		if _, ok := policies[p.Name]; ok {
			return fmt.Errorf("policy %v: declared more than once", p.Name)
		}
		policies[p.Name] = struct{}{}
		if p.Kind == "" {
			p.Kind = c.DefaultPolicyKind
		}
	}

	sources := map[string]struct{}{}
	for i := range c.DataSources {
		ds := &c.DataSources[i]
		if err := ds.validateAndInjectDefaults(); err != nil {
			return fmt.Errorf("datasource %v: %w", ds.Name, err)
		}
		if _, ok := sources[ds.Name]; ok {
			return fmt.Errorf("datasource %v: declared more than once", ds.Name)
		}
		if _, ok := policies[ds.Name]; ok {
			return fmt.Errorf("datasource %v: name is already used by a policy", ds.Name)
		}
		sources[ds.Name] = struct{}{}
	}

	return nil
}

func (c *DataSourceConfig) validateAndInjectDefaults() error {
	if c.Name == "" {
		return fmt.Errorf("missing name")
	}
	switch c.Driver {
	case "sqlite", "postgres", "mysql", "sqlserver":
	default:
		return fmt.Errorf("unsupported driver %q (supported: %v)", c.Driver, supportedDataSourceKinds)
	}

	c.interval = DefaultPollInterval
	if c.PollInterval != "" {
		d, err := time.ParseDuration(c.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("poll_interval must be positive")
		}
		c.interval = d
	}
	if c.Rate == 0 {
		c.Rate = DefaultPollRate
	} else if c.Rate < 0 {
		return fmt.Errorf("rate must be positive")
	}

	if len(c.Tables) == 0 {
		return fmt.Errorf("no tables declared")
	}
	for i := range c.Tables {
		t := &c.Tables[i]
		if t.Name == "" || len(t.Columns) == 0 {
			return fmt.Errorf("table %d: name and columns are required", i)
		}
		if t.Source == "" {
			t.Source = t.Name
		}
	}
	return nil
}

// DataSourceSchemas returns the schemas declared by the data source tables.
func (c *Config) DataSourceSchemas() ast.ModuleSchemas {
	result := ast.ModuleSchemas{}
	for _, ds := range c.DataSources {
		tables := make(map[string][]string, len(ds.Tables))
		for _, t := range ds.Tables {
			tables[t.Name] = t.Columns
		}
		result[ds.Name] = ast.NewSchema(tables)
	}
	return result
}

// GetStorageDirectory returns the configured storage directory, or
// $PWD/.congress if none is configured.
func (c *Config) GetStorageDirectory() (string, error) {
	if c.Storage == nil || c.Storage.Dir == "" {
		pwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(pwd, defaultStorageDirName), nil
	}
	return c.Storage.Dir, nil
}
