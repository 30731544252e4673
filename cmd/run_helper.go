// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/config"
	"github.com/openstack-archive/congress-sub001/datasource"
	dssql "github.com/openstack-archive/congress-sub001/datasource/sql"
	"github.com/openstack-archive/congress-sub001/filewatcher"
	internal_logging "github.com/openstack-archive/congress-sub001/internal/logging"
	"github.com/openstack-archive/congress-sub001/internal/prometheus"
	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/runtime"
	"github.com/openstack-archive/congress-sub001/storage/disk"
)

// engine ties a runtime to the data sources, storage, file watcher and
// metrics endpoint of its configuration.
type engine struct {
	params   runCommandParams
	cfg      *config.Config
	logger   logging.Logger
	rt       *runtime.Runtime
	store    *disk.Store
	prom     *prometheus.Provider
	tracing  *sdktrace.TracerProvider
	server   *http.Server
	pollers  []*datasource.Poller
	drivers  []*dssql.Driver
	reloadMu sync.Mutex
	loaded   map[string]string
}

// newEngine builds the engine described by params. A nil logger is replaced
// by one configured from the configuration file.
func newEngine(ctx context.Context, params runCommandParams, logger logging.Logger) (*engine, error) {
	cfg, err := loadConfig(params.configFile)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		if logger, err = newLogger(cfg.Logging); err != nil {
			return nil, err
		}
	}

	e := &engine{
		params: params,
		cfg:    cfg,
		logger: logger,
		prom:   prometheus.New(metrics.New(), logger, cfg.Metrics.Buckets),
		loaded: map[string]string{},
	}
	e.tracing = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&spanLogger{logger: logger}))

	if cfg.Storage != nil {
		dir, err := cfg.GetStorageDirectory()
		if err != nil {
			return nil, err
		}
		e.store, err = disk.New(ctx, disk.Options{Dir: dir, InMemory: cfg.Storage.InMemory, Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	e.rt, err = runtime.New(runtime.Params{
		Config:         cfg,
		Logger:         logger,
		Metrics:        e.prom,
		Publisher:      &logPublisher{logger: logger},
		Executor:       &logExecutor{logger: logger},
		Store:          e.store,
		TracerProvider: e.tracing,
	})
	if err != nil {
		e.close(ctx)
		return nil, err
	}
	return e, nil
}

func newLogger(c config.LoggingConfig) (logging.Logger, error) {
	level, err := internal_logging.GetLevel(c.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New()
	logger.SetLevel(level)
	logger.SetFormatter(internal_logging.GetFormatter(c.Format, time.RFC3339Nano))
	return logger, nil
}

// Start registers the data sources, restores saved policies, loads the
// policy files and starts polling, watching and serving metrics.
func (e *engine) Start(ctx context.Context) error {
	if err := registerDataSources(ctx, e.rt); err != nil {
		return err
	}

	if e.store != nil {
		if err := e.rt.Restore(ctx); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	if err := loadPolicies(ctx, e.rt, e.params.files); err != nil {
		return err
	}

	for _, s := range e.params.subscribe {
		policy, table, ok := strings.Cut(s, ":")
		if !ok {
			return fmt.Errorf("invalid subscription %q: expected policy:table", s)
		}
		if err := e.rt.Subscribe(ctx, policy, table); err != nil {
			return err
		}
	}

	for _, ds := range e.cfg.DataSources {
		drv, err := dssql.Open(ds)
		if err != nil {
			return fmt.Errorf("datasource %v: %w", ds.Name, err)
		}
		e.drivers = append(e.drivers, drv)
		p := datasource.NewPoller(ds, drv, e.rt).WithLogger(e.logger).WithMetrics(e.prom)
		p.Start(ctx)
		e.pollers = append(e.pollers, p)
	}

	if e.params.watch {
		if err := e.startWatcher(ctx); err != nil {
			return err
		}
	}

	if e.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		e.prom.RegisterEndpoints(mux)
		e.server = &http.Server{Addr: e.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("Metrics server failed: %v.", err)
			}
		}()
		e.logger.WithFields(map[string]interface{}{"addr": e.cfg.Metrics.Addr}).Info("Serving metrics.")
	}

	e.logger.WithFields(map[string]interface{}{
		"policies":    len(e.rt.Policies()),
		"datasources": len(e.cfg.DataSources),
	}).Info("Engine started.")
	return nil
}

// Stop stops polling, saves the policies and releases the engine's
// resources.
func (e *engine) Stop(ctx context.Context) error {
	e.stopPollers(ctx)

	var err error
	if e.store != nil {
		err = e.rt.Save(ctx)
	}
	e.close(ctx)
	return err
}

// Abort releases the engine's resources without saving the policies.
func (e *engine) Abort(ctx context.Context) {
	e.stopPollers(ctx)
	e.close(ctx)
}

func (e *engine) stopPollers(ctx context.Context) {
	for _, p := range e.pollers {
		p.Stop(ctx)
	}
	e.pollers = nil
}

func (e *engine) close(ctx context.Context) {
	for _, drv := range e.drivers {
		if err := drv.Close(); err != nil {
			e.logger.Warn("Failed to close datasource: %v.", err)
		}
	}
	e.drivers = nil

	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil {
			e.logger.Warn("Failed to shut down metrics server: %v.", err)
		}
		e.server = nil
	}

	if e.store != nil {
		if err := e.store.Close(ctx); err != nil {
			e.logger.Warn("Failed to close store: %v.", err)
		}
		e.store = nil
	}

	if err := e.tracing.Shutdown(ctx); err != nil {
		e.logger.Warn("Failed to shut down tracing: %v.", err)
	}
}

func (e *engine) startWatcher(ctx context.Context) error {
	files := policyFiles(e.cfg, e.params.files)
	var paths []string
	for _, ps := range files {
		paths = append(paths, ps...)
	}
	if len(paths) == 0 {
		return nil
	}

	// Content already loaded is not reloaded.
	read, err := filewatcher.ReadFiles(paths)
	if err != nil {
		return err
	}
	e.reloadMu.Lock()
	for policy, ps := range files {
		e.loaded[policy] = policyText(read, ps)
	}
	e.reloadMu.Unlock()

	w := filewatcher.NewFileWatcher(paths, func(ctx context.Context, elapsed time.Duration, read map[string]string, err error) {
		if err != nil {
			e.logger.Error("Failed to read policy files: %v.", err)
			return
		}
		e.reload(ctx, files, read)
		e.logger.WithFields(map[string]interface{}{"elapsed": elapsed}).Debug("Processed file change.")
	}, e.logger)
	return w.Start(ctx)
}

// reload replaces the content of every policy whose files changed.
func (e *engine) reload(ctx context.Context, files map[string][]string, read map[string]string) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	policies := make([]string, 0, len(files))
	for policy := range files {
		policies = append(policies, policy)
	}
	sort.Strings(policies)

	for _, policy := range policies {
		text := policyText(read, files[policy])
		if e.loaded[policy] == text {
			continue
		}
		logger := e.logger.WithFields(map[string]interface{}{"policy": policy})
		result, err := e.rt.Replace(ctx, policy, text)
		switch {
		case err != nil:
			logger.Error("Failed to reload policy: %v.", err)
		case !result.Permitted:
			logger.Error("Rejected policy reload: %v.", result.Errors)
		default:
			e.loaded[policy] = text
			logger.WithFields(map[string]interface{}{"changes": len(result.Changes)}).Info("Reloaded policy.")
		}
	}
}

// policyText joins the content of the files of a policy.
func policyText(read map[string]string, paths []string) string {
	texts := make([]string, len(paths))
	for i, path := range paths {
		texts[i] = read[filepath.Clean(path)]
	}
	return strings.Join(texts, "\n")
}

// logPublisher writes published tables to the log.
type logPublisher struct {
	logger logging.Logger
}

func (p *logPublisher) Publish(_ context.Context, policy, table string, data datasource.TableData) error {
	fields := map[string]interface{}{
		"policy": policy,
		"table":  table,
	}
	if data.Snapshot {
		fields["rows"] = rowKeys(data.Rows)
	} else {
		fields["added"] = rowKeys(data.Added)
		fields["removed"] = rowKeys(data.Removed)
	}
	p.logger.WithFields(fields).Info("Published table.")
	return nil
}

func rowKeys(rows []datasource.Row) []string {
	keys := make([]string, len(rows))
	for i := range rows {
		keys[i] = rows[i].Key()
	}
	return keys
}

// logExecutor writes the actions to take to the log.
type logExecutor struct {
	logger logging.Logger
}

func (x *logExecutor) Execute(_ context.Context, policy, action string, args []ast.Value) error {
	x.logger.WithFields(map[string]interface{}{
		"policy": policy,
		"action": action,
		"args":   datasource.Row(args).Key(),
	}).Info("Executing action.")
	return nil
}

// spanLogger logs the runtime spans at debug level.
type spanLogger struct {
	logger logging.Logger
}

func (*spanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (l *spanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := map[string]interface{}{
		"span":     s.Name(),
		"duration": s.EndTime().Sub(s.StartTime()),
	}
	for _, attr := range s.Attributes() {
		fields[string(attr.Key)] = attr.Value.Emit()
	}
	if s.Status().Code == codes.Error {
		fields["error"] = s.Status().Description
	}
	l.logger.WithFields(fields).Debug("Span ended.")
}

func (*spanLogger) Shutdown(context.Context) error { return nil }

func (*spanLogger) ForceFlush(context.Context) error { return nil }
