// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package runtime owns the policies and data sources of an engine instance.
// It routes updates and queries to the theories, rejects rule changes that
// make policies recursive through each other, keeps materialized mirrors in
// sync and notifies subscribers and action executors of changes.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/config"
	"github.com/openstack-archive/congress-sub001/datasource"
	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/storage/disk"
	"github.com/openstack-archive/congress-sub001/theory"
	"github.com/openstack-archive/congress-sub001/topdown"
)

const tracerName = "github.com/openstack-archive/congress-sub001/runtime"

// Publisher receives the content of subscribed tables. The first call for a
// subscription carries a snapshot, later calls carry deltas.
type Publisher interface {
	Publish(ctx context.Context, policy, table string, data datasource.TableData) error
}

// ActionExecutor executes the actions that policies decide to take.
type ActionExecutor interface {
	Execute(ctx context.Context, policy, action string, args []ast.Value) error
}

// Params configure a runtime.
type Params struct {
	// Config is the engine configuration. Defaults are used if nil.
	Config *config.Config

	// Logger defaults to a no-op logger.
	Logger logging.Logger

	// Metrics defaults to a no-op implementation.
	Metrics metrics.Metrics

	// Publisher receives subscribed tables. Optional.
	Publisher Publisher

	// Executor receives actions. Optional.
	Executor ActionExecutor

	// Store persists policies for Save and Restore. Optional.
	Store *disk.Store

	// TracerProvider creates the spans of runtime operations. Defaults to
	// the global provider.
	TracerProvider trace.TracerProvider
}

// Result reports the outcome of an update.
type Result struct {
	// Permitted is false if the update was rejected. A rejected update
	// changes nothing.
	Permitted bool `json:"permitted"`

	// Errors lists every problem found when the update was rejected.
	Errors ast.Errors `json:"errors,omitempty"`

	// Changes lists the events that changed a policy.
	Changes []theory.Event `json:"-"`
}

// PolicyInfo describes a policy.
type PolicyInfo struct {
	Name   string      `json:"name"`
	Kind   theory.Kind `json:"kind"`
	Tables []string    `json:"tables"`
}

type dataSource struct {
	theory *theory.Nonrecursive
	schema *ast.Schema
	last   map[string][]datasource.Row
}

type subscription struct {
	policy string
	table  string
	rows   []datasource.Row
}

// Runtime owns a set of named policies and data sources.
type Runtime struct {
	mtx        sync.RWMutex
	config     *config.Config
	logger     logging.Logger
	metrics    metrics.Metrics
	publisher  Publisher
	executor   ActionExecutor
	store      *disk.Store
	tracer     trace.Tracer
	theories   map[string]theory.Theory
	sources    map[string]*dataSource
	schemas    ast.ModuleSchemas
	open       map[string]struct{}
	graph      *ast.DependencyGraph
	mirrors    *mirrorIndex
	subs       map[string]*subscription
	dispatched map[string]map[string]datasource.Row
	queries    *lru.Cache[string, ast.Body]
}

// New returns a runtime without policies. The schema files named by the
// configuration are loaded; the data sources it declares are not registered.
func New(params Params) (*Runtime, error) {
	cfg := params.Config
	if cfg == nil {
		var err error
		if cfg, err = config.ParseConfig([]byte("{}")); err != nil {
			return nil, err
		}
	}

	schemas, err := config.LoadSchemas(cfg.Schemas...)
	if err != nil {
		return nil, err
	}

	queries, err := lru.New[string, ast.Body](cfg.QueryCacheSize)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		config:     cfg,
		logger:     params.Logger,
		metrics:    params.Metrics,
		publisher:  params.Publisher,
		executor:   params.Executor,
		store:      params.Store,
		theories:   map[string]theory.Theory{},
		sources:    map[string]*dataSource{},
		schemas:    schemas,
		open:       map[string]struct{}{},
		graph:      ast.NewDependencyGraph(),
		mirrors:    newMirrorIndex(),
		subs:       map[string]*subscription{},
		dispatched: map[string]map[string]datasource.Row{},
		queries:    queries,
	}

	if r.logger == nil {
		r.logger = logging.NewNoOpLogger()
	}
	if r.metrics == nil {
		r.metrics = metrics.NoOp()
	}

	tp := params.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	r.tracer = tp.Tracer(tracerName)

	return r, nil
}

// Config returns the configuration of the runtime.
func (r *Runtime) Config() *config.Config {
	return r.config
}

// Metrics returns the metrics the runtime records into.
func (r *Runtime) Metrics() metrics.Metrics {
	return r.metrics
}

func (r *Runtime) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreatePolicy creates an empty policy.
func (r *Runtime) CreatePolicy(ctx context.Context, name string, kind theory.Kind) error {
	_, span := r.startSpan(ctx, "CreatePolicy", attribute.String("policy", name), attribute.String("kind", string(kind)))

	r.mtx.Lock()
	err := r.createPolicy(name, kind)
	r.mtx.Unlock()

	endSpan(span, err)
	return err
}

func (r *Runtime) createPolicy(name string, kind theory.Kind) error {
	if err := checkName(name); err != nil {
		return err
	}
	if r.exists(name) {
		return alreadyExistsError("policy %v already exists", name)
	}

	th, err := theory.New(name, kind, theory.Params{
		Schemas:  r.schemas,
		Resolver: resolver{r},
		Logger:   r.logger,
	})
	if err != nil {
		return invalidError(err, "policy %v", name)
	}

	r.theories[name] = th
	if _, ok := r.schemas[name]; !ok {
		r.schemas[name] = ast.NewOpenSchema(nil)
		r.open[name] = struct{}{}
		r.queries.Purge()
	}

	r.logger.WithFields(map[string]interface{}{"policy": name, "kind": kind}).Info("Created policy.")
	return nil
}

// DeletePolicy deletes a policy and everything it holds. Policies that
// reference it are refreshed.
func (r *Runtime) DeletePolicy(ctx context.Context, name string) error {
	ctx, span := r.startSpan(ctx, "DeletePolicy", attribute.String("policy", name))

	var out outbox
	r.mtx.Lock()
	err := r.deletePolicy(ctx, name, &out)
	r.mtx.Unlock()

	r.deliver(ctx, out)
	endSpan(span, err)
	return err
}

func (r *Runtime) deletePolicy(ctx context.Context, name string, out *outbox) error {
	if _, ok := r.theories[name]; !ok {
		return notFoundError("policy %v does not exist", name)
	}

	delete(r.theories, name)
	r.graph.DeleteTheory(name)
	r.mirrors.remove(name)

	if _, ok := r.open[name]; ok {
		delete(r.schemas, name)
		delete(r.open, name)
		r.queries.Purge()
	}

	for key, sub := range r.subs {
		if sub.policy == name {
			delete(r.subs, key)
		}
	}
	prefix := name + ast.ModuleSeparator
	for key := range r.dispatched {
		if strings.HasPrefix(key, prefix) {
			delete(r.dispatched, key)
		}
	}

	r.logger.WithFields(map[string]interface{}{"policy": name}).Info("Deleted policy.")
	return r.changed(ctx, []string{name}, nil, out)
}

// Policy returns a description of the named policy.
func (r *Runtime) Policy(name string) (PolicyInfo, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	th, ok := r.theories[name]
	if !ok {
		return PolicyInfo{}, notFoundError("policy %v does not exist", name)
	}
	return policyInfo(th), nil
}

// Policies returns a description of every policy, sorted by name.
func (r *Runtime) Policies() []PolicyInfo {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	result := make([]PolicyInfo, 0, len(r.theories))
	for _, th := range r.theories {
		result = append(result, policyInfo(th))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func policyInfo(th theory.Theory) PolicyInfo {
	return PolicyInfo{Name: th.Name(), Kind: th.Kind(), Tables: th.Tables()}
}

// Content returns the facts and rules inserted into a policy or received
// from a data source.
func (r *Runtime) Content(name string) ([]ast.Formula, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	th, ok := r.lookup(name)
	if !ok {
		return nil, notFoundError("policy %v does not exist", name)
	}
	return th.Formulas(), nil
}

func checkName(name string) error {
	if name == "" {
		return invalidError(nil, "name must not be empty")
	}
	if strings.Contains(name, ast.ModuleSeparator) {
		return invalidError(nil, "name %q must not contain %q", name, ast.ModuleSeparator)
	}
	return nil
}

func (r *Runtime) exists(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// lookup returns the policy or data source called name. The caller must
// hold the lock.
func (r *Runtime) lookup(name string) (theory.Theory, bool) {
	if th, ok := r.theories[name]; ok {
		return th, true
	}
	if ds, ok := r.sources[name]; ok {
		return ds.theory, true
	}
	return nil, false
}

// resolver resolves qualified literals against the policies and data
// sources of the runtime. Evaluation always happens with the runtime's lock
// held, so the resolver does not lock.
type resolver struct {
	rt *Runtime
}

func (r resolver) Theory(name string) (topdown.Source, bool) {
	th, ok := r.rt.lookup(name)
	if !ok {
		return nil, false
	}
	return th, true
}

func (r resolver) IsDataSource(name string) bool {
	_, ok := r.rt.sources[name]
	return ok
}

// Update validates events and, if every event is valid and no rule would make
// policies recursive through each other, applies them. Validation problems
// are reported in the result, not as an error.
func (r *Runtime) Update(ctx context.Context, events []theory.Event) (Result, error) {
	ctx, span := r.startSpan(ctx, "Update", attribute.Int("events", len(events)))

	var result Result
	var out outbox
	err := metrics.Timed(r.metrics, metrics.PolicyUpdate, func() error {
		r.mtx.Lock()
		defer r.mtx.Unlock()
		var err error
		result, err = r.update(ctx, events, &out)
		return err
	})

	r.deliver(ctx, out)
	span.SetAttributes(attribute.Bool("permitted", result.Permitted), attribute.Int("changes", len(result.Changes)))
	endSpan(span, err)
	return result, err
}

func (r *Runtime) update(ctx context.Context, events []theory.Event, out *outbox) (Result, error) {
	var order []string
	batches := map[string][]theory.Event{}
	for _, e := range events {
		if _, ok := batches[e.Target]; !ok {
			order = append(order, e.Target)
		}
		batches[e.Target] = append(batches[e.Target], e)
	}

	var errs ast.Errors

	for _, name := range order {
		if th, ok := r.theories[name]; ok {
			errs = append(errs, th.UpdateWouldCauseErrors(batches[name])...)
			continue
		}
		switch _, ok := r.sources[name]; {
		case name == "":
			errs = append(errs, ast.NewError(ast.CompileErr, nil, "event does not name a policy"))
		case ok:
			errs = append(errs, ast.NewError(ast.CompileErr, nil, "data source %v is changed only by the data it receives", name))
		default:
			errs = append(errs, ast.NewError(ast.CompileErr, nil, "unknown policy %v", name))
		}
	}

	if len(errs) == 0 {
		undo := r.graph.Apply(graphChanges(events))
		if cycles := r.graph.CycleErrors(); len(cycles) > 0 {
			r.graph.Rollback(undo)
			errs = append(errs, cycles...)
		}
	}

	if len(errs) > 0 {
		r.metrics.Counter(metrics.EventsRejected).Add(uint64(len(events)))
		r.logger.WithFields(map[string]interface{}{"events": len(events), "errors": len(errs)}).Debug("Rejected update: %v", errs)
		return Result{Errors: errs}, nil
	}

	var changes []theory.Event
	var changed, rules []string
	for _, name := range order {
		cs, err := r.theories[name].Update(batches[name])
		changes = append(changes, cs...)
		if err != nil {
			return Result{Changes: changes}, fmt.Errorf("policy %v: %w", name, err)
		}
		if len(cs) > 0 {
			changed = append(changed, name)
		}
		for _, c := range cs {
			if _, ok := c.Formula.(*ast.Rule); ok {
				rules = append(rules, name)
				break
			}
		}
	}

	r.metrics.Counter(metrics.EventsApplied).Add(uint64(len(changes)))
	r.logger.WithFields(map[string]interface{}{"events": len(events), "changes": len(changes)}).Debug("Applied update.")

	if err := r.changed(ctx, changed, rules, out); err != nil {
		return Result{Permitted: true, Changes: changes}, err
	}
	return Result{Permitted: true, Changes: changes}, nil
}

// graphChanges returns the rule insertions and deletions among events.
func graphChanges(events []theory.Event) []ast.GraphChange {
	var result []ast.GraphChange
	for _, e := range events {
		if rule, ok := theory.Canonical(e.Target, e.Formula).(*ast.Rule); ok {
			result = append(result, ast.GraphChange{Theory: e.Target, Rule: rule, Insert: e.Insert})
		}
	}
	return result
}

// changed propagates a change of the named theories: mirrors are synced,
// then subscribed tables and actions of every dependent policy are
// refreshed. The rules of the theories listed in rules changed.
func (r *Runtime) changed(ctx context.Context, names, rules []string, out *outbox) error {
	if len(names) == 0 {
		return nil
	}
	affected := r.graph.DependentTheories(names...)
	if err := r.syncMirrors(ctx, affected, rules); err != nil {
		return err
	}
	if err := r.refreshSubscriptions(ctx, affected, out); err != nil {
		return err
	}
	return r.dispatchActions(ctx, affected, out)
}

// Insert parses a single fact or rule and inserts it into policy.
func (r *Runtime) Insert(ctx context.Context, policy, text string) (Result, error) {
	return r.updateText(ctx, policy, text, true, true)
}

// Delete parses a single fact or rule and deletes it from policy.
func (r *Runtime) Delete(ctx context.Context, policy, text string) (Result, error) {
	return r.updateText(ctx, policy, text, true, false)
}

// InsertText parses any number of facts and rules and inserts them into
// policy in one update.
func (r *Runtime) InsertText(ctx context.Context, policy, text string) (Result, error) {
	return r.updateText(ctx, policy, text, false, true)
}

func (r *Runtime) updateText(ctx context.Context, policy, text string, single, insert bool) (Result, error) {
	r.mtx.RLock()
	fs, err := ast.ParseRules(policy, text, r.schemas)
	r.mtx.RUnlock()

	if err == nil && single && len(fs) != 1 {
		err = ast.Errors{ast.NewError(ast.ParseErr, nil, "expected exactly one statement but got %v", len(fs))}
	}
	if err != nil {
		if errs, ok := err.(ast.Errors); ok {
			return Result{Errors: errs}, nil
		}
		return Result{}, invalidError(err, "policy %v", policy)
	}

	events := make([]theory.Event, len(fs))
	for i, f := range fs {
		events[i] = theory.Event{Formula: f, Insert: insert, Target: policy}
	}
	return r.Update(ctx, events)
}

// Select returns the instances of query that hold in policy.
func (r *Runtime) Select(ctx context.Context, policy, query string, opts theory.QueryOptions) ([]ast.Body, error) {
	ctx, span := r.startSpan(ctx, "Select", attribute.String("policy", policy), attribute.String("query", query))

	var result []ast.Body
	err := metrics.Timed(r.metrics, metrics.PolicySelect, func() error {
		r.mtx.RLock()
		defer r.mtx.RUnlock()
		th, body, err := r.prepareQuery(policy, query)
		if err != nil {
			return err
		}
		result, err = th.Select(ctx, body, opts)
		return err
	})

	span.SetAttributes(attribute.Int("answers", len(result)))
	endSpan(span, err)
	return result, err
}

// Explain returns, for each proof of query in policy, the rule instances the
// proof used.
func (r *Runtime) Explain(ctx context.Context, policy, query string, opts theory.QueryOptions) ([][]*ast.Rule, error) {
	ctx, span := r.startSpan(ctx, "Explain", attribute.String("policy", policy), attribute.String("query", query))

	var result [][]*ast.Rule
	err := metrics.Timed(r.metrics, metrics.PolicyExplain, func() error {
		r.mtx.RLock()
		defer r.mtx.RUnlock()
		th, body, err := r.prepareQuery(policy, query)
		if err != nil {
			return err
		}
		result, err = th.Explain(ctx, body, opts)
		return err
	})

	endSpan(span, err)
	return result, err
}

// Abduce returns rules stating which literals of tables would make query
// hold in policy.
func (r *Runtime) Abduce(ctx context.Context, policy, query string, tables []string, opts theory.QueryOptions) ([]*ast.Rule, error) {
	ctx, span := r.startSpan(ctx, "Abduce", attribute.String("policy", policy), attribute.String("query", query))

	r.mtx.RLock()
	defer r.mtx.RUnlock()

	th, body, err := r.prepareQuery(policy, query)
	var result []*ast.Rule
	if err == nil {
		result, err = th.Abduce(ctx, body, tables, opts)
	}

	endSpan(span, err)
	return result, err
}

func (r *Runtime) prepareQuery(policy, query string) (theory.Theory, ast.Body, error) {
	th, ok := r.lookup(policy)
	if !ok {
		return nil, nil, notFoundError("policy %v does not exist", policy)
	}
	body, err := r.parseQuery(query)
	if err != nil {
		return nil, nil, err
	}
	return th, body, nil
}

// ParseQuery parses query against the schemas of the runtime's policies and
// data sources.
func (r *Runtime) ParseQuery(query string) (ast.Body, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.parseQuery(query)
}

// parseQuery returns the parsed query, from the cache if it was parsed
// before. The cache is purged whenever the schemas change.
func (r *Runtime) parseQuery(query string) (ast.Body, error) {
	if body, ok := r.queries.Get(query); ok {
		r.metrics.Counter(metrics.QueryCacheHit).Incr()
		return body, nil
	}
	var body ast.Body
	err := metrics.Timed(r.metrics, metrics.QueryParse, func() error {
		var err error
		body, err = ast.ParseQuery(query, r.schemas)
		return err
	})
	if err != nil {
		return nil, invalidError(err, "query %q", query)
	}
	r.queries.Add(query, body)
	return body, nil
}

// selectTable returns the rows of table in th, sorted. A table of unknown
// arity has no rows.
func selectTable(ctx context.Context, th theory.Theory, table string) ([]datasource.Row, error) {
	arity, ok := th.Arity(table)
	if !ok {
		return nil, nil
	}
	return selectRows(ctx, th, table, arity)
}

func selectRows(ctx context.Context, th theory.Theory, table string, arity int) ([]datasource.Row, error) {
	args := make([]*ast.Term, arity)
	for i := range args {
		args[i] = ast.VarTerm(fmt.Sprintf("x%d", i))
	}
	answers, err := th.Select(ctx, ast.NewBody(ast.NewLiteral(table, args...)), theory.QueryOptions{FindAll: true})
	if err != nil {
		return nil, err
	}
	rows := make([]datasource.Row, len(answers))
	for i, answer := range answers {
		rows[i] = datasource.RowOf(answer[0])
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
	return rows, nil
}
