// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package presentation prints results of a query evaluation in json and
// tabular formats.
package presentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/format"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/runtime"
	"github.com/openstack-archive/congress-sub001/storage"
	"github.com/openstack-archive/congress-sub001/topdown"
)

// Result is one answer of a query: the instance of the query that holds and
// the values the query variables take in it.
type Result struct {
	Answer   string                 `json:"answer"`
	Bindings map[string]interface{} `json:"bindings,omitempty"`
}

// ResultSet is the list of answers of a query.
type ResultSet []Result

// NewResultSet returns the answers of query. Each answer is the query with
// its variables replaced by values, literal for literal. Variables that
// start with an underscore are not reported.
func NewResultSet(query ast.Body, answers []ast.Body) ResultSet {
	rs := make(ResultSet, 0, len(answers))
	for _, answer := range answers {
		r := Result{Answer: answer.String()}
		for i, lit := range query {
			if i >= len(answer) {
				break
			}
			for j, arg := range lit.Args {
				v, ok := arg.Value.(ast.Var)
				if !ok || strings.HasPrefix(string(v), "_") || j >= len(answer[i].Args) {
					continue
				}
				if r.Bindings == nil {
					r.Bindings = map[string]interface{}{}
				}
				r.Bindings[string(v)] = ast.ValueToInterface(answer[i].Args[j].Value)
			}
		}
		rs = append(rs, r)
	}
	return rs
}

func (rs ResultSet) keys() []string {
	set := map[string]struct{}{}
	for _, r := range rs {
		for k := range r.Bindings {
			set[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Output contains the result of evaluation to be presented.
type Output struct {
	Errors      OutputErrors     `json:"errors,omitempty"`
	Result      ResultSet        `json:"result,omitempty"`
	Delta       []string         `json:"delta,omitempty"`
	Explanation []*topdown.Event `json:"explanation,omitempty"`
	Proofs      [][]string       `json:"proofs,omitempty"`
	Metrics     metrics.Metrics  `json:"metrics,omitempty"`
	limit       int
}

// WithLimit sets the output limit to set on stringified values.
func (e Output) WithLimit(n int) Output {
	e.limit = n
	return e
}

// WithDelta sets the changes of the answers to present.
func (e Output) WithDelta(delta []*ast.Literal) Output {
	e.Delta = make([]string, len(delta))
	for i := range delta {
		e.Delta[i] = delta[i].String()
	}
	return e
}

// WithProofs sets the proofs to present. Each proof lists the rule
// instances it used.
func (e Output) WithProofs(proofs [][]*ast.Rule) Output {
	e.Proofs = make([][]string, len(proofs))
	for i, proof := range proofs {
		e.Proofs[i] = make([]string, len(proof))
		for j := range proof {
			e.Proofs[i][j] = format.Rule(proof[j])
		}
	}
	return e
}

func (e Output) undefined() bool {
	return len(e.Result) == 0 && e.Delta == nil
}

// NewOutputErrors creates a new slice of OutputError's based
// on the type of error passed in. Known structured types will
// be translated as appropriate, while unknown errors are
// placed into a structured format with their string value.
func NewOutputErrors(err error) []OutputError {
	if err == nil {
		return nil
	}

	var astErrs ast.Errors
	var astErr *ast.Error
	var topdownErr *topdown.Error
	var storageErr *storage.Error
	var runtimeErr *runtime.Error

	switch {
	// Wrappers of other errors are formatted recursively.
	case errors.As(err, &astErrs):
		var errs []OutputError
		for _, e := range astErrs {
			if e != nil {
				errs = append(errs, NewOutputErrors(e)...)
			}
		}
		return errs
	case errors.As(err, &astErr):
		oe := OutputError{Code: string(astErr.Code), Message: astErr.Message, err: astErr}
		if astErr.Location != nil {
			oe.Location = astErr.Location
		}
		return []OutputError{oe}
	case errors.As(err, &topdownErr):
		oe := OutputError{Code: topdownErr.Code, Message: topdownErr.Message, err: topdownErr}
		if topdownErr.Location != nil {
			oe.Location = topdownErr.Location
		}
		return []OutputError{oe}
	case errors.As(err, &storageErr):
		return []OutputError{{Code: fmt.Sprint(storageErr.Code), Message: storageErr.Message, err: storageErr}}
	case errors.As(err, &runtimeErr):
		return []OutputError{{Code: runtimeErr.Code, Message: runtimeErr.Message, err: runtimeErr}}
	}

	return []OutputError{{Message: err.Error(), err: err}}
}

// OutputErrors is a list of errors encountered
// which are to presented.
type OutputErrors []OutputError

func (e OutputErrors) Error() string {
	if len(e) == 0 {
		return "no error(s)"
	}

	var prefix string
	if len(e) == 1 {
		prefix = "1 error occurred: "
	} else {
		prefix = fmt.Sprintf("%d errors occurred:\n", len(e))
	}

	s := make([]string, 0, len(e))
	for _, err := range e {
		s = append(s, err.Error())
	}

	return prefix + strings.Join(s, "\n")
}

// OutputError provides a common structure for all engine errors so that the
// JSON output given by the presentation package is consistent and parsable.
type OutputError struct {
	Message  string      `json:"message"`
	Code     string      `json:"code,omitempty"`
	Location interface{} `json:"location,omitempty"`
	err      error
}

func (j OutputError) Error() string {
	if j.err == nil {
		return j.Message
	}
	return j.err.Error()
}

// JSON writes x to w with indentation.
func JSON(w io.Writer, x interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(x)
}

// Bindings prints the bindings of each answer in r to w, one JSON object
// per line.
func Bindings(w io.Writer, r Output) error {
	if r.Errors != nil {
		return prettyError(w, r.Errors)
	}
	for _, rs := range r.Result {
		bs, err := json.Marshal(rs.Bindings)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(bs)); err != nil {
			return err
		}
	}
	return nil
}

// Raw prints the answers in r to w, one per line, in the form the parser
// reads back.
func Raw(w io.Writer, r Output) error {
	if r.Errors != nil {
		return prettyError(w, r.Errors)
	}
	for _, rs := range r.Result {
		if _, err := fmt.Fprintln(w, rs.Answer); err != nil {
			return err
		}
	}
	for _, d := range r.Delta {
		if _, err := fmt.Fprintln(w, d); err != nil {
			return err
		}
	}
	return nil
}

// Pretty prints all of r to w in a human-readable format.
func Pretty(w io.Writer, r Output) error {
	if len(r.Explanation) > 0 {
		topdown.PrettyTrace(w, r.Explanation)
	}
	if r.Errors != nil {
		if err := prettyError(w, r.Errors); err != nil {
			return err
		}
	} else if r.undefined() {
		fmt.Fprintln(w, "undefined")
	} else {
		if err := prettyResult(w, r.Result, r.limit); err != nil {
			return err
		}
		if err := prettyDelta(w, r.Delta); err != nil {
			return err
		}
	}
	if len(r.Proofs) > 0 {
		prettyProofs(w, r.Proofs)
	}
	if r.Metrics != nil {
		prettyMetrics(w, r.Metrics, r.limit)
	}
	return nil
}

// Policies prints a table of policies to w.
func Policies(w io.Writer, policies []runtime.PolicyInfo) error {
	table := generateTableWithKeys(w, "name", "kind", "tables")
	for _, p := range policies {
		table.Append([]string{p.Name, string(p.Kind), strings.Join(p.Tables, ", ")})
	}
	if table.NumLines() > 0 {
		table.Render()
	}
	return nil
}

func prettyError(w io.Writer, errs OutputErrors) error {
	_, err := fmt.Fprintln(w, errs)
	return err
}

func prettyResult(w io.Writer, rs ResultSet, limit int) error {
	if len(rs) == 0 {
		return nil
	}

	keys := rs.keys()
	if len(keys) == 0 {
		_, err := fmt.Fprintln(w, "true")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(keys)
	alignment := make([]int, len(keys))
	for i := range alignment {
		alignment[i] = tablewriter.ALIGN_LEFT
	}
	table.SetColumnAlignment(alignment)

	for _, r := range rs {
		row := make([]string, len(keys))
		for i, k := range keys {
			js, err := json.Marshal(r.Bindings[k])
			if err != nil {
				row[i] = err.Error()
			} else {
				row[i] = checkStrLimit(string(js), limit)
			}
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

func prettyDelta(w io.Writer, delta []string) error {
	if len(delta) == 0 {
		return nil
	}
	table := generateTableWithKeys(w, "change")
	for _, d := range delta {
		table.Append([]string{d})
	}
	table.Render()
	return nil
}

func prettyProofs(w io.Writer, proofs [][]string) {
	for i, proof := range proofs {
		fmt.Fprintf(w, "proof %d:\n", i+1)
		for _, rule := range proof {
			for _, line := range strings.Split(rule, "\n") {
				fmt.Fprintf(w, "  %v\n", line)
			}
		}
	}
}

func prettyMetrics(w io.Writer, m metrics.Metrics, limit int) {
	table := generateTableWithKeys(w, "metric", "value")
	lines := [][]string{}
	for name, value := range m.All() {
		vs, ok := value.(map[string]interface{})
		if !ok {
			lines = append(lines, []string{name, checkStrLimit(fmt.Sprint(value), limit)})
			continue
		}
		for k, v := range vs {
			lines = append(lines, []string{fmt.Sprintf("%v_%v", name, k), checkStrLimit(fmt.Sprint(v), limit)})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i][0] < lines[j][0] })
	table.AppendBulk(lines)
	if table.NumLines() > 0 {
		table.Render()
	}
}

func checkStrLimit(input string, limit int) string {
	if limit > 0 && len(input) > limit {
		return input[:limit] + "..."
	}
	return input
}

func generateTableWithKeys(writer io.Writer, keys ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(writer)
	aligns := make([]int, 0, len(keys))
	hdrs := make([]string, 0, len(keys))
	for _, k := range keys {
		hdrs = append(hdrs, strings.ToUpper(k[:1])+k[1:])
		aligns = append(aligns, tablewriter.ALIGN_LEFT)
	}
	table.SetHeader(hdrs)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_CENTER)
	table.SetColumnAlignment(aligns)
	return table
}
