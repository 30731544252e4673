// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package repl implements a Read-Eval-Print-Loop (REPL) for interacting with
// the policy engine.
//
// Lines that end with a period or contain :- are inserted into the active
// policy. Other lines are queries against it.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/openstack-archive/congress-sub001/presentation"
	"github.com/openstack-archive/congress-sub001/runtime"
	"github.com/openstack-archive/congress-sub001/theory"
	"github.com/openstack-archive/congress-sub001/topdown"
)

// REPL represents an instance of the interactive shell.
type REPL struct {
	output io.Writer
	rt     *runtime.Runtime

	policy       string
	outputFormat string
	explain      explainMode
	historyPath  string
	initPrompt   string
	banner       string
}

type explainMode int

const (
	explainOff explainMode = iota
	explainTrace
	explainProofs
)

// New returns a new instance of the REPL. Statements and queries go to
// policy, which may be empty until the policy command selects one.
func New(rt *runtime.Runtime, policy, historyPath string, output io.Writer, outputFormat string, banner string) *REPL {
	return &REPL{
		output:       output,
		rt:           rt,
		policy:       policy,
		outputFormat: outputFormat,
		explain:      explainOff,
		historyPath:  historyPath,
		initPrompt:   "> ",
		banner:       banner,
	}
}

// Loop will run until the user enters "exit", Ctrl+C, Ctrl+D, or an unexpected error occurs.
func (r *REPL) Loop(ctx context.Context) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(true)
	r.loadHistory(line)

	if len(r.banner) > 0 {
		fmt.Fprintln(r.output, r.banner)
	}

	line.SetCompleter(r.complete)

	for {
		input, err := line.Prompt(r.getPrompt())

		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Fprintln(r.output, "Exiting")
			break
		}

		if err != nil {
			fmt.Fprintln(r.output, "error (fatal):", err)
			os.Exit(1)
		}

		if err := r.OneShot(ctx, input); err != nil {
			if _, ok := err.(stop); ok {
				break
			}
			fmt.Fprintln(r.output, "error:", err)
		}

		line.AppendHistory(input)
	}

	r.saveHistory(line)
}

// OneShot evaluates the line and prints the result. If an error occurs it is
// returned for the caller to display.
func (r *REPL) OneShot(ctx context.Context, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	if cmd := newCommand(line); cmd != nil {
		switch cmd.op {
		case "policy":
			return r.cmdPolicy(ctx, cmd.args)
		case "policies":
			return presentation.Policies(r.output, r.rt.Policies())
		case "show":
			return r.cmdShow()
		case "dump":
			return r.cmdDump(cmd.args)
		case "retract":
			return r.cmdRetract(ctx, cmd.rest)
		case "json":
			return r.cmdFormat("json")
		case "pretty":
			return r.cmdFormat("pretty")
		case "trace":
			return r.cmdExplain(explainTrace)
		case "proofs":
			return r.cmdExplain(explainProofs)
		case "help":
			return r.cmdHelp()
		case "exit":
			return stop{}
		}
	}

	if r.policy == "" {
		return newError(NoPolicyErr, "select a policy first (policy <name>)")
	}
	if isStatement(line) {
		return r.evalStatements(ctx, line)
	}
	return r.evalQuery(ctx, line)
}

func isStatement(line string) bool {
	s := strings.TrimSpace(line)
	return strings.HasSuffix(s, ".") || strings.Contains(s, ":-")
}

func (r *REPL) complete(line string) (c []string) {
	candidates := []string{}
	for _, p := range r.rt.Policies() {
		candidates = append(candidates, p.Name)
		if p.Name == r.policy {
			candidates = append(candidates, p.Tables...)
		}
	}
	for _, b := range builtin {
		candidates = append(candidates, b.name)
	}
	sort.Strings(candidates)
	for _, s := range candidates {
		if strings.HasPrefix(s, line) {
			c = append(c, s)
		}
	}
	return c
}

func (r *REPL) cmdPolicy(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		if r.policy == "" {
			return newError(NoPolicyErr, "no policy selected")
		}
		fmt.Fprintln(r.output, r.policy)
		return nil
	case 1, 2:
	default:
		return newError(BadArgsErr, "policy <name> [kind]: expects one or two arguments")
	}

	name := args[0]
	if _, err := r.rt.Policy(name); err == nil {
		r.policy = name
		return nil
	} else if !runtime.IsNotFound(err) {
		return err
	}

	kind := theory.Kind(r.rt.Config().DefaultPolicyKind)
	if len(args) == 2 {
		var err error
		if kind, err = theory.ParseKind(args[1]); err != nil {
			return newError(BadArgsErr, "%v", err)
		}
	}
	if err := r.rt.CreatePolicy(ctx, name, kind); err != nil {
		return err
	}
	r.policy = name
	return nil
}

func (r *REPL) cmdShow() error {
	if r.policy == "" {
		return newError(NoPolicyErr, "no policy selected")
	}
	return r.rt.Dump(r.output, r.policy)
}

func (r *REPL) cmdDump(args []string) error {
	if r.policy == "" {
		return newError(NoPolicyErr, "no policy selected")
	}
	if len(args) != 1 {
		return newError(BadArgsErr, "dump <path>: expects exactly one argument")
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	return r.rt.Dump(f, r.policy)
}

func (r *REPL) cmdRetract(ctx context.Context, text string) error {
	if r.policy == "" {
		return newError(NoPolicyErr, "no policy selected")
	}
	if strings.TrimSpace(text) == "" {
		return newError(BadArgsErr, "retract <statement>: expects a statement")
	}
	result, err := r.rt.Delete(ctx, r.policy, text)
	if err != nil {
		return err
	}
	if !result.Permitted {
		return result.Errors
	}
	return nil
}

func (r *REPL) cmdFormat(s string) error {
	r.outputFormat = s
	return nil
}

func (r *REPL) cmdExplain(mode explainMode) error {
	if r.explain == mode {
		r.explain = explainOff
	} else {
		r.explain = mode
	}
	return nil
}

func (r *REPL) cmdHelp() error {
	fmt.Fprintln(r.output, "")
	printHelpExamples(r.output, r.initPrompt)
	printHelpCommands(r.output)
	return nil
}

func (r *REPL) evalStatements(ctx context.Context, text string) error {
	result, err := r.rt.InsertText(ctx, r.policy, text)
	if err != nil {
		return err
	}
	if !result.Permitted {
		return result.Errors
	}
	return nil
}

func (r *REPL) evalQuery(ctx context.Context, text string) error {
	body, err := r.rt.ParseQuery(text)
	if err != nil {
		return err
	}

	opts := theory.QueryOptions{FindAll: true}
	var tracer *topdown.BufferTracer
	if r.explain == explainTrace {
		if tracer, err = topdown.NewBufferTracer(r.rt.Config().Trace.Patterns...); err != nil {
			return err
		}
		opts.Tracer = tracer
	}

	answers, err := r.rt.Select(ctx, r.policy, text, opts)
	if err != nil {
		return err
	}

	output := presentation.Output{Result: presentation.NewResultSet(body, answers)}
	if tracer != nil {
		output.Explanation = tracer.Events()
	}
	if r.explain == explainProofs {
		proofs, err := r.rt.Explain(ctx, r.policy, text, theory.QueryOptions{FindAll: true})
		if err != nil {
			return err
		}
		output = output.WithProofs(proofs)
	}

	if r.outputFormat == "json" {
		return presentation.JSON(r.output, output)
	}
	return presentation.Pretty(r.output, output)
}

func (r *REPL) getPrompt() string {
	if r.policy == "" {
		return r.initPrompt
	}
	return r.policy + r.initPrompt
}

func (r *REPL) loadHistory(prompt *liner.State) {
	if f, err := os.Open(r.historyPath); err == nil {
		prompt.ReadHistory(f)
		f.Close()
	}
}

func (r *REPL) saveHistory(prompt *liner.State) {
	if f, err := os.Create(r.historyPath); err == nil {
		prompt.WriteHistory(f)
		f.Close()
	}
}

type commandDesc struct {
	name string
	args []string
	help string
}

func (c commandDesc) syntax() string {
	if len(c.args) > 0 {
		return fmt.Sprintf("%v %v", c.name, strings.Join(c.args, " "))
	}
	return c.name
}

type exampleDesc struct {
	example string
	comment string
}

var examples = [...]exampleDesc{
	{`servers("vm1", "ERROR").`, "insert a fact"},
	{`error(x) :- servers(x, "ERROR")`, "insert a rule"},
	{"error(x)", "query a table"},
	{"error(x), not nova:active(x)", "query a conjunction"},
}

var extra = [...]commandDesc{
	{"<stmt>.", []string{}, "insert the statements into the active policy"},
	{"<query>", []string{}, "evaluate the query against the active policy"},
}

var builtin = [...]commandDesc{
	{"policy", []string{"[name]", "[kind]"}, "show or change the active policy, creating it if needed"},
	{"policies", []string{}, "list policies"},
	{"show", []string{}, "show the statements of the active policy"},
	{"dump", []string{"<path>"}, "write the statements of the active policy to a file"},
	{"retract", []string{"<stmt>"}, "delete a statement from the active policy"},
	{"json", []string{}, "set output format to JSON"},
	{"pretty", []string{}, "set output format to pretty"},
	{"trace", []string{}, "toggle full trace"},
	{"proofs", []string{}, "toggle proofs of answers"},
	{"help", []string{}, "print this message"},
	{"exit", []string{}, "exit back to shell (or ctrl+c, ctrl+d)"},
}

type command struct {
	op   string
	args []string
	rest string
}

func newCommand(line string) *command {
	trimmed := strings.TrimSpace(line)
	p := strings.Fields(trimmed)
	if len(p) == 0 {
		return nil
	}
	op := strings.ToLower(p[0])
	for _, c := range builtin {
		if c.name == op {
			return &command{
				op:   c.name,
				args: p[1:],
				rest: strings.TrimSpace(trimmed[len(p[0]):]),
			}
		}
	}
	return nil
}

func printHelpExamples(output io.Writer, promptSymbol string) {
	fmt.Fprintln(output, "Examples")
	fmt.Fprintln(output, "========")
	fmt.Fprintln(output, "")

	maxLength := 0
	for _, ex := range examples {
		if len(ex.example) > maxLength {
			maxLength = len(ex.example)
		}
	}

	f := fmt.Sprintf("%v%%-%dv # %%v\n", promptSymbol, maxLength+1)
	for _, ex := range examples {
		fmt.Fprintf(output, f, ex.example, ex.comment)
	}

	fmt.Fprintln(output, "")
}

func printHelpCommands(output io.Writer) {
	fmt.Fprintln(output, "Commands")
	fmt.Fprintln(output, "========")
	fmt.Fprintln(output, "")

	all := extra[:]
	all = append(all, builtin[:]...)

	maxLength := 0
	for _, c := range all {
		if length := len(c.syntax()); length > maxLength {
			maxLength = length
		}
	}

	f := fmt.Sprintf("%%%dv : %%v\n", maxLength)
	for _, c := range all {
		fmt.Fprintf(output, f, c.syntax(), c.help)
	}

	fmt.Fprintln(output, "")
}
