// Command ccm-sim plays membership scenarios on an in-memory network with
// a virtual clock and prints what every node reported.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/sim"
)

type options struct {
	scenarios []string
	files     []string
	list      bool
	asJSON    bool
	logLevel  string
}

func parseFlags(args []string) (options, error) {
	var o options
	var scenarios, files string
	fs := flag.NewFlagSet("ccm-sim", flag.ContinueOnError)
	fs.StringVar(&scenarios, "scenario", "", "Comma-separated built-in scenarios (default: all)")
	fs.StringVar(&files, "file", "", "Comma-separated YAML scenario files")
	fs.BoolVar(&o.list, "list", false, "List built-in scenarios and exit")
	fs.BoolVar(&o.asJSON, "json", false, "Print results as JSON")
	fs.StringVar(&o.logLevel, "log-level", "warn", "Engine log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.scenarios = splitList(scenarios)
	o.files = splitList(files)
	if len(o.scenarios) == 0 && len(o.files) == 0 {
		o.scenarios = sim.Builtin()
	}
	return o, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if o.list {
		for _, name := range sim.Builtin() {
			fmt.Println(name)
		}
		return
	}
	logger := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(o.logLevel))
	if failed := run(o, os.Stdout, logger); failed > 0 {
		fmt.Fprintf(os.Stderr, "ccm-sim: %d scenario(s) failed\n", failed)
		os.Exit(1)
	}
}

// run plays every selected scenario and returns how many failed.
func run(o options, w io.Writer, logger logging.Logger) int {
	var scenarios []*sim.Scenario
	failed := 0
	for _, name := range o.scenarios {
		s, err := sim.LoadBuiltin(name)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", name, err)
			failed++
			continue
		}
		scenarios = append(scenarios, s)
	}
	for _, path := range o.files {
		s, err := sim.LoadScenario(path)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", path, err)
			failed++
			continue
		}
		scenarios = append(scenarios, s)
	}

	for _, s := range scenarios {
		res, err := sim.Play(s, logger.With(logging.String("scenario", s.Name)))
		if err != nil {
			failed++
		}
		if o.asJSON {
			printJSON(w, res, err)
		} else {
			printResult(w, s, res, err)
		}
	}
	return failed
}

type jsonResult struct {
	*sim.Result
	Error string `json:"error,omitempty"`
}

func printJSON(w io.Writer, res *sim.Result, err error) {
	out := jsonResult{Result: res}
	if err != nil {
		out.Error = err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func printResult(w io.Writer, s *sim.Scenario, res *sim.Result, err error) {
	status := "ok"
	if err != nil {
		status = "FAILED"
	}
	fmt.Fprintf(w, "== %s [%s] %d ticks, %s virtual\n", s.Name, status, res.Ticks, res.Elapsed)
	if s.Description != "" {
		fmt.Fprintf(w, "   %s\n", s.Description)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tNODE\tTRANSITION\tLEADER\tCOOKIE\tMEMBERS")
	for _, nr := range res.Reports {
		r := nr.Report
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			nr.Tick, nr.Node, r.Transition, r.Leader, r.Cookie, strings.Join(r.MemberNames(), ","))
	}
	_ = tw.Flush()

	if err != nil {
		fmt.Fprintf(w, "   error: %v\n", err)
	}
	fmt.Fprintln(w)
}
