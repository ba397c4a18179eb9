package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/rahul/reenact/internal/agent"
	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/matcher"
	"github.com/rahul/reenact/internal/store"
	"github.com/rahul/reenact/internal/workflow"
)

var (
	runParams []string
	assumeYes bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Run a stored workflow and print its report",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflow,
}

var doCmd = &cobra.Command{
	Use:   `do "<request>"`,
	Short: "Match a plain-language request to a workflow and run it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRequest,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "parameter value as name=value (repeatable)")
	doCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "run ambiguous matches without asking")
	rootCmd.AddCommand(runCmd, doCmd)
}

func parseParams(kvs []string) (map[string]string, error) {
	values := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("parameter %q must be name=value", kv)
		}
		values[strings.TrimSpace(name)] = value
	}
	return values, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	values, err := parseParams(runParams)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	def, err := a.store.GetWorkflow(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	return a.execute(ctx, cmd.OutOrStdout(), def, values)
}

// execute runs def, stores the report and prints it as JSON. A failed run
// is returned as an error after the report is printed.
func (a *app) execute(ctx context.Context, out io.Writer, def *workflow.Definition, values map[string]string) error {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}
	rep, runErr := eng.Run(ctx, def, values)
	if rep == nil {
		return runErr
	}
	if err := a.store.SaveReport(rep); err != nil {
		fmt.Fprintf(os.Stderr, "warning: report not saved: %v\n", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("%s", agent.Summarize(rep))
	}
	return nil
}

func doRequest(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.newMatcher()
	if err != nil {
		return err
	}
	catalog, err := a.store.ListWorkflows(store.Filter{})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	match, err := m.Match(ctx, request, catalog)
	var amb *matcher.AmbiguousMatchError
	switch {
	case errors.As(err, &amb):
		a.logger.LogMatch("cli", request, amb.Match.Workflow.ID, amb.Match.Similarity, "confirm")
		if !assumeYes && !confirm(cmd, fmt.Sprintf("Did you mean %q (%.0f%% sure)?", amb.Match.Workflow.Name, amb.Match.Similarity*100)) {
			return fmt.Errorf("not confirmed")
		}
		match, err = m.Confirm(ctx, request, amb.Match.Workflow)
		if err != nil {
			return err
		}
	case err != nil:
		a.logger.LogMatch("cli", request, "", 0, "rejected")
		return err
	default:
		a.logger.LogMatch("cli", request, match.Workflow.ID, match.Similarity, "accepted")
	}

	if len(match.Missing) > 0 {
		return fmt.Errorf("%q needs a value for: %s", match.Workflow.Name, strings.Join(match.Missing, ", "))
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "running %q with %v\n", match.Workflow.Name, match.Parameters)
	return a.execute(ctx, cmd.OutOrStdout(), match.Workflow, match.Parameters)
}

// confirm asks a yes/no question on an interactive terminal. Without a
// terminal the answer is no.
func confirm(cmd *cobra.Command, question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(cmd.ErrOrStderr(), question, "(not a terminal; pass --yes to accept)")
		return false
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", question)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// runner adapts the engine for the chat operator, building a fresh engine
// per run so observers stay current.
type runner struct {
	app *app
}

func (r runner) Run(ctx context.Context, def *workflow.Definition, values map[string]string) (*engine.Report, error) {
	eng, err := r.app.newEngine(ctx)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx, def, values)
}

var _ agent.Runner = runner{}
