package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rahul/reenact/internal/store"
	"github.com/rahul/reenact/internal/workflow"
)

var (
	listTag     string
	listName    string
	reportLimit int
	exportPath  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored workflows",
	Args:  cobra.NoArgs,
	RunE:  listWorkflows,
}

var importCmd = &cobra.Command{
	Use:   "import <file.yaml|dir>...",
	Short: "Store workflow definitions from YAML files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  importWorkflows,
}

var exportCmd = &cobra.Command{
	Use:   "export <workflow-id>",
	Short: "Write a stored workflow as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  exportWorkflow,
}

var reportsCmd = &cobra.Command{
	Use:   "reports <workflow-id> [run-id]",
	Short: "List recent runs of a workflow, or print one run report",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  showReports,
}

func init() {
	listCmd.Flags().StringVar(&listTag, "tag", "", "only workflows carrying this tag")
	listCmd.Flags().StringVar(&listName, "name", "", "only workflows whose name contains this text")
	exportCmd.Flags().StringVarP(&exportPath, "out", "f", "", "output file (default stdout)")
	reportsCmd.Flags().IntVarP(&reportLimit, "limit", "n", 20, "number of runs to list")
	rootCmd.AddCommand(listCmd, importCmd, exportCmd, reportsCmd)
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.App.Workspace, 0o755); err != nil {
		return nil, err
	}
	return store.Open(cfg.Memory.Path)
}

func listWorkflows(cmd *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	defs, err := st.ListWorkflows(store.Filter{Tag: listTag, Name: listName})
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No workflows found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTEPS\tPARAMETERS\tTAGS")
	for _, d := range defs {
		params := make([]string, len(d.Parameters))
		for i, p := range d.Parameters {
			params[i] = p.Name + ":" + string(p.TypeHint)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", d.ID, d.Name, len(d.Steps),
			strings.Join(params, ","), strings.Join(d.Tags, ","))
	}
	return w.Flush()
}

func importWorkflows(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var defs []*workflow.Definition
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			loaded, err := workflow.LoadDir(path)
			if err != nil {
				return err
			}
			defs = append(defs, loaded...)
			continue
		}
		def, err := workflow.LoadFile(path)
		if err != nil {
			return err
		}
		defs = append(defs, def)
	}

	for _, d := range defs {
		if err := st.SaveWorkflow(d); err != nil {
			return fmt.Errorf("saving %q: %w", d.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %s  %s\n", d.ID, d.Name)
	}
	return nil
}

func exportWorkflow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	def, err := st.GetWorkflow(args[0])
	if err != nil {
		return err
	}
	if exportPath != "" {
		return workflow.WriteFile(exportPath, def)
	}
	return writeYAML(cmd.OutOrStdout(), def)
}

func showReports(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 2 {
		rep, err := st.GetReport(args[1])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	runs, err := st.ListReports(args[0], reportLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tRESULT")
	for _, r := range runs {
		result := "ok"
		if !r.Success {
			result = "failed"
			if r.FailedStep != nil {
				result = fmt.Sprintf("failed at step %d", *r.FailedStep)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), result)
	}
	return w.Flush()
}
