package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/reenact/internal/recording"
	"github.com/rahul/reenact/internal/workflow"
)

var (
	recName        string
	recDescription string
	recTags        []string
	recEvents      string
	recParams      []string
	recInterval    time.Duration
	recOut         string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a workflow by demonstration",
	Long: `Captures the screen while reading input events as JSON lines, one per
line, e.g. {"type":"click","x":120,"y":48}. Recording stops when the event
stream ends or on Ctrl-C; the steps are then built and stored.`,
	Args: cobra.NoArgs,
	RunE: recordWorkflow,
}

func init() {
	recordCmd.Flags().StringVar(&recName, "name", "", "workflow name (required)")
	recordCmd.Flags().StringVar(&recDescription, "description", "", "what the workflow does")
	recordCmd.Flags().StringSliceVar(&recTags, "tag", nil, "tags (repeatable)")
	recordCmd.Flags().StringVar(&recEvents, "events", "-", "JSON-lines input events file, - for stdin")
	recordCmd.Flags().StringArrayVarP(&recParams, "param", "p", nil, "mark a demonstrated value as parameter: name=value[:string|number|url]")
	recordCmd.Flags().DurationVar(&recInterval, "interval", time.Second, "periodic screenshot interval")
	recordCmd.Flags().StringVarP(&recOut, "out", "f", "", "also write the workflow as YAML to this file")
	_ = recordCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(recordCmd)
}

func parseParamHints(kvs []string) ([]recording.ParamHint, error) {
	hints := make([]recording.ParamHint, 0, len(kvs))
	for _, kv := range kvs {
		name, rest, ok := strings.Cut(kv, "=")
		if !ok || name == "" || rest == "" {
			return nil, fmt.Errorf("parameter %q must be name=value[:type]", kv)
		}
		hint := recording.ParamHint{Name: name, Value: rest, TypeHint: workflow.HintString}
		if i := strings.LastIndex(rest, ":"); i > 0 {
			switch t := workflow.TypeHint(rest[i+1:]); t {
			case workflow.HintString, workflow.HintNumber, workflow.HintURL:
				hint.Value, hint.TypeHint = rest[:i], t
			}
		}
		hints = append(hints, hint)
	}
	return hints, nil
}

func recordWorkflow(cmd *cobra.Command, _ []string) error {
	hints, err := parseParamHints(recParams)
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

	var in io.Reader = cmd.InOrStdin()
	if recEvents != "-" {
		f, err := os.Open(recEvents)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	ctx, stop := signalContext()
	defer stop()

	scr, err := a.screen(ctx)
	if err != nil {
		return err
	}
	rec := recording.NewRecorder(scr, &recording.JSONLSource{R: in}, recInterval)
	fmt.Fprintln(cmd.ErrOrStderr(), "recording... (end the event stream or press Ctrl-C to stop)")
	demo, err := rec.Run(ctx)
	if err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	entries := demo.Snapshot()
	fmt.Fprintf(cmd.ErrOrStderr(), "captured %d entries, building steps\n", len(entries))

	// Ctrl-C ends the recording, not the build
	def, err := recording.Build(context.Background(), entries, recording.BuildOptions{
		Name:        recName,
		Description: recDescription,
		Tags:        recTags,
		OCR:         a.textDetector(),
		Parameters:  hints,
	})
	if err != nil {
		return err
	}
	if err := a.store.SaveWorkflow(def); err != nil {
		return err
	}
	if recOut != "" {
		if err := workflow.WriteFile(recOut, def); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s  %s (%d steps)\n", def.ID, def.Name, len(def.Steps))
	return nil
}
