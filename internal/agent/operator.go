// Package agent turns chat messages into workflow runs.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/matcher"
	"github.com/rahul/reenact/internal/observability"
	"github.com/rahul/reenact/internal/store"
	"github.com/rahul/reenact/internal/workflow"
)

// Brain answers one chat message.
type Brain interface {
	Think(ctx context.Context, chatID string, input string) (string, error)
}

type Catalog interface {
	ListWorkflows(f store.Filter) ([]*workflow.Definition, error)
}

type WorkflowMatcher interface {
	Match(ctx context.Context, request string, catalog []*workflow.Definition) (*matcher.Match, error)
	Confirm(ctx context.Context, request string, def *workflow.Definition) (*matcher.Match, error)
}

type Runner interface {
	Run(ctx context.Context, def *workflow.Definition, values map[string]string) (*engine.Report, error)
}

type ReportStore interface {
	SaveReport(rep *engine.Report) error
}

// ScheduleStore is the part of the store the chat commands and the
// scheduler use.
type ScheduleStore interface {
	AddSchedule(chatID, request string, interval time.Duration) (int64, error)
	ListSchedules(chatID string) ([]store.Schedule, error)
	DeleteSchedule(chatID string, id int64) error
	ClearSchedules(chatID string) error
	PendingSchedules(now time.Time) ([]store.Schedule, error)
	MarkScheduleRun(id int64, at time.Time) error
}

type pendingMatch struct {
	request string
	match   *matcher.Match
}

// Operator matches a chat request against the catalog and runs the
// chosen workflow. Matches that need confirmation are held per chat
// until the user answers yes or no.
type Operator struct {
	Catalog   Catalog
	Matcher   WorkflowMatcher
	Runner    Runner
	Reports   ReportStore   // optional
	Schedules ScheduleStore // optional
	Logger    *observability.Logger

	mu      sync.Mutex
	pending map[string]pendingMatch

	// the screen is shared, so runs never overlap
	runMu sync.Mutex
}

var _ Brain = (*Operator)(nil)

func NewOperator(catalog Catalog, m WorkflowMatcher, runner Runner) *Operator {
	return &Operator{
		Catalog: catalog,
		Matcher: m,
		Runner:  runner,
		pending: make(map[string]pendingMatch),
	}
}

const help = `Tell me what to do in plain words, e.g. "open the DataVis course".
/list - recorded workflows
/status - what is running now
/schedule <interval> <request> - repeat a request (interval 0 runs once)
/schedules - your scheduled requests
/unschedule <id> - remove one
/clear - remove all of yours`

func (o *Operator) Think(ctx context.Context, chatID string, input string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "/") {
		return o.command(chatID, input)
	}

	if p, ok := o.takePending(chatID); ok {
		switch strings.ToLower(strings.Trim(input, " .!")) {
		case "yes", "y", "ok", "sure":
			m, err := o.Matcher.Confirm(ctx, p.request, p.match.Workflow)
			if err != nil {
				return replyForMatchError(err)
			}
			o.logMatch(chatID, p.request, m, "confirmed")
			return o.run(ctx, m), nil
		case "no", "n", "cancel":
			return "OK, not running it.", nil
		}
	}

	catalog, err := o.Catalog.ListWorkflows(store.Filter{})
	if err != nil {
		return "", fmt.Errorf("loading workflows: %w", err)
	}
	m, err := o.Matcher.Match(ctx, input, catalog)
	if err != nil {
		var amb *matcher.AmbiguousMatchError
		if errors.As(err, &amb) {
			o.setPending(chatID, pendingMatch{request: input, match: amb.Match})
			o.logMatch(chatID, input, amb.Match, "confirm")
			return fmt.Sprintf("Did you mean %q (%.0f%% sure)? Answer yes or no.",
				amb.Match.Workflow.Name, amb.Match.Similarity*100), nil
		}
		o.logMatch(chatID, input, nil, "rejected")
		return replyForMatchError(err)
	}
	o.logMatch(chatID, input, m, "accepted")
	return o.run(ctx, m), nil
}

func replyForMatchError(err error) (string, error) {
	switch {
	case errors.Is(err, matcher.ErrNoMatch):
		return "I don't have a recorded workflow for that yet. Record one first.", nil
	case errors.Is(err, matcher.ErrParameterType):
		return fmt.Sprintf("I can't use that value: %v", err), nil
	}
	return "", err
}

func (o *Operator) run(ctx context.Context, m *matcher.Match) string {
	if len(m.Missing) > 0 {
		return fmt.Sprintf("%q needs a value for: %s", m.Workflow.Name, strings.Join(m.Missing, ", "))
	}

	o.runMu.Lock()
	rep, err := o.Runner.Run(ctx, m.Workflow, m.Parameters)
	o.runMu.Unlock()

	if rep == nil {
		return fmt.Sprintf("Could not start %q: %v", m.Workflow.Name, err)
	}
	if o.Reports != nil {
		if serr := o.Reports.SaveReport(rep); serr != nil {
			log.Printf("[operator] saving report %s: %v", rep.RunID, serr)
		}
	}
	return Summarize(rep)
}

// Summarize renders a report as a short chat message.
func Summarize(rep *engine.Report) string {
	if rep.Success {
		return fmt.Sprintf("✅ %s finished in %s (%d attempts).",
			rep.WorkflowName, rep.Duration().Round(100*time.Millisecond), len(rep.Attempts))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "❌ %s stopped", rep.WorkflowName)
	if f := rep.Failure; f != nil {
		fmt.Fprintf(&b, " at step %d: %s.", f.Step, f.Error)
		if f.LastCandidate != nil {
			fmt.Fprintf(&b, "\nLast candidate: %s at (%d,%d), confidence %.2f.",
				f.LastCandidate.Source, f.LastCandidate.Center.X, f.LastCandidate.Center.Y, f.Confidence)
		}
		if len(f.Remediations) > 0 {
			names := make([]string, len(f.Remediations))
			for i, r := range f.Remediations {
				names[i] = r.String()
			}
			fmt.Fprintf(&b, "\nAlready tried: %s.", strings.Join(names, ", "))
		}
		b.WriteString("\nRe-record that step or give me a corrected value.")
	} else {
		b.WriteString(".")
	}
	return b.String()
}

func (o *Operator) command(chatID, input string) (string, error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/start", "/help":
		return help, nil
	case "/status":
		return observability.GetStatus().String(), nil
	case "/list":
		defs, err := o.Catalog.ListWorkflows(store.Filter{})
		if err != nil {
			return "", err
		}
		if len(defs) == 0 {
			return "No workflows recorded yet.", nil
		}
		lines := make([]string, len(defs))
		for i, d := range defs {
			lines[i] = "• " + d.Summary()
		}
		return strings.Join(lines, "\n"), nil
	}

	switch fields[0] {
	case "/schedule", "/schedules", "/unschedule", "/clear":
		if o.Schedules == nil {
			return "Scheduling is not configured.", nil
		}
	}
	switch fields[0] {
	case "/schedule":
		if len(fields) < 3 {
			return "Usage: /schedule <interval> <request>", nil
		}
		interval, err := parseInterval(fields[1])
		if err != nil {
			return fmt.Sprintf("Bad interval %q: use e.g. 30m, 2h or 0.", fields[1]), nil
		}
		request := strings.Join(fields[2:], " ")
		id, err := o.Schedules.AddSchedule(chatID, request, interval)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Scheduled #%d: %q.", id, request), nil
	case "/schedules":
		list, err := o.Schedules.ListSchedules(chatID)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "Nothing scheduled.", nil
		}
		lines := make([]string, len(list))
		for i, s := range list {
			every := "once"
			if s.Interval > 0 {
				every = "every " + s.Interval.String()
			}
			lines[i] = fmt.Sprintf("#%d %s: %s", s.ID, every, s.Request)
		}
		return strings.Join(lines, "\n"), nil
	case "/unschedule":
		if len(fields) != 2 {
			return "Usage: /unschedule <id>", nil
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(fields[1], "#"), 10, 64)
		if err != nil {
			return fmt.Sprintf("Bad id %q.", fields[1]), nil
		}
		if err := o.Schedules.DeleteSchedule(chatID, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Sprintf("No schedule #%d.", id), nil
			}
			return "", err
		}
		return fmt.Sprintf("Removed #%d.", id), nil
	case "/clear":
		if err := o.Schedules.ClearSchedules(chatID); err != nil {
			return "", err
		}
		return "All your schedules are removed.", nil
	}
	return fmt.Sprintf("Unknown command %s.\n\n%s", fields[0], help), nil
}

func parseInterval(s string) (time.Duration, error) {
	if s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < time.Minute {
		return 0, fmt.Errorf("interval below one minute")
	}
	return d, nil
}

func (o *Operator) takePending(chatID string) (pendingMatch, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[chatID]
	delete(o.pending, chatID)
	return p, ok
}

func (o *Operator) setPending(chatID string, p pendingMatch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		o.pending = make(map[string]pendingMatch)
	}
	o.pending[chatID] = p
}

func (o *Operator) logMatch(chatID, request string, m *matcher.Match, outcome string) {
	if o.Logger == nil {
		return
	}
	var id string
	var sim float64
	if m != nil {
		id, sim = m.Workflow.ID, m.Similarity
	}
	o.Logger.LogMatch(chatID, request, id, sim, outcome)
}
