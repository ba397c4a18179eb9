package engine

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/reenact/internal/action"
	"github.com/rahul/reenact/internal/action/actiontest"
	"github.com/rahul/reenact/internal/geometry"
	"github.com/rahul/reenact/internal/governance"
	"github.com/rahul/reenact/internal/params"
	"github.com/rahul/reenact/internal/resolve"
	"github.com/rahul/reenact/internal/workflow"
)

type fakeGenerator struct {
	mu       sync.Mutex
	byTarget map[string][]resolve.Candidate
	seen     []resolve.Target
}

func (g *fakeGenerator) Generate(_ context.Context, _ image.Image, t resolve.Target) []resolve.Candidate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, t)
	return g.byTarget[t.Description]
}

func (g *fakeGenerator) targets() []resolve.Target {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]resolve.Target(nil), g.seen...)
}

type recordingObserver struct {
	NoopObserver
	mu           sync.Mutex
	steps        int
	attempts     []Attempt
	remediations []Remediation
	finished     *Report
}

func (o *recordingObserver) OnStepStart(context.Context, *Report, workflow.Step) {
	o.mu.Lock()
	o.steps++
	o.mu.Unlock()
}

func (o *recordingObserver) OnAttempt(_ context.Context, _ *Report, a Attempt) {
	o.mu.Lock()
	o.attempts = append(o.attempts, a)
	o.mu.Unlock()
}

func (o *recordingObserver) OnRemediation(_ context.Context, _ *Report, _ int, r Remediation) {
	o.mu.Lock()
	o.remediations = append(o.remediations, r)
	o.mu.Unlock()
}

func (o *recordingObserver) OnRunFinished(_ context.Context, rep *Report) {
	o.mu.Lock()
	o.finished = rep
	o.mu.Unlock()
}

const target = "click link 'Machine Learning'"

func exact(x, y int, conf float64) resolve.Candidate {
	return resolve.Candidate{Center: image.Pt(x, y), Confidence: conf, Source: resolve.SourceExactText}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 4 * time.Millisecond
	return cfg
}

type harness struct {
	engine     *Engine
	dispatcher *actiontest.Dispatcher
	screen     *actiontest.Screen
	generator  *fakeGenerator
	observer   *recordingObserver
}

func newHarness(cfg Config, cands map[string][]resolve.Candidate, opts ...action.Option) *harness {
	h := &harness{
		dispatcher: &actiontest.Dispatcher{},
		screen:     actiontest.NewScreen(actiontest.Frame(320, 200, 1)),
		generator:  &fakeGenerator{byTarget: cands},
		observer:   &recordingObserver{},
	}
	exec := action.NewExecutor(h.dispatcher, h.screen, append([]action.Option{action.WithSettle(0)}, opts...)...)
	h.engine = New(cfg, Deps{
		Generator: h.generator,
		Executor:  exec,
		Screen:    h.screen,
		Observer:  h.observer,
	})
	return h
}

// changeOnClick makes the listed clicks (1-based) change the screen.
func (h *harness) changeOnClick(clicks ...int) {
	n := 0
	seed := int64(10)
	h.dispatcher.OnClick = func(image.Point) {
		n++
		for _, c := range clicks {
			if c == n {
				seed++
				h.screen.Set(actiontest.Frame(320, 200, seed))
			}
		}
	}
}

func clickWorkflow() *workflow.Definition {
	return &workflow.Definition{
		ID:   "open-course",
		Name: "open course",
		Steps: []workflow.Step{
			{Sequence: 1, Action: workflow.ActionClickElement, Target: target},
		},
	}
}

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	h := newHarness(testConfig(), map[string][]resolve.Candidate{target: {exact(450, 320, 0.93)}})
	h.changeOnClick(1)

	rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	require.NoError(t, err)
	assert.True(t, rep.Success)
	assert.Nil(t, rep.FailedStep)
	require.Len(t, rep.Attempts, 1)
	a := rep.Attempts[0]
	assert.Equal(t, OutcomeSuccess, a.Outcome)
	assert.True(t, a.ScreenChanged)
	assert.Equal(t, image.Pt(450, 320), a.Candidate.Center)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, []string{"click 450,320"}, h.dispatcher.Calls())
	assert.Same(t, rep, h.observer.finished)
}

func TestRun_NoChangeScrollsBeforeRelocating(t *testing.T) {
	h := newHarness(testConfig(), map[string][]resolve.Candidate{target: {exact(450, 320, 0.93)}})
	h.changeOnClick(2)

	rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"click 450,320", "scroll 160,100 +5", "click 450,320"}, h.dispatcher.Calls())
	require.Len(t, rep.Attempts, 2)
	first := rep.Attempts[0]
	assert.False(t, first.ScreenChanged)
	assert.Equal(t, OutcomeRetry, first.Outcome)
	require.NotNil(t, first.Remediation)
	assert.Equal(t, RemediationScroll, *first.Remediation)
	assert.Equal(t, OutcomeRecovery, rep.Attempts[1].Outcome)
}

func TestRun_ScrollFollowsReferencePosition(t *testing.T) {
	def := clickWorkflow()
	def.Steps[0].ReferencePosition = &geometry.NormPoint{X: 500, Y: 100}
	h := newHarness(testConfig(), map[string][]resolve.Candidate{target: {exact(450, 320, 0.93)}})
	h.changeOnClick(2)

	_, err := h.engine.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Contains(t, h.dispatcher.Calls(), "scroll 160,100 -5")
}

func TestRun_RetryBound(t *testing.T) {
	for _, limit := range []int{1, 3, 5, 6} {
		cfg := testConfig()
		cfg.MaxAttempts = limit
		h := newHarness(cfg, map[string][]resolve.Candidate{target: {exact(450, 320, 0.93)}})

		rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoVisibleChange)
		assert.False(t, rep.Success)
		require.Len(t, rep.Attempts, limit, "max attempts %d", limit)
		for i, a := range rep.Attempts[:limit-1] {
			assert.Equal(t, OutcomeRetry, a.Outcome)
			assert.Equal(t, Menu[i%len(Menu)], *a.Remediation)
		}
		last := rep.Attempts[limit-1]
		assert.Equal(t, OutcomeFailed, last.Outcome)
		assert.Nil(t, last.Remediation)

		require.NotNil(t, rep.FailedStep)
		assert.Equal(t, 1, *rep.FailedStep)
		require.NotNil(t, rep.Failure)
		assert.Len(t, rep.Failure.Remediations, limit-1)
		assert.Equal(t, 0.93, rep.Failure.Confidence)
		assert.Equal(t, image.Pt(450, 320), rep.Failure.LastCandidate.Center)
	}
}

func TestRun_DefaultAttemptsScrollThenWait(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = DefaultConfig().MaxAttempts
	h := newHarness(cfg, map[string][]resolve.Candidate{target: {exact(450, 320, 0.93)}})

	rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	require.Error(t, err)
	require.NotNil(t, rep.Failure)
	assert.Equal(t, []Remediation{RemediationScroll, RemediationWait}, rep.Failure.Remediations)
}

func TestRun_TargetNotFound(t *testing.T) {
	h := newHarness(testConfig(), nil)
	rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Len(t, rep.Attempts, 3)
	assert.Nil(t, rep.Failure.LastCandidate)
	assert.Equal(t, []string{"scroll 160,100 +5"}, h.dispatcher.Calls(), "nothing is clicked when nothing is found")
	assert.Equal(t, []Remediation{RemediationScroll, RemediationWait}, h.observer.remediations)
}

func TestRun_RelaxAcceptsWeakCandidate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 4
	h := newHarness(cfg, map[string][]resolve.Candidate{target: {exact(100, 50, 0.4)}})
	h.changeOnClick(1)

	rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	require.NoError(t, err)
	require.Len(t, rep.Attempts, 4)
	assert.Equal(t, RemediationRelax, *rep.Attempts[2].Remediation)
	final := rep.Attempts[3]
	assert.Equal(t, OutcomeRecovery, final.Outcome)
	assert.True(t, final.LowConfidence)
	assert.Equal(t, []string{"scroll 160,100 +5", "click 100,50"}, h.dispatcher.Calls())
}

func TestRun_WidenDropsRegionHint(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 5
	h := newHarness(cfg, nil)

	_, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	require.Error(t, err)
	seen := h.generator.targets()
	require.Len(t, seen, 5)
	for _, tg := range seen[:4] {
		assert.False(t, tg.Widen)
	}
	assert.True(t, seen[4].Widen)
}

func TestRun_LowConfidenceLocationExcludedAfterNoChange(t *testing.T) {
	h := newHarness(testConfig(), map[string][]resolve.Candidate{target: {
		exact(100, 50, 0.6),
		{Center: image.Pt(250, 150), Confidence: 0.55, Source: resolve.SourceFuzzyText},
	}})
	h.changeOnClick(2)

	rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"click 100,50", "scroll 160,100 +5", "click 250,150"}, h.dispatcher.Calls())
	assert.True(t, rep.Attempts[0].LowConfidence)
}

func TestRun_AbortsRemainingSteps(t *testing.T) {
	def := clickWorkflow()
	def.Steps = append(def.Steps, workflow.Step{Sequence: 2, Action: workflow.ActionTypeText, Value: "hello"})
	h := newHarness(testConfig(), nil)

	rep, err := h.engine.Run(context.Background(), def, nil)
	require.Error(t, err)
	assert.Equal(t, 1, *rep.FailedStep)
	assert.Equal(t, 1, h.observer.steps)
	assert.NotContains(t, h.dispatcher.Calls(), "type hello")
}

func TestRun_CancellationStopsBetweenSteps(t *testing.T) {
	def := clickWorkflow()
	def.Steps = append(def.Steps, workflow.Step{Sequence: 2, Action: workflow.ActionTypeText, Value: "hello"})
	h := newHarness(testConfig(), map[string][]resolve.Candidate{target: {exact(450, 320, 0.93)}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.OnClick = func(image.Point) {
		h.screen.Set(actiontest.Frame(320, 200, 42))
		cancel()
	}

	rep, err := h.engine.Run(ctx, def, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep.FailedStep)
	assert.Equal(t, 2, *rep.FailedStep)
	require.Len(t, rep.Attempts, 1)
	assert.Equal(t, OutcomeSuccess, rep.Attempts[0].Outcome, "the dispatched click completes")
	assert.Equal(t, []string{"click 450,320"}, h.dispatcher.Calls())
}

func TestRun_StepBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 10
	cfg.StepBudget = 30 * time.Millisecond
	cfg.BackoffBase = time.Second
	cfg.BackoffMax = time.Second
	h := newHarness(cfg, nil)

	start := time.Now()
	rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	assert.ErrorIs(t, err, ErrStepTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, rep.Attempts, 2)
}

func TestRun_MissingParameterBlocksRun(t *testing.T) {
	def := clickWorkflow()
	def.Parameters = []workflow.ParameterSpec{{Name: "course_name", ExampleValue: "Machine Learning", TypeHint: workflow.HintString}}
	def.Steps[0].Parameterizable = true
	def.Steps[0].ParameterName = "course_name"
	h := newHarness(testConfig(), nil)

	rep, err := h.engine.Run(context.Background(), def, map[string]string{})
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, params.ErrMissingParameter)
	assert.Empty(t, h.dispatcher.Calls())
	assert.Zero(t, h.screen.Captures())
}

func TestRun_SubstitutedTargetIsResolved(t *testing.T) {
	def := clickWorkflow()
	def.Parameters = []workflow.ParameterSpec{{Name: "course_name", ExampleValue: "Machine Learning", TypeHint: workflow.HintString}}
	def.Steps[0].Parameterizable = true
	def.Steps[0].ParameterName = "course_name"
	h := newHarness(testConfig(), map[string][]resolve.Candidate{"click link 'DataVis'": {exact(10, 20, 0.9)}})
	h.changeOnClick(1)

	rep, err := h.engine.Run(context.Background(), def, map[string]string{"course_name": "DataVis"})
	require.NoError(t, err)
	assert.True(t, rep.Success)
	assert.Equal(t, "click link 'DataVis'", h.generator.targets()[0].Description)
}

func TestRun_WaitIsSuccessWithoutVerification(t *testing.T) {
	def := &workflow.Definition{ID: "w", Name: "w", Steps: []workflow.Step{
		{Sequence: 1, Action: workflow.ActionWait, Value: "0.001"},
	}}
	h := newHarness(testConfig(), nil)

	rep, err := h.engine.Run(context.Background(), def, nil)
	require.NoError(t, err)
	require.Len(t, rep.Attempts, 1)
	assert.Equal(t, OutcomeSuccess, rep.Attempts[0].Outcome)
	assert.Empty(t, h.generator.targets())
}

func TestRun_NonTargetActionsSkipGenerator(t *testing.T) {
	def := &workflow.Definition{ID: "t", Name: "t", Steps: []workflow.Step{
		{Sequence: 1, Action: workflow.ActionKeyCombo, Value: "ctrl+t"},
	}}
	h := newHarness(testConfig(), nil)
	d := &changingDispatcher{Dispatcher: h.dispatcher, screen: h.screen, seed: 50}
	h.engine.Executor = action.NewExecutor(d, h.screen, action.WithSettle(0))

	rep, err := h.engine.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.True(t, rep.Success)
	assert.Empty(t, h.generator.targets())
	assert.Equal(t, []string{"key ctrl+t"}, h.dispatcher.Calls())
}

type changingDispatcher struct {
	*actiontest.Dispatcher
	screen *actiontest.Screen
	seed   int64
}

func (d *changingDispatcher) KeyCombo(ctx context.Context, combo string) error {
	d.seed++
	d.screen.Set(actiontest.Frame(320, 200, d.seed))
	return d.Dispatcher.KeyCombo(ctx, combo)
}

func TestRun_DragResolvesBothEnds(t *testing.T) {
	def := &workflow.Definition{ID: "d", Name: "d", Steps: []workflow.Step{
		{Sequence: 1, Action: workflow.ActionDrag, Target: "'report.pdf'", DropTarget: "'Archive'"},
	}}
	h := newHarness(testConfig(), map[string][]resolve.Candidate{
		"'report.pdf'": {exact(10, 10, 0.9)},
		"'Archive'":    {exact(300, 180, 0.85)},
	})

	rep, err := h.engine.Run(context.Background(), def, nil)
	require.Error(t, err, "drag without a screen change fails verification")
	assert.Equal(t, "drag 10,10 300,180", h.dispatcher.Calls()[0])
	require.NotNil(t, rep.Attempts[0].Drop)
	assert.Equal(t, image.Pt(300, 180), rep.Attempts[0].Drop.Center)
	assert.Len(t, h.generator.targets(), 6)
}

func TestRun_DispatchFailureIsTerminal(t *testing.T) {
	h := newHarness(testConfig(), map[string][]resolve.Candidate{target: {exact(450, 320, 0.93)}})
	h.dispatcher.Fail = errors.New("no display")

	rep, err := h.engine.Run(context.Background(), clickWorkflow(), nil)
	assert.ErrorIs(t, err, ErrActionDispatchFailed)
	assert.Len(t, rep.Attempts, 1)
	assert.Equal(t, OutcomeFailed, rep.Attempts[0].Outcome)
	assert.Len(t, h.dispatcher.Calls(), 1)
}

func TestRun_PolicyDenialIsTerminal(t *testing.T) {
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyAction(string(workflow.ActionTypeText))
	def := &workflow.Definition{ID: "t", Name: "t", Steps: []workflow.Step{
		{Sequence: 1, Action: workflow.ActionTypeText, Value: "secret"},
	}}
	h := newHarness(testConfig(), nil, action.WithPolicy(policy))

	rep, err := h.engine.Run(context.Background(), def, nil)
	assert.ErrorIs(t, err, ErrActionDenied)
	assert.Len(t, rep.Attempts, 1)
	assert.Empty(t, h.dispatcher.Calls())
}

func TestConfig_Backoff(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff(0))
	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 2*time.Second, cfg.Backoff(5))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "locating", StateLocating.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "widen_search", RemediationWiden.String())
}
