package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/reenact/internal/action"
	"github.com/rahul/reenact/internal/browser"
	"github.com/rahul/reenact/internal/desktop"
	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/governance"
	"github.com/rahul/reenact/internal/matcher"
	"github.com/rahul/reenact/internal/observability"
	"github.com/rahul/reenact/internal/ocr"
	"github.com/rahul/reenact/internal/resolve"
	"github.com/rahul/reenact/internal/store"
	"github.com/rahul/reenact/internal/vision"
	"github.com/rahul/reenact/internal/visual"
	"github.com/rahul/reenact/pkg/config"
)

// backend is an input dispatcher that can also capture the screen.
type backend interface {
	action.Dispatcher
	action.Screen
}

// app holds the collaborators shared by every command.
type app struct {
	cfg     *config.Config
	store   *store.Store
	logger  *observability.Logger
	vision  *vision.Client // nil without an enabled provider
	backend backend
	closers []func()
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.App.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	st, err := store.Open(cfg.Memory.Path)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		store:  st,
		logger: observability.NewLogger(observability.WithLLMLog(cfg.App.LLMLog, cfg.App.LLMLogMaxSize)),
	}
	a.closers = append(a.closers, func() { st.Close() })

	model, err := newModel(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if model != nil {
		a.vision = vision.New(model, vision.NewPromptManager(cfg.App.Prompts), vision.WithLogger(a.logger))
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newModel builds the language model for the first enabled provider, or
// returns nil when none is enabled.
func newModel(cfg *config.Config) (llms.Model, error) {
	name, p := cfg.GetDefaultProvider()
	if name == "" {
		return nil, nil
	}
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	}
	return nil, fmt.Errorf("provider %s not yet implemented", name)
}

// screen starts the configured input backend on first use.
func (a *app) screen(ctx context.Context) (backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	switch a.cfg.Backend.Type {
	case "browser":
		opts := browser.DefaultOptions()
		opts.Headless = a.cfg.Backend.Headless
		if a.cfg.Backend.Width > 0 && a.cfg.Backend.Height > 0 {
			opts.Width, opts.Height = a.cfg.Backend.Width, a.cfg.Backend.Height
		}
		s := browser.NewSession(opts)
		a.closers = append(a.closers, s.Close)
		if u := a.cfg.Backend.StartURL; u != "" {
			if err := s.Navigate(ctx, u); err != nil {
				return nil, fmt.Errorf("opening %s: %w", u, err)
			}
		}
		a.backend = s
	default:
		a.backend = desktop.New(a.cfg.Backend.Display)
	}
	return a.backend, nil
}

func (a *app) textDetector() ocr.Detector {
	switch a.cfg.OCR.Engine {
	case "vision":
		if a.vision != nil {
			return a.vision
		}
		log.Println("[ocr] vision OCR needs an enabled provider; text sources disabled")
		return nil
	case "none":
		return nil
	}
	return ocr.NewTesseract(a.cfg.OCR.Binary, a.cfg.OCR.Language)
}

func (a *app) newEngine(ctx context.Context, observers ...engine.Observer) (*engine.Engine, error) {
	scr, err := a.screen(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := governance.FromRules(a.cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	var semantic resolve.SemanticLocator
	if a.vision != nil {
		semantic = a.vision
	}
	e := a.cfg.Engine
	gen := resolve.NewGenerator(a.cfg.ResolveConfig(), a.textDetector(), visual.NewHashComparer(), semantic)
	exec := action.NewExecutor(scr, scr,
		action.WithPolicy(policy),
		action.WithSettle(time.Duration(e.Settle)),
		action.WithKeys(e.LauncherKey, e.AddressBarKey),
	)

	observers = append([]engine.Observer{observability.NewEngineObserver(a.logger)}, observers...)
	return engine.New(a.cfg.EngineConfig(), engine.Deps{
		Generator: gen,
		Arbiter:   resolve.NewArbiter(e.DedupeRadius, e.AgreementBonus),
		Executor:  exec,
		Verifier:  visual.NewVerifier(e.ChangeThreshold),
		Screen:    scr,
		Observer:  engine.NewCompositeObserver(observers...),
	}), nil
}

func (a *app) newMatcher() (*matcher.Matcher, error) {
	if a.vision == nil {
		return nil, fmt.Errorf("matching requests needs an enabled provider in the config")
	}
	return matcher.New(a.cfg.MatcherConfig(), a.vision, a.vision), nil
}
