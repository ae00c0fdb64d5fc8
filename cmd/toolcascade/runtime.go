package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/zen-systems/toolcascade/pkg/cascade"
	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/feedback"
	"github.com/zen-systems/toolcascade/pkg/gate"
	"github.com/zen-systems/toolcascade/pkg/ranker"
	"github.com/zen-systems/toolcascade/pkg/registry"
	"github.com/zen-systems/toolcascade/pkg/router"
	"github.com/zen-systems/toolcascade/pkg/synth"
	"go.uber.org/zap"
)

// runtimeDeps is everything a cascade command needs.
type runtimeDeps struct {
	cfg        *config.Config
	registry   *registry.Registry
	store      feedback.Store
	synth      *synth.Engine
	controller *cascade.Controller
	skipped    []skippedTool
}

func newRuntime() (*runtimeDeps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildRuntime(cfg, logger)
}

func buildRuntime(cfg *config.Config, logger *zap.Logger) (*runtimeDeps, error) {
	adapters, err := createAdapters(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapters: %w", err)
	}
	reg, skipped, err := buildRegistry(cfg, adapters, logger)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		logger.Debug("tool unavailable", zap.String("tool", s.ID), zap.String("reason", s.Reason))
	}

	rules, err := router.RulesFromConfig(cfg.Cascade)
	if err != nil {
		return nil, err
	}
	templates, err := synth.TemplatesFromConfig(cfg.Cascade)
	if err != nil {
		return nil, err
	}
	validator, err := gate.FromConfig(cfg.Cascade, logger)
	if err != nil {
		return nil, err
	}
	store, err := feedback.Open(cfg.Cascade.Feedback, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback store: %w", err)
	}

	engine := synth.New(reg, synth.WithTemplates(templates...), synth.WithLogger(logger))
	ctrl := cascade.New(reg, store,
		cascade.WithConfig(cfg.Cascade),
		cascade.WithClassifier(router.NewClassifier(router.NewRuleSet(rules))),
		cascade.WithValidator(validator),
		cascade.WithSynthesizer(engine),
		cascade.WithLogger(logger),
	)

	return &runtimeDeps{
		cfg:        cfg,
		registry:   reg,
		store:      store,
		synth:      engine,
		controller: ctrl,
		skipped:    skipped,
	}, nil
}

func (rt *runtimeDeps) ranker() *ranker.Ranker {
	return ranker.New(rt.registry, rt.store, ranker.WithWindow(rt.cfg.Cascade.Feedback.Window), ranker.WithLogger(logger))
}

// Close releases the feedback store.
func (rt *runtimeDeps) Close() error {
	if rt == nil || rt.store == nil {
		return nil
	}
	err := rt.store.Close()
	if errors.Is(err, feedback.ErrClosed) {
		return nil
	}
	return err
}
