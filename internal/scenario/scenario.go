// Package scenario wires a work queue and recovery registry from configuration.
package scenario

import (
	"context"
	"fmt"

	"github.com/mattjoyce/redispatch/internal/config"
	"github.com/mattjoyce/redispatch/internal/queue"
	"github.com/mattjoyce/redispatch/internal/recovery"
	"github.com/mattjoyce/redispatch/internal/unit"
)

// Scripted is a unit whose runs follow a fixed list of outcomes.
type Scripted struct {
	kind     unit.Kind
	outcomes []string
	calls    int
}

func NewScripted(kind unit.Kind, outcomes ...string) *Scripted {
	return &Scripted{kind: kind, outcomes: outcomes}
}

func (s *Scripted) Kind() unit.Kind { return s.kind }

// Calls reports how many times the unit has run.
func (s *Scripted) Calls() int { return s.calls }

func (s *Scripted) Run(context.Context) error {
	s.calls++
	if s.calls > len(s.outcomes) {
		return nil
	}
	switch outcome := s.outcomes[s.calls-1]; outcome {
	case config.OutcomeOK:
		return nil
	case config.OutcomePanic:
		panic(fmt.Sprintf("%s: scripted panic on attempt %d", s.kind, s.calls))
	default:
		return unit.Fail(unit.FailureKind(outcome), "%s attempt %d failed", s.kind, s.calls)
	}
}

// Plan is a queue ready to drain, the registry bound to it, and the seeded units.
type Plan struct {
	Queue    *queue.Queue
	Registry *recovery.Registry
	Units    []*Scripted
}

// Build creates the queue and registry described by cfg. logFn receives failures
// reaching a log strategy.
func Build(cfg *config.Config, logFn unit.LogFunc) (*Plan, error) {
	q := queue.New()

	var opts []recovery.Option
	if cfg.Policy.Default != "" {
		s, ok := recovery.Builtin(recovery.Name(cfg.Policy.Default), q, logFn)
		if !ok {
			return nil, fmt.Errorf("policy.default: unknown strategy %q", cfg.Policy.Default)
		}
		opts = append(opts, recovery.WithDefault(s))
	}

	reg := recovery.NewRegistry(opts...)
	for i, rule := range cfg.Policy.Rules {
		s, ok := recovery.Builtin(recovery.Name(rule.Strategy), q, logFn)
		if !ok {
			return nil, fmt.Errorf("policy.rules[%d]: unknown strategy %q", i, rule.Strategy)
		}
		reg.Register(unit.Kind(rule.Unit), unit.FailureKind(rule.Failure), s)
	}

	plan := &Plan{Queue: q, Registry: reg}
	for _, uc := range cfg.Units {
		repeat := uc.Repeat
		if repeat <= 0 {
			repeat = 1
		}
		for i := 0; i < repeat; i++ {
			s := NewScripted(unit.Kind(uc.Kind), uc.Outcomes...)
			plan.Units = append(plan.Units, s)
			q.PushBack(s)
		}
	}
	return plan, nil
}
