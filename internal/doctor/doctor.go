// Package doctor inspects a recovery policy for rules that can never fire,
// failures nothing handles, and escalation ladders that never end.
package doctor

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mattjoyce/redispatch/internal/config"
	"github.com/mattjoyce/redispatch/internal/recovery"
	"github.com/mattjoyce/redispatch/internal/scenario"
	"github.com/mattjoyce/redispatch/internal/unit"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks a loaded config's policy against its units.
type Doctor struct {
	cfg *config.Config
	reg *recovery.Registry
}

// New builds the registry a run of cfg would dispatch through.
func New(cfg *config.Config) (*Doctor, error) {
	plan, err := scenario.Build(cfg, nil)
	if err != nil {
		return nil, err
	}
	return &Doctor{cfg: cfg, reg: plan.Registry}, nil
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateEscalationCycles(r)
	d.warnDuplicateRules(r)
	d.warnUnreachableRules(r)
	d.warnEscalationGaps(r)
	d.warnUnhandledOutcomes(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// strategyFor resolves the strategy a failure keyed k would be handed to.
func (d *Doctor) strategyFor(k recovery.Key) (recovery.Name, bool) {
	if s, ok := d.reg.Lookup(k); ok {
		return nameOf(s), true
	}
	if d.reg.HasDefault() {
		return nameOf(d.reg.Default()), true
	}
	return "", false
}

// nameOf reports the built-in name of s. Custom strategies have none.
func nameOf(s recovery.Strategy) recovery.Name {
	if n, ok := s.(interface{ Name() recovery.Name }); ok {
		return n.Name()
	}
	return ""
}

// wrapperOf maps a retry strategy to the unit kind it enqueues.
func wrapperOf(strategy recovery.Name) (unit.Kind, bool) {
	switch strategy {
	case recovery.NameRetryOnce:
		return unit.KindRetryOnce, true
	case recovery.NameRetryTwice:
		return unit.KindRetryTwice, true
	}
	return "", false
}

// validateEscalationCycles follows retry_escalation edges between wrappers.
// A wrapper whose escalation leads back to a wrapper already on the path
// retries forever while the underlying unit keeps failing.
func (d *Doctor) validateEscalationCycles(r *Result) {
	reported := make(map[unit.Kind]bool)
	for _, start := range []unit.Kind{unit.KindRetryOnce, unit.KindRetryTwice} {
		if reported[start] {
			continue
		}
		path := []unit.Kind{start}
		current := start
		for {
			s, ok := d.strategyFor(recovery.Key{Unit: current, Failure: unit.FailureRetryEscalation})
			if !ok {
				break
			}
			next, ok := wrapperOf(s)
			if !ok {
				break
			}
			if slices.Contains(path, next) {
				if next == start {
					parts := make([]string, 0, len(path)+1)
					for _, k := range append(path, next) {
						reported[k] = true
						parts = append(parts, string(k))
					}
					d.addError(r, "escalation_cycle", fmt.Sprintf("%s/%s", start, unit.FailureRetryEscalation),
						"retry escalation never terminates: "+strings.Join(parts, " -> "))
				}
				break
			}
			path = append(path, next)
			current = next
		}
	}
}

func (d *Doctor) warnDuplicateRules(r *Result) {
	seen := make(map[recovery.Key]int)
	for i, rule := range d.cfg.Policy.Rules {
		k := recovery.Key{Unit: unit.Kind(rule.Unit), Failure: unit.FailureKind(rule.Failure)}
		if first, ok := seen[k]; ok {
			d.addWarning(r, "duplicate_rule", fmt.Sprintf("policy.rules[%d]", i),
				fmt.Sprintf("%s overrides policy.rules[%d]", k, first))
			continue
		}
		seen[k] = i
	}
}

// warnUnreachableRules flags rules keyed on a unit kind nothing ever queues.
func (d *Doctor) warnUnreachableRules(r *Result) {
	kinds := d.reachableKinds()
	for i, rule := range d.cfg.Policy.Rules {
		if !kinds[unit.Kind(rule.Unit)] {
			d.addWarning(r, "unreachable_rule", fmt.Sprintf("policy.rules[%d]", i),
				fmt.Sprintf("no unit of kind %q is ever queued", rule.Unit))
		}
	}
}

func (d *Doctor) reachableKinds() map[unit.Kind]bool {
	kinds := make(map[unit.Kind]bool)
	for _, u := range d.cfg.Units {
		kinds[unit.Kind(u.Kind)] = true
	}
	var strategies []recovery.Name
	if d.reg.HasDefault() {
		strategies = append(strategies, nameOf(d.reg.Default()))
	}
	for _, k := range d.reg.Keys() {
		s, _ := d.reg.Lookup(k)
		strategies = append(strategies, nameOf(s))
	}
	for _, s := range strategies {
		if w, ok := wrapperOf(s); ok {
			kinds[w] = true
		}
		if s == recovery.NameLog {
			kinds[unit.KindLog] = true
		}
	}
	return kinds
}

// warnEscalationGaps flags retry strategies whose own escalation would be dropped.
func (d *Doctor) warnEscalationGaps(r *Result) {
	kinds := d.reachableKinds()
	for _, w := range []unit.Kind{unit.KindRetryOnce, unit.KindRetryTwice} {
		if !kinds[w] {
			continue
		}
		k := recovery.Key{Unit: w, Failure: unit.FailureRetryEscalation}
		if _, ok := d.strategyFor(k); !ok {
			d.addWarning(r, "escalation_gap", k.String(),
				fmt.Sprintf("a failed %s is dropped without being logged", w))
		}
	}
}

// warnUnhandledOutcomes flags scripted failures with no rule and no default.
func (d *Doctor) warnUnhandledOutcomes(r *Result) {
	for i, u := range d.cfg.Units {
		seen := make(map[string]bool)
		for _, outcome := range u.Outcomes {
			if outcome == config.OutcomeOK || seen[outcome] {
				continue
			}
			seen[outcome] = true

			failure := unit.FailureKind(outcome)
			if outcome == config.OutcomePanic {
				failure = unit.FailurePanic
			}
			k := recovery.Key{Unit: unit.Kind(u.Kind), Failure: failure}
			if _, ok := d.strategyFor(k); !ok {
				d.addWarning(r, "unhandled_failure", fmt.Sprintf("units[%d]", i),
					fmt.Sprintf("%s has no rule and no default; it will be dropped", k))
			}
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
