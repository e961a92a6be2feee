package woningcheck

import (
	"fmt"
	"log/slog"
)

// PolicyLevel is the truth-policy enforcement level.
type PolicyLevel string

const (
	PolicyStrict PolicyLevel = "STRICT"
	PolicyWarn   PolicyLevel = "WARN"
	PolicyOff    PolicyLevel = "OFF"
)

// Rule names one governed invariant. Every rule carries its own
// enforcement level.
type Rule string

const (
	RuleFailClosedNarrative     Rule = "fail_closed_narrative_generation"
	RuleRequireAIProvider       Rule = "require_ai_provider"
	RuleRegistryImmutability    Rule = "enforce_registry_immutability"
	RulePreventPostLockWrites   Rule = "prevent_post_lock_registration"
	RuleRegistryConflictFatal   Rule = "fail_on_registry_conflict"
	RuleProductionStrictness    Rule = "enforce_production_strictness"
	RuleTestModeIsolation       Rule = "prevent_test_mode_leakage"
	RuleFourPlaneStructure      Rule = "enforce_four_plane_structure"
	RuleFailOnMissingPlanes     Rule = "fail_on_missing_planes"
	RuleAuthorityModelSelection Rule = "enforce_authority_model_selection"
	RulePresentationNoMath      Rule = "prevent_presentation_math"
)

var allRules = []Rule{
	RuleFailClosedNarrative,
	RuleRequireAIProvider,
	RuleRegistryImmutability,
	RulePreventPostLockWrites,
	RuleRegistryConflictFatal,
	RuleProductionStrictness,
	RuleTestModeIsolation,
	RuleFourPlaneStructure,
	RuleFailOnMissingPlanes,
	RuleAuthorityModelSelection,
	RulePresentationNoMath,
}

// fixedStrict lists the rules no environment or config may relax. A
// report built on a violation of one of these is wrong, not merely
// incomplete.
var fixedStrict = map[Rule]bool{
	RuleRegistryImmutability:    true,
	RulePreventPostLockWrites:   true,
	RuleRegistryConflictFatal:   true,
	RuleFourPlaneStructure:      true,
	RuleAuthorityModelSelection: true,
	RulePresentationNoMath:      true,
	RuleTestModeIsolation:       true,
}

// GovernanceConfig determines the per-rule enforcement levels. The two
// relaxation switches are development aids and are rejected outright in
// production.
type GovernanceConfig struct {
	Environment            Environment
	DefaultLevel           PolicyLevel
	AllowPartialGeneration bool
	OfflineStructuralMode  bool
}

// Verdict is the governance decision over one pipeline finding.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictWarn
	VerdictReject
)

// Governance applies the per-rule truth policy to pipeline findings.
// Production always runs every rule STRICT, whatever the configured
// level says.
type Governance struct {
	cfg    GovernanceConfig
	level  PolicyLevel
	rules  map[Rule]PolicyLevel
	logger *slog.Logger
}

// NewGovernanceFromConfig builds the rule table deterministically from
// the config. In production both relaxation switches are construction
// errors and the default level is pinned to STRICT.
func NewGovernanceFromConfig(cfg GovernanceConfig, logger *slog.Logger) (*Governance, error) {
	if cfg.Environment == EnvProduction {
		if cfg.AllowPartialGeneration {
			return nil, fmt.Errorf("governance: allow_partial_generation is not permitted in production")
		}
		if cfg.OfflineStructuralMode {
			return nil, fmt.Errorf("governance: offline_structural_mode is not permitted in production")
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	level := cfg.DefaultLevel
	if level == "" || cfg.Environment == EnvProduction {
		level = PolicyStrict
	}

	rules := make(map[Rule]PolicyLevel, len(allRules))
	for _, rule := range allRules {
		if fixedStrict[rule] {
			rules[rule] = PolicyStrict
			continue
		}
		rules[rule] = level
	}
	if cfg.AllowPartialGeneration && rules[RuleFailClosedNarrative] == PolicyStrict {
		rules[RuleFailClosedNarrative] = PolicyWarn
		rules[RuleFailOnMissingPlanes] = PolicyWarn
	}
	if cfg.OfflineStructuralMode && rules[RuleRequireAIProvider] == PolicyStrict {
		rules[RuleRequireAIProvider] = PolicyWarn
	}

	return &Governance{cfg: cfg, level: level, rules: rules, logger: logger}, nil
}

// NewGovernance creates a governance gate with the default rule levels
// for the given policy and environment. Without the relaxation switches
// construction cannot fail.
func NewGovernance(level PolicyLevel, env Environment, logger *slog.Logger) *Governance {
	g, _ := NewGovernanceFromConfig(GovernanceConfig{Environment: env, DefaultLevel: level}, logger)
	return g
}

// EffectiveLevel resolves the enforced default level. Production pins
// STRICT.
func (g *Governance) EffectiveLevel() PolicyLevel { return g.level }

// LevelFor resolves the enforcement level of one named rule. Unknown
// rules are STRICT.
func (g *Governance) LevelFor(rule Rule) PolicyLevel {
	if level, ok := g.rules[rule]; ok {
		return level
	}
	return PolicyStrict
}

// Rules returns a copy of the active rule table.
func (g *Governance) Rules() map[Rule]PolicyLevel {
	out := make(map[Rule]PolicyLevel, len(g.rules))
	for rule, level := range g.rules {
		out[rule] = level
	}
	return out
}

// ruleFor maps a failure tag onto the governing rule. Tags outside the
// table (cancellation, ingest failures, internal errors) have no
// waivable rule and always terminate the run.
func ruleFor(tag Tag) (Rule, bool) {
	switch tag {
	case TagRegistryConflict:
		return RuleRegistryConflictFatal, true
	case TagPipelineViolation:
		return RuleRegistryImmutability, true
	case TagPresentationViolation:
		return RulePresentationNoMath, true
	case TagPlaneViolation:
		return RuleFailOnMissingPlanes, true
	case TagValidationFailed:
		return RuleFailClosedNarrative, true
	case TagAIUnavailable:
		return RuleRequireAIProvider, true
	}
	return "", false
}

// Evaluate decides what happens to a run that hit the given failure.
// Degradable failures (missing narrative, discarded chapters) pass with
// a warning under WARN and OFF; structural defects never do.
func (g *Governance) Evaluate(tag Tag) Verdict {
	rule, ok := ruleFor(tag)
	if !ok {
		return VerdictReject
	}

	switch g.LevelFor(rule) {
	case PolicyWarn:
		g.logger.Warn("Truth policy waived a defect", "tag", tag, "rule", rule, "level", PolicyWarn)
		return VerdictWarn
	case PolicyOff:
		return VerdictAllow
	default:
		return VerdictReject
	}
}
