package woningcheck

import (
	"testing"
)

func TestProductionPinsStrict(t *testing.T) {
	g := NewGovernance(PolicyOff, EnvProduction, nil)
	if g.EffectiveLevel() != PolicyStrict {
		t.Errorf("production level = %s, want STRICT", g.EffectiveLevel())
	}
	if g.Evaluate(TagAIUnavailable) != VerdictReject {
		t.Error("production must reject partial generation")
	}
}

func TestStructuralDefectsAreNeverWaived(t *testing.T) {
	for _, level := range []PolicyLevel{PolicyStrict, PolicyWarn, PolicyOff} {
		g := NewGovernance(level, EnvDevelopment, nil)
		for _, tag := range []Tag{TagRegistryConflict, TagPresentationViolation, TagPipelineViolation} {
			if g.Evaluate(tag) != VerdictReject {
				t.Errorf("level %s waived %s", level, tag)
			}
		}
	}
}

func TestWarnAndOffWaiveDegradableDefects(t *testing.T) {
	g := NewGovernance(PolicyWarn, EnvDevelopment, nil)
	if g.Evaluate(TagAIUnavailable) != VerdictWarn {
		t.Error("WARN should waive an AI outage with a warning")
	}

	g = NewGovernance(PolicyOff, EnvDevelopment, nil)
	if g.Evaluate(TagValidationFailed) != VerdictAllow {
		t.Error("OFF should silently allow degradable defects")
	}
}

func TestProductionRejectsRelaxedConstruction(t *testing.T) {
	if _, err := NewGovernanceFromConfig(GovernanceConfig{
		Environment:            EnvProduction,
		AllowPartialGeneration: true,
	}, nil); err == nil {
		t.Error("production must reject allow_partial_generation at construction")
	}
	if _, err := NewGovernanceFromConfig(GovernanceConfig{
		Environment:           EnvProduction,
		OfflineStructuralMode: true,
	}, nil); err == nil {
		t.Error("production must reject offline_structural_mode at construction")
	}

	g, err := NewGovernanceFromConfig(GovernanceConfig{
		Environment:            EnvDevelopment,
		AllowPartialGeneration: true,
	}, nil)
	if err != nil {
		t.Fatalf("development config rejected: %v", err)
	}
	if g.Evaluate(TagValidationFailed) != VerdictWarn {
		t.Error("partial generation should downgrade narrative failures to warnings")
	}
}

func TestFixedRulesIgnoreRelaxation(t *testing.T) {
	g, err := NewGovernanceFromConfig(GovernanceConfig{
		Environment:            EnvDevelopment,
		DefaultLevel:           PolicyOff,
		AllowPartialGeneration: true,
		OfflineStructuralMode:  true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for rule := range fixedStrict {
		if g.LevelFor(rule) != PolicyStrict {
			t.Errorf("rule %s relaxed to %s", rule, g.LevelFor(rule))
		}
	}
	if g.LevelFor(RuleFailClosedNarrative) == PolicyStrict {
		t.Error("relaxable rule should follow the configured level")
	}
}

func TestSettingsFromEnvironment(t *testing.T) {
	t.Setenv("WONING_ENV", "production")
	t.Setenv("WONING_MAX_WORKERS", "8")
	t.Setenv("WONING_MARKET_MEAN", "4200")
	t.Setenv("WONING_TRUTH_POLICY", "WARN")

	s := LoadSettings()
	snap := s.Snapshot()
	if snap.Env != EnvProduction {
		t.Errorf("env = %s", snap.Env)
	}
	if snap.MaxWorkers != 8 || snap.MarketMeanPerM2 != 4200 {
		t.Errorf("workers/mean = %d/%d", snap.MaxWorkers, snap.MarketMeanPerM2)
	}
	if snap.TruthPolicy != PolicyWarn {
		t.Errorf("policy = %s", snap.TruthPolicy)
	}

	// No drift without an explicit reload.
	t.Setenv("WONING_MAX_WORKERS", "2")
	if s.Snapshot().MaxWorkers != 8 {
		t.Error("settings changed without Reload")
	}
	s.Reload()
	if s.Snapshot().MaxWorkers != 2 {
		t.Error("Reload did not pick up the environment")
	}
}

func TestSettingsDefaults(t *testing.T) {
	t.Setenv("WONING_ENV", "")
	t.Setenv("WONING_MAX_WORKERS", "")
	t.Setenv("WONING_TRUTH_POLICY", "")

	snap := LoadSettings().Snapshot()
	if snap.Env != EnvDevelopment {
		t.Errorf("default env = %s", snap.Env)
	}
	if snap.MaxWorkers != 4 {
		t.Errorf("default workers = %d", snap.MaxWorkers)
	}
	if snap.TruthPolicy != PolicyStrict {
		t.Errorf("default policy = %s", snap.TruthPolicy)
	}
}
