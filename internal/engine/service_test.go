package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"splitlab/internal/engine"
	paymem "splitlab/internal/payload/memory"
	"splitlab/pkg/domain"
)

func newTestService(opts ...engine.Option) *engine.Service {
	opts = append([]engine.Option{engine.WithRandSource(rand.New(rand.NewSource(1)))}, opts...)
	return engine.NewInMemoryService(engine.NewDefaultRulesEngine(), opts...)
}

func abDefinition(mode engine.TestMode) engine.ExperimentDefinition {
	return engine.ExperimentDefinition{
		Name:       "ab test",
		ChannelTag: "email",
		Mode:       mode,
		Variants: []engine.VariantDefinition{
			{Code: "A", Payload: json.RawMessage(`{"text":"control"}`), AllocationPct: 50, IsControl: true},
			{Code: "B", Payload: json.RawMessage(`{"text":"challenger"}`), AllocationPct: 50},
		},
	}
}

func startedAB(t *testing.T, svc *engine.Service, mode engine.TestMode) engine.Experiment {
	t.Helper()
	ctx := context.Background()
	exp, _, err := svc.CreateExperiment(ctx, abDefinition(mode))
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	started, _, err := svc.StartExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("start experiment: %v", err)
	}
	return started
}

func TestCreateExperimentDefaults(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	exp, res, err := svc.CreateExperiment(ctx, engine.ExperimentDefinition{
		Name: "defaults",
		Variants: []engine.VariantDefinition{
			{Code: "A"},
			{Code: "B"},
		},
	})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}
	if exp.State != engine.StateDraft {
		t.Fatalf("expected draft state, got %s", exp.State)
	}
	if exp.Mode != engine.ModeFixedSplit {
		t.Fatalf("expected fixed_split default, got %s", exp.Mode)
	}
	if exp.ConfidenceThreshold != 0.95 || exp.MinSampleSize != 100 {
		t.Fatalf("expected default thresholds, got %+v", exp)
	}
	if exp.PrimaryMetric != "conversion_rate" {
		t.Fatalf("expected conversion_rate metric, got %s", exp.PrimaryMetric)
	}

	variants := svc.Variants(exp.ID)
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}
	if !variants[0].IsControl || variants[1].IsControl {
		t.Fatalf("expected the first variant to default to control: %+v", variants)
	}
}

func TestCreateExperimentValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		def  engine.ExperimentDefinition
	}{
		{"empty name", engine.ExperimentDefinition{Name: "  "}},
		{"duplicate codes", engine.ExperimentDefinition{Name: "dup", Variants: []engine.VariantDefinition{{Code: "A"}, {Code: "A"}}}},
		{"two controls", engine.ExperimentDefinition{Name: "controls", Variants: []engine.VariantDefinition{{Code: "A", IsControl: true}, {Code: "B", IsControl: true}}}},
		{"bad mode", engine.ExperimentDefinition{Name: "mode", Mode: "adaptive"}},
		{"allocation range", engine.ExperimentDefinition{Name: "alloc", Variants: []engine.VariantDefinition{{Code: "A", AllocationPct: 120}}}},
	}
	for _, tc := range cases {
		_, _, err := svc.CreateExperiment(ctx, tc.def)
		var verr domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestStartExperimentNormalizesAllocations(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	exp, _, err := svc.CreateExperiment(ctx, engine.ExperimentDefinition{
		Name: "normalize",
		Variants: []engine.VariantDefinition{
			{Code: "A"}, {Code: "B"}, {Code: "C"},
		},
	})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	if _, _, err := svc.StartExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("start experiment: %v", err)
	}
	total := 0.0
	for _, v := range svc.Variants(exp.ID) {
		if v.AllocationPct <= 0 {
			t.Fatalf("variant %s allocation not normalized: %v", v.Code, v.AllocationPct)
		}
		total += v.AllocationPct
	}
	if total < 99.999 || total > 100.001 {
		t.Fatalf("normalized allocations sum to %v, want 100", total)
	}
}

func TestStartExperimentRejectsBadConfiguration(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	single, _, err := svc.CreateExperiment(ctx, engine.ExperimentDefinition{
		Name:     "one variant",
		Variants: []engine.VariantDefinition{{Code: "A"}},
	})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	var verr domain.ValidationError
	if _, _, err := svc.StartExperiment(ctx, single.ID); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for single variant, got %v", err)
	}

	skewed, _, err := svc.CreateExperiment(ctx, engine.ExperimentDefinition{
		Name: "bad split",
		Variants: []engine.VariantDefinition{
			{Code: "A", AllocationPct: 60},
			{Code: "B", AllocationPct: 50},
		},
	})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	if _, _, err := svc.StartExperiment(ctx, skewed.ID); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for 110%% split, got %v", err)
	}
}

func TestLifecycleLegality(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	exp := startedAB(t, svc, engine.ModeFixedSplit)

	var serr domain.StateError
	if _, _, err := svc.AddVariant(ctx, exp.ID, engine.VariantDefinition{Code: "C"}); !errors.As(err, &serr) {
		t.Fatalf("expected state error when adding variants to a running experiment, got %v", err)
	}
	if _, _, err := svc.UpdateVariant(ctx, exp.ID, "A", func(v *engine.Variant) error { return nil }); !errors.As(err, &serr) {
		t.Fatalf("expected state error when editing variants on a running experiment, got %v", err)
	}
	if _, err := svc.RemoveVariant(ctx, exp.ID, "A"); !errors.As(err, &serr) {
		t.Fatalf("expected state error when removing variants from a running experiment, got %v", err)
	}

	draft, _, err := svc.CreateExperiment(ctx, abDefinition(engine.ModeFixedSplit))
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if _, _, err := svc.DeclareWinner(ctx, draft.ID, "A"); !errors.As(err, &serr) {
		t.Fatalf("expected state error declaring a winner on a draft, got %v", err)
	}
	if _, _, err := svc.PauseExperiment(ctx, draft.ID); !errors.As(err, &serr) {
		t.Fatalf("expected state error pausing a draft, got %v", err)
	}
	if _, _, err := svc.Analyze(ctx, draft.ID); !errors.As(err, &serr) {
		t.Fatalf("expected state error analyzing a draft, got %v", err)
	}

	cancelled, _, err := svc.CancelExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("cancel experiment: %v", err)
	}
	if cancelled.State != engine.StateCancelled || cancelled.EndedAt == nil {
		t.Fatalf("expected cancelled terminal state, got %+v", cancelled)
	}
	for _, attempt := range []func() error{
		func() error { _, _, err := svc.StartExperiment(ctx, exp.ID); return err },
		func() error { _, _, err := svc.PauseExperiment(ctx, exp.ID); return err },
		func() error { _, _, err := svc.ResumeExperiment(ctx, exp.ID); return err },
		func() error { _, _, err := svc.CompleteExperiment(ctx, exp.ID); return err },
		func() error { _, _, err := svc.CancelExperiment(ctx, exp.ID); return err },
		func() error { _, _, err := svc.DeclareWinner(ctx, exp.ID, "A"); return err },
	} {
		if err := attempt(); !errors.As(err, &serr) {
			t.Fatalf("expected state error on terminal experiment, got %v", err)
		}
	}
}

func TestAssignIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	exp := startedAB(t, svc, engine.ModeFixedSplit)

	first, _, err := svc.Assign(ctx, exp.ID, "contact-42")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !first.Created {
		t.Fatalf("expected first assignment to be created")
	}
	for i := 0; i < 10; i++ {
		again, _, err := svc.Assign(ctx, exp.ID, "contact-42")
		if err != nil {
			t.Fatalf("reassign: %v", err)
		}
		if again.Created {
			t.Fatalf("repeat assignment must not create a new record")
		}
		if again.VariantCode != first.VariantCode || again.AssignmentID != first.AssignmentID {
			t.Fatalf("assignment changed between calls: %+v vs %+v", again, first)
		}
	}

	var total int64
	for _, v := range svc.Variants(exp.ID) {
		total += v.SampleSize
	}
	if total != 1 {
		t.Fatalf("expected sample size to grow exactly once, got %d", total)
	}
}

func TestAssignStateRules(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	draft, _, err := svc.CreateExperiment(ctx, abDefinition(engine.ModeFixedSplit))
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	var serr domain.StateError
	if _, _, err := svc.Assign(ctx, draft.ID, "contact-1"); !errors.As(err, &serr) {
		t.Fatalf("expected state error assigning on a draft, got %v", err)
	}

	exp := startedAB(t, svc, engine.ModeFixedSplit)
	existing, _, err := svc.Assign(ctx, exp.ID, "contact-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, _, err := svc.PauseExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// Paused experiments accept no new subjects but keep serving existing
	// assignments and recording their events.
	if _, _, err := svc.Assign(ctx, exp.ID, "contact-2"); !errors.As(err, &serr) {
		t.Fatalf("expected state error assigning a new subject while paused, got %v", err)
	}
	repeat, _, err := svc.Assign(ctx, exp.ID, "contact-1")
	if err != nil {
		t.Fatalf("existing assignment lookup while paused: %v", err)
	}
	if repeat.AssignmentID != existing.AssignmentID {
		t.Fatalf("paused lookup returned a different assignment")
	}
	if _, _, err := svc.RecordEvent(ctx, existing.AssignmentID, engine.EventConversion, nil); err != nil {
		t.Fatalf("record event while paused: %v", err)
	}
}

func TestRecordEventUpdatesCounters(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	exp := startedAB(t, svc, engine.ModeFixedSplit)

	decision, _, err := svc.Assign(ctx, exp.ID, "contact-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, engine.EventImpression, nil); err != nil {
		t.Fatalf("record impression: %v", err)
	}
	value := 25.0
	if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, engine.EventConversion, &value); err != nil {
		t.Fatalf("record conversion: %v", err)
	}
	extra := 5.0
	if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, engine.EventCustom, &extra); err != nil {
		t.Fatalf("record custom: %v", err)
	}

	var variant engine.Variant
	for _, v := range svc.Variants(exp.ID) {
		if v.Code == decision.VariantCode {
			variant = v
		}
	}
	if variant.Impressions != 1 || variant.Conversions != 1 {
		t.Fatalf("unexpected counters: %+v", variant)
	}
	if variant.TotalValue != 30 {
		t.Fatalf("expected total value 30, got %v", variant.TotalValue)
	}
	if variant.ConversionRate != 1 {
		t.Fatalf("expected conversion rate 1, got %v", variant.ConversionRate)
	}
	if variant.ValuePerConversion != 30 {
		t.Fatalf("expected value per conversion 30, got %v", variant.ValuePerConversion)
	}

	events := svc.Events(exp.ID)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	var nferr domain.NotFoundError
	if _, _, err := svc.RecordEvent(ctx, "missing-assignment", engine.EventImpression, nil); !errors.As(err, &nferr) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	var verr domain.ValidationError
	if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, "click", nil); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown event type, got %v", err)
	}
}

func TestBanditAssignmentAndArmUpdates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	exp := startedAB(t, svc, engine.ModeBandit)

	decision, _, err := svc.Assign(ctx, exp.ID, "caller-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	store := svc.Store()
	var arms []engine.BanditArm
	if err := store.View(ctx, func(view engine.TransactionView) error {
		arms = view.ListBanditArms(exp.ID)
		return nil
	}); err != nil {
		t.Fatalf("view arms: %v", err)
	}
	if len(arms) != 2 {
		t.Fatalf("expected lazily created arms for both variants, got %d", len(arms))
	}
	for _, arm := range arms {
		if arm.VariantCode == decision.VariantCode {
			if arm.Pulls != 1 {
				t.Fatalf("expected one pull on the chosen arm, got %+v", arm)
			}
		} else if arm.Alpha != 1 || arm.Beta != 1 || arm.Pulls != 0 {
			t.Fatalf("expected untouched prior on the other arm, got %+v", arm)
		}
	}

	if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, engine.EventImpression, nil); err != nil {
		t.Fatalf("record impression: %v", err)
	}
	if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, engine.EventConversion, nil); err != nil {
		t.Fatalf("record conversion: %v", err)
	}
	if err := store.View(ctx, func(view engine.TransactionView) error {
		for _, arm := range view.ListBanditArms(exp.ID) {
			if arm.VariantCode != decision.VariantCode {
				continue
			}
			if arm.Beta != 2 {
				t.Fatalf("impression should bump beta, got %+v", arm)
			}
			if arm.Alpha != 2 || arm.Rewards != 1 {
				t.Fatalf("conversion should bump alpha and rewards, got %+v", arm)
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("view arms: %v", err)
	}
}

func TestAnalyzePersistsSnapshots(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	exp := startedAB(t, svc, engine.ModeFixedSplit)

	if _, _, err := svc.Analyze(ctx, exp.ID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, _, err := svc.Analyze(ctx, exp.ID); err != nil {
		t.Fatalf("analyze again: %v", err)
	}
	snapshots := svc.Snapshots(exp.ID)
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 append-only snapshots, got %d", len(snapshots))
	}
	if snapshots[0].Result.ExperimentID != exp.ID {
		t.Fatalf("snapshot carries wrong experiment: %+v", snapshots[0])
	}
}

func TestEndToEndScenario(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	exp := startedAB(t, svc, engine.ModeFixedSplit)

	assigned := map[string][]string{}
	for i := 0; i < 500; i++ {
		decision, _, err := svc.Assign(ctx, exp.ID, fmt.Sprintf("contact-%03d", i))
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		assigned[decision.VariantCode] = append(assigned[decision.VariantCode], decision.AssignmentID)
	}
	if len(assigned["A"]) < 100 || len(assigned["B"]) < 100 {
		t.Fatalf("unexpected split: A=%d B=%d", len(assigned["A"]), len(assigned["B"]))
	}

	convert := func(ids []string, pct int) {
		for _, id := range ids[:len(ids)*pct/100] {
			if _, _, err := svc.RecordEvent(ctx, id, engine.EventConversion, nil); err != nil {
				t.Fatalf("record conversion: %v", err)
			}
		}
	}
	convert(assigned["A"], 15)
	convert(assigned["B"], 30)

	analysis, _, err := svc.Analyze(ctx, exp.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.CurrentWinner != "B" {
		t.Fatalf("expected B as current winner, got %q", analysis.CurrentWinner)
	}
	if analysis.Confidence < 0.95 {
		t.Fatalf("expected confidence at or above 0.95, got %v", analysis.Confidence)
	}
	if !analysis.CanDeclareWinner {
		t.Fatalf("expected winner guard satisfied: %+v", analysis)
	}
	if analysis.TotalSample != 500 {
		t.Fatalf("expected total sample 500, got %d", analysis.TotalSample)
	}

	declared, _, err := svc.DeclareWinnerAuto(ctx, exp.ID)
	if err != nil {
		t.Fatalf("declare winner: %v", err)
	}
	if declared.State != engine.StateWinnerDeclared {
		t.Fatalf("expected winner_declared, got %s", declared.State)
	}
	if declared.Winner == nil || declared.Winner.VariantCode != "B" || !declared.Winner.AutoDeclared {
		t.Fatalf("unexpected winner record: %+v", declared.Winner)
	}
	if declared.Winner.Lift <= 0 {
		t.Fatalf("expected positive lift for the winner, got %v", declared.Winner.Lift)
	}
}

func TestDeclareWinnerAutoRequiresGuard(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	exp := startedAB(t, svc, engine.ModeFixedSplit)

	var verr domain.ValidationError
	if _, _, err := svc.DeclareWinnerAuto(ctx, exp.ID); !errors.As(err, &verr) {
		t.Fatalf("expected validation error before the guard is met, got %v", err)
	}
}

func TestDeclareWinnerManual(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	exp := startedAB(t, svc, engine.ModeFixedSplit)

	var verr domain.ValidationError
	if _, _, err := svc.DeclareWinner(ctx, exp.ID, "Z"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown variant, got %v", err)
	}

	declared, _, err := svc.DeclareWinner(ctx, exp.ID, "B")
	if err != nil {
		t.Fatalf("declare winner: %v", err)
	}
	if declared.Winner == nil || declared.Winner.VariantCode != "B" || declared.Winner.AutoDeclared {
		t.Fatalf("unexpected winner record: %+v", declared.Winner)
	}
}

func TestShorthandCreators(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	text, _, err := svc.CreateTextTest(ctx, "subject lines", "email", []string{"Hello", "Hi there", "Hey"})
	if err != nil {
		t.Fatalf("create text test: %v", err)
	}
	variants := svc.Variants(text.ID)
	if len(variants) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(variants))
	}
	if variants[0].Code != "A" || !variants[0].IsControl {
		t.Fatalf("expected A as control, got %+v", variants[0])
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(variants[1].Payload.Raw(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Text != "Hi there" {
		t.Fatalf("unexpected payload text %q", payload.Text)
	}

	amounts, _, err := svc.CreateAmountListTest(ctx, "ask ladders", "sms", [][]float64{{10, 25}, {15, 35}})
	if err != nil {
		t.Fatalf("create amount list test: %v", err)
	}
	if amounts.PrimaryMetric != "value_per_conversion" {
		t.Fatalf("expected value metric, got %s", amounts.PrimaryMetric)
	}

	var verr domain.ValidationError
	if _, _, err := svc.CreateTextTest(ctx, "too few", "email", []string{"only one"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for one text, got %v", err)
	}
}

func TestPayloadOffload(t *testing.T) {
	payloads := paymem.New()
	svc := newTestService(engine.WithPayloadStore(payloads))
	ctx := context.Background()

	big, err := json.Marshal(map[string]string{"body": string(bytes.Repeat([]byte("x"), 16<<10))})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	exp, _, err := svc.CreateExperiment(ctx, engine.ExperimentDefinition{
		Name: "offload",
		Variants: []engine.VariantDefinition{
			{Code: "A", Payload: json.RawMessage(`{"body":"small"}`), IsControl: true},
			{Code: "B", Payload: big},
		},
	})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}

	variants := svc.Variants(exp.ID)
	for _, v := range variants {
		switch v.Code {
		case "A":
			if v.PayloadRef != "" || !v.Payload.Defined() {
				t.Fatalf("small payload should stay inline: %+v", v)
			}
		case "B":
			if v.PayloadRef == "" || v.Payload.Defined() {
				t.Fatalf("large payload should be offloaded: ref=%q", v.PayloadRef)
			}
		}
	}

	if _, _, err := svc.StartExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 50; i++ {
		decision, _, err := svc.Assign(ctx, exp.ID, fmt.Sprintf("contact-%d", i))
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if decision.VariantCode == "B" {
			if !bytes.Equal(decision.Payload, big) {
				t.Fatalf("offloaded payload not resolved on assignment")
			}
			return
		}
	}
	t.Fatalf("no subject landed in the offloaded variant")
}

func TestSweepEndConditions(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	maxSamples := int64(10)
	exp, _, err := svc.CreateExperiment(ctx, engine.ExperimentDefinition{
		Name:         "bounded",
		EndCondition: &domain.EndCondition{MaxSamples: &maxSamples},
		Variants: []engine.VariantDefinition{
			{Code: "A", IsControl: true},
			{Code: "B"},
		},
	})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	if _, _, err := svc.StartExperiment(ctx, exp.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	completed, err := svc.SweepEndConditions(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(completed) != 0 {
		t.Fatalf("sweep completed experiments before the bound: %+v", completed)
	}
	var verr domain.ValidationError
	if _, _, err := svc.CompleteExperiment(ctx, exp.ID); !errors.As(err, &verr) {
		t.Fatalf("expected validation error completing before the bound, got %v", err)
	}

	for i := 0; i < int(maxSamples); i++ {
		if _, _, err := svc.Assign(ctx, exp.ID, fmt.Sprintf("contact-%d", i)); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	completed, err = svc.SweepEndConditions(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != exp.ID || completed[0].State != engine.StateCompleted {
		t.Fatalf("expected the bounded experiment completed, got %+v", completed)
	}
}

func TestWithClockControlsTimestamps(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(engine.WithClock(engine.ClockFunc(func() time.Time { return frozen })))
	ctx := context.Background()

	exp := startedAB(t, svc, engine.ModeFixedSplit)
	if exp.StartedAt == nil || !exp.StartedAt.Equal(frozen) {
		t.Fatalf("expected StartedAt %v, got %+v", frozen, exp.StartedAt)
	}

	declared, _, err := svc.DeclareWinner(ctx, exp.ID, "B")
	if err != nil {
		t.Fatalf("declare winner: %v", err)
	}
	if declared.Winner == nil || !declared.Winner.DeclaredAt.Equal(frozen) {
		t.Fatalf("expected DeclaredAt %v, got %+v", frozen, declared.Winner)
	}
	if declared.EndedAt == nil || !declared.EndedAt.Equal(frozen) {
		t.Fatalf("expected EndedAt %v, got %+v", frozen, declared.EndedAt)
	}
}
