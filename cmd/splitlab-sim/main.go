// Command splitlab-sim runs a self-contained experimentation demo: it drives
// a fixed-split test and a bandit test against the configured store with
// synthetic subjects, then prints the analysis of each as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"splitlab/internal/engine"
	"splitlab/internal/payload"
)

func main() {
	subjects := flag.Int("subjects", 2000, "number of synthetic subjects per experiment")
	seed := flag.Int64("seed", 1, "random seed for subject behavior and bandit sampling")
	trace := flag.Bool("trace", false, "emit JSON trace spans to stderr")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), logger, *subjects, *seed, *trace); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, subjects int, seed int64, trace bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetricsRecorder(engine.NewExpvarMetricsRecorder("splitlab_sim")),
		engine.WithRandSource(rand.New(rand.NewSource(seed))),
	}
	if trace {
		opts = append(opts, engine.WithTracer(engine.NewJSONTracer(os.Stderr)))
	}
	if os.Getenv("SPLITLAB_PAYLOAD_DRIVER") != "" {
		payloads, err := payload.Open(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithPayloadStore(payloads))
	}
	svc := engine.New(store, opts...)

	behavior := rand.New(rand.NewSource(seed + 1))
	if err := runFixedSplit(ctx, svc, behavior, subjects); err != nil {
		return err
	}
	return runBandit(ctx, svc, behavior, subjects)
}

func openStore() (engine.PersistentStore, error) {
	if os.Getenv("SPLITLAB_STORAGE_DRIVER") == "" {
		if err := os.Setenv("SPLITLAB_STORAGE_DRIVER", string(engine.StorageMemory)); err != nil {
			return nil, err
		}
	}
	return engine.OpenPersistentStore(engine.NewDefaultRulesEngine())
}

// runFixedSplit drives a 50/50 subject-line test where variant B converts at
// twice the control's true rate, then analyzes and auto-declares if possible.
func runFixedSplit(ctx context.Context, svc *engine.Service, behavior *rand.Rand, subjects int) error {
	exp, _, err := svc.CreateTextTest(ctx, "subject line test", "email",
		[]string{"Your weekly update", "Don't miss this week's update"})
	if err != nil {
		return err
	}
	if _, _, err := svc.StartExperiment(ctx, exp.ID); err != nil {
		return err
	}

	trueRates := map[string]float64{"A": 0.05, "B": 0.10}
	for i := 0; i < subjects; i++ {
		decision, _, err := svc.Assign(ctx, exp.ID, fmt.Sprintf("subject-%06d", i))
		if err != nil {
			return err
		}
		if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, engine.EventImpression, nil); err != nil {
			return err
		}
		if behavior.Float64() < trueRates[decision.VariantCode] {
			if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, engine.EventConversion, nil); err != nil {
				return err
			}
		}
	}

	analysis, _, err := svc.Analyze(ctx, exp.ID)
	if err != nil {
		return err
	}
	if analysis.CanDeclareWinner {
		if _, _, err := svc.DeclareWinnerAuto(ctx, exp.ID); err != nil {
			return err
		}
	}
	return printResult("fixed_split", analysis)
}

// runBandit drives an adaptive amount-list test with the same true rates and
// reports how the arms allocated traffic.
func runBandit(ctx context.Context, svc *engine.Service, behavior *rand.Rand, subjects int) error {
	exp, _, err := svc.CreateExperiment(ctx, engine.ExperimentDefinition{
		Name:       "adaptive ask ladder",
		ChannelTag: "sms",
		Mode:       engine.ModeBandit,
		Variants: []engine.VariantDefinition{
			{Code: "A", Payload: json.RawMessage(`{"amounts":[10,25,50]}`), IsControl: true},
			{Code: "B", Payload: json.RawMessage(`{"amounts":[15,35,75]}`)},
		},
	})
	if err != nil {
		return err
	}
	if _, _, err := svc.StartExperiment(ctx, exp.ID); err != nil {
		return err
	}

	trueRates := map[string]float64{"A": 0.05, "B": 0.10}
	for i := 0; i < subjects; i++ {
		decision, _, err := svc.Assign(ctx, exp.ID, fmt.Sprintf("caller-%06d", i))
		if err != nil {
			return err
		}
		eventType := engine.EventImpression
		var value *float64
		if behavior.Float64() < trueRates[decision.VariantCode] {
			eventType = engine.EventConversion
			v := 25.0
			value = &v
		}
		if _, _, err := svc.RecordEvent(ctx, decision.AssignmentID, eventType, value); err != nil {
			return err
		}
	}

	analysis, _, err := svc.Analyze(ctx, exp.ID)
	if err != nil {
		return err
	}
	return printResult("bandit", analysis)
}

func printResult(label string, analysis engine.AnalysisResult) error {
	out := struct {
		Mode   string                `json:"mode"`
		Result engine.AnalysisResult `json:"result"`
	}{Mode: label, Result: analysis}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
