package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/wmclean/test/integration/cli/support"
	"github.com/cucumber/godog"
)

// TestFeatures runs every feature file as a subtest. Scenarios change the
// working directory, so they run sequentially.
func TestFeatures(t *testing.T) {
	featureFiles, err := filepath.Glob(filepath.Join("features", "*.feature"))
	if err != nil {
		t.Fatalf("Failed to find feature files: %v", err)
	}
	if len(featureFiles) == 0 {
		t.Fatal("No feature files found in features/")
	}

	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "pretty"
	}

	for _, featureFile := range featureFiles {
		featureName := filepath.Base(featureFile)
		t.Run(featureName, func(t *testing.T) {
			suite := godog.TestSuite{
				Name:                featureName,
				ScenarioInitializer: InitializeScenario,
				Options: &godog.Options{
					Format:   format,
					Paths:    []string{featureFile},
					Tags:     os.Getenv("GODOG_TAGS"),
					TestingT: t,
					Strict:   true,
				},
			}
			if suite.Run() != 0 {
				t.Fatalf("feature %s failed", featureName)
			}
		})
	}
}

// InitializeScenario creates a fresh sandbox per scenario and registers
// the steps.
func InitializeScenario(sc *godog.ScenarioContext) {
	testCtx := support.NewTestContext()

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, testCtx.Setup()
	})

	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		return ctx, testCtx.Cleanup()
	})

	support.RegisterSteps(sc, testCtx)
}
