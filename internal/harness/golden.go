package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden runs a scenario and compares its text report with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario, opts ...Option) (*Report, error) {
	t.Helper()

	report, err := Run(context.Background(), s, opts...)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, s.Name, report)
	return report, nil
}

// AssertGolden compares an already produced report with its golden file.
func AssertGolden(t *testing.T, name string, report *Report) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(report.Text()))
}
