package promotion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/retention"
	"github.com/samber/lo"
)

type OperationKind string

const (
	StripUrls OperationKind = "strip-urls"
	Delete    OperationKind = "delete"
	Stop      OperationKind = "stop"
)

// Failure records one platform call that did not succeed. A failure is benign when the instance
// was already gone, which is routine drift rather than a problem.
type Failure struct {
	Instance    string `json:"instance"`
	BuildNumber int    `json:"buildNumber"`
	Reason      string `json:"reason"`
	Benign      bool   `json:"benign"`
	err         error
}

func newFailure(build retention.Build, err error) Failure {
	return Failure{
		Instance:    build.Name(),
		BuildNumber: build.Identity.BuildNumber,
		Reason:      err.Error(),
		Benign:      errors.Is(err, client.ErrNotFound),
		err:         err,
	}
}

func (f Failure) Err() error {
	return f.err
}

type OperationResult struct {
	Kind      OperationKind `json:"kind"`
	Succeeded []string      `json:"succeeded"`
	Failed    []Failure     `json:"failed"`
	Skipped   []string      `json:"skipped"`
}

func newOperationResult(kind OperationKind) OperationResult {
	return OperationResult{
		Kind:      kind,
		Succeeded: []string{},
		Failed:    []Failure{},
		Skipped:   []string{},
	}
}

func (o OperationResult) succeeded(name string) bool {
	return lo.Contains(o.Succeeded, name)
}

// Report is the outcome of executing one plan.
type Report struct {
	PlanId         string          `json:"planId"`
	BaseIdentifier string          `json:"baseIdentifier"`
	Primary        string          `json:"primary,omitempty"`
	DryRun         bool            `json:"dryRun"`
	StripUrls      OperationResult `json:"stripUrls"`
	Delete         OperationResult `json:"delete"`
	Stop           OperationResult `json:"stop"`
}

func (r Report) Operations() []OperationResult {
	return []OperationResult{r.StripUrls, r.Delete, r.Stop}
}

func (r Report) Failures() []Failure {
	return lo.FlatMap(r.Operations(), func(item OperationResult, index int) []Failure {
		return item.Failed
	})
}

func (r Report) FailureCount() int {
	return len(r.Failures())
}

func (r Report) NonBenignFailureCount() int {
	return lo.CountBy(r.Failures(), func(item Failure) bool {
		return !item.Benign
	})
}

// Summary renders counts per operation kind, e.g.
// "myapp: strip-urls 2 succeeded 0 failed, delete 1 succeeded 1 failed, stop 0 succeeded 0 failed".
func (r Report) Summary() string {
	parts := lo.Map(r.Operations(), func(item OperationResult, index int) string {
		summary := fmt.Sprintf("%s %d succeeded %d failed", item.Kind, len(item.Succeeded), len(item.Failed))
		if len(item.Skipped) != 0 {
			summary += fmt.Sprintf(" %d skipped", len(item.Skipped))
		}
		return summary
	})

	return r.BaseIdentifier + ": " + strings.Join(parts, ", ")
}
