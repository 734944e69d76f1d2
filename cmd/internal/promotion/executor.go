package promotion

import (
	"context"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/naming"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/retention"
	"go.uber.org/zap"
)

// Executor applies a retention plan. Within a plan the order is fixed: strip urls, then delete, then stop.
// Calls are sequential and never retried, and a failed call is recorded without stopping the batch.
type Executor struct {
	Platform client.InstanceClient
	Codec    naming.Codec
	// DryRun records every planned call as skipped without contacting the platform
	DryRun bool
}

func (e Executor) Execute(ctx context.Context, plan retention.Plan) (Report, error) {
	matcher, err := e.Codec.Matcher(plan.BaseIdentifier)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		PlanId:         plan.Id,
		BaseIdentifier: plan.BaseIdentifier,
		DryRun:         e.DryRun,
		StripUrls:      newOperationResult(StripUrls),
		Delete:         newOperationResult(Delete),
		Stop:           newOperationResult(Stop),
	}

	if newest, ok := plan.Newest(); ok {
		report.Primary = newest.Name()
	}

	for _, build := range plan.ToStripUrls {
		// the uris come from the snapshot taken when the plan was made, never from a fresh read
		secondaryUris := matcher.SecondaryUris(build.Instance.Uris)

		e.apply(&report.StripUrls, build, func() error {
			zap.L().Info("Update app URLs",
				zap.String("app", build.Name()),
				zap.Strings("uris", secondaryUris),
				zap.String("plan", plan.Id))
			return e.Platform.UpdateRoutes(ctx, build.Name(), secondaryUris)
		})
	}

	for _, build := range plan.ToDelete {
		e.apply(&report.Delete, build, func() error {
			zap.L().Info("Delete obsolete app", zap.String("app", build.Name()), zap.String("plan", plan.Id))
			return e.Platform.DeleteInstance(ctx, build.Name())
		})
	}

	for _, build := range plan.ToStop {
		if report.Delete.succeeded(build.Name()) {
			report.Stop.Skipped = append(report.Stop.Skipped, build.Name())
			continue
		}

		e.apply(&report.Stop, build, func() error {
			zap.L().Info("Stop non primary app", zap.String("app", build.Name()), zap.String("plan", plan.Id))
			return e.Platform.StopInstance(ctx, build.Name())
		})
	}

	return report, nil
}

func (e Executor) apply(result *OperationResult, build retention.Build, call func() error) {
	if e.DryRun {
		zap.L().Info("Dry run, skipping "+string(result.Kind), zap.String("app", build.Name()))
		result.Skipped = append(result.Skipped, build.Name())
		return
	}

	if err := call(); err != nil {
		failure := newFailure(build, err)
		zap.L().Warn("An error occurred, this app might not exist anymore",
			zap.String("operation", string(result.Kind)),
			zap.String("app", build.Name()),
			zap.Bool("benign", failure.Benign),
			zap.Error(err))
		result.Failed = append(result.Failed, failure)
		return
	}

	result.Succeeded = append(result.Succeeded, build.Name())
}
