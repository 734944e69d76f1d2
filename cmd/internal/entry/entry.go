package entry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/args"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/collections"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/logstream"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/naming"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/orphans"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/promotion"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/retention"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// GroupError is a planning failure that abandoned every change to one app.
type GroupError struct {
	BaseIdentifier string `json:"baseIdentifier"`
	Error          string `json:"error"`
}

// RunReport is written as report.json once a goal completes.
type RunReport struct {
	Goal        string             `json:"goal"`
	DryRun      bool               `json:"dryRun"`
	Plans       []promotion.Report `json:"plans,omitempty"`
	GroupErrors []GroupError       `json:"groupErrors,omitempty"`
	Orphans     *orphans.Report    `json:"orphanRoutes,omitempty"`
}

func (r RunReport) NonBenignFailureCount() int {
	count := lo.SumBy(r.Plans, func(item promotion.Report) int {
		return item.NonBenignFailureCount()
	})

	if r.Orphans != nil {
		count += r.Orphans.NonBenignFailureCount()
	}

	return count
}

// Failed decides the exit code. Abandoned groups always fail the run, failed platform calls only
// when failOnError is set, and calls that failed because the target was already gone never do.
func (r RunReport) Failed(failOnError bool) bool {
	if len(r.GroupErrors) != 0 {
		return true
	}

	return failOnError && r.NonBenignFailureCount() != 0
}

func NewPlatformClient(parseArgs args.Arguments) *client.CloudFoundryApiClient {
	return &client.CloudFoundryApiClient{
		Url:          strings.TrimSuffix(parseArgs.Url, "/"),
		Token:        parseArgs.Token,
		Organization: parseArgs.Organization,
		Space:        parseArgs.Space,
		HttpClient:   http.DefaultClient,
	}
}

// Entry runs the goal selected by the arguments. The stream-logs goal writes log frames to stdout
// and returns an empty report when ctx is cancelled.
func Entry(ctx context.Context, parseArgs args.Arguments, platform client.PlatformClient, stdout io.Writer) (RunReport, error) {
	switch parseArgs.Goal {
	case args.GoalCleanup:
		return Cleanup(ctx, parseArgs, platform)
	case args.GoalOrphanRoutes:
		return SweepOrphanRoutes(ctx, parseArgs, platform)
	case args.GoalStreamLogs:
		return RunReport{Goal: parseArgs.Goal}, StreamLogs(ctx, parseArgs, platform, stdout)
	default:
		return RunReport{}, fmt.Errorf("unknown goal %q", parseArgs.Goal)
	}
}

// Cleanup lists the instances once, then plans and executes each app in parallel. The builds of one
// app are always processed in order, and a planning error abandons only the app it belongs to.
func Cleanup(ctx context.Context, parseArgs args.Arguments, platform client.InstanceClient) (RunReport, error) {
	codec, err := naming.NewCodec(parseArgs.NamingConfig())
	if err != nil {
		return RunReport{}, err
	}

	apps := lo.Uniq(parseArgs.Apps)

	instances, err := platform.ListInstances(ctx, client.Selector{BaseIdentifiers: apps})
	if err != nil {
		return RunReport{}, fmt.Errorf("failed to list the apps: %w", err)
	}

	zap.L().Info("Found apps", zap.Int("count", len(instances)), zap.Strings("baseIdentifiers", apps))

	planner := retention.Planner{Codec: codec}
	executor := promotion.Executor{Platform: platform, Codec: codec, DryRun: parseArgs.DryRun}

	reports := collections.SafeSlice[promotion.Report]{}
	groupErrors := collections.SafeSlice[GroupError]{}

	group := errgroup.Group{}
	group.SetLimit(max(parseArgs.Concurrency, 1))

	for _, app := range apps {
		baseIdentifier := app
		group.Go(func() error {
			plan, err := planner.Plan(instances, baseIdentifier, parseArgs.BuildsToRetain, parseArgs.StopNonPrimaryBuilds)
			if err != nil {
				zap.L().Error("Abandoning the cleanup of app", zap.String("app", baseIdentifier), zap.Error(err))
				groupErrors.Append(GroupError{BaseIdentifier: baseIdentifier, Error: err.Error()})
				return nil
			}

			logPlan(plan)

			report, err := executor.Execute(ctx, plan)
			if err != nil {
				groupErrors.Append(GroupError{BaseIdentifier: baseIdentifier, Error: err.Error()})
				return nil
			}

			zap.L().Info(report.Summary(), zap.String("plan", plan.Id))
			reports.Append(report)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return RunReport{}, err
	}

	runReport := RunReport{
		Goal:        args.GoalCleanup,
		DryRun:      parseArgs.DryRun,
		Plans:       reports.GetCopy(),
		GroupErrors: groupErrors.GetCopy(),
	}

	slices.SortFunc(runReport.Plans, func(a, b promotion.Report) int {
		return strings.Compare(a.BaseIdentifier, b.BaseIdentifier)
	})
	slices.SortFunc(runReport.GroupErrors, func(a, b GroupError) int {
		return strings.Compare(a.BaseIdentifier, b.BaseIdentifier)
	})

	return runReport, nil
}

func logPlan(plan retention.Plan) {
	newest, ok := plan.Newest()
	if !ok {
		zap.L().Info("No builds found", zap.String("app", plan.BaseIdentifier))
		return
	}

	zap.L().Info("Planned cleanup",
		zap.String("app", plan.BaseIdentifier),
		zap.String("plan", plan.Id),
		zap.String("primary", newest.Name()),
		zap.Int("retain", plan.ToRetain),
		zap.Strings("delete", retention.Names(plan.ToDelete)),
		zap.Strings("stripUrls", retention.Names(plan.ToStripUrls)),
		zap.Strings("stop", retention.Names(plan.ToStop)))
}

func SweepOrphanRoutes(ctx context.Context, parseArgs args.Arguments, platform client.RouteClient) (RunReport, error) {
	excluder, err := orphans.NewRouteExcluder(parseArgs.ExcludeRoutes, parseArgs.ExcludeRoutesRegex, parseArgs.ExcludeRoutesExcept)
	if err != nil {
		return RunReport{}, err
	}

	sweeper := orphans.Sweeper{Platform: platform, Excluder: excluder, DryRun: parseArgs.DryRun}

	report, err := sweeper.Sweep(ctx)
	if err != nil {
		return RunReport{}, err
	}

	zap.L().Info(report.Summary())

	return RunReport{
		Goal:    args.GoalOrphanRoutes,
		DryRun:  parseArgs.DryRun,
		Orphans: &report,
	}, nil
}

// StreamLogs prints the log frames of the first app until ctx is cancelled or the platform closes
// the stream. A keep alive runs for as long as the stream is open.
func StreamLogs(ctx context.Context, parseArgs args.Arguments, platform client.LogClient, stdout io.Writer) (funcErr error) {
	if len(parseArgs.Apps) == 0 {
		return errors.New("an app is required to stream logs")
	}

	streamUrl, err := platform.LogStreamUrl(ctx, parseArgs.Apps[0])
	if err != nil {
		return err
	}

	stream, err := logstream.Dial(ctx, streamUrl, parseArgs.Token)
	if err != nil {
		return err
	}

	keepAlive := logstream.StartKeepAlive(stream, parseArgs.KeepAliveInterval)

	defer func() {
		keepAlive.Cancel()
		funcErr = errors.Join(funcErr, stream.Close())
	}()

	zap.L().Info("Streaming logs", zap.String("app", parseArgs.Apps[0]))

	return stream.Read(ctx, func(payload []byte) {
		fmt.Fprintln(stdout, string(payload))
	})
}
