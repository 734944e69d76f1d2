package promotion

import (
	"context"
	"errors"
	"testing"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client/clienttest"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/model/cloudfoundry"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/naming"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/retention"
	"github.com/samber/lo"
	"k8s.io/utils/strings/slices"
)

func newCodec(t *testing.T) naming.Codec {
	codec, err := naming.NewCodec(naming.DefaultConfig(naming.Flat))
	if err != nil {
		t.Fatalf("Codec should have been created: %v", err)
	}
	return codec
}

func deployed(names ...string) []cloudfoundry.Instance {
	return lo.Map(names, func(name string, index int) cloudfoundry.Instance {
		return cloudfoundry.Instance{
			Guid:  "guid-" + name,
			Name:  name,
			Uris:  []string{"myapp.example.org", name + ".example.org", name + ".apps.internal"},
			State: cloudfoundry.StateStarted,
		}
	})
}

func plan(t *testing.T, codec naming.Codec, instances []cloudfoundry.Instance, toRetain int, stop bool) retention.Plan {
	result, err := retention.Planner{Codec: codec}.Plan(instances, "myapp", toRetain, stop)
	if err != nil {
		t.Fatalf("Plan should have succeeded: %v", err)
	}
	return result
}

func TestExecuteOrdersOperations(t *testing.T) {
	codec := newCodec(t)
	instances := deployed("myapp-b1", "myapp-b2", "myapp-b3")
	platform := clienttest.NewMemoryPlatform(instances...)

	report, err := Executor{Platform: platform, Codec: codec}.Execute(context.Background(), plan(t, codec, instances, 1, false))
	if err != nil {
		t.Fatalf("Execute should have succeeded: %v", err)
	}

	expected := []string{"update myapp-b2", "update myapp-b1", "delete myapp-b2", "delete myapp-b1"}
	if !slices.Equal(platform.Calls(), expected) {
		t.Fatalf("Calls should have been %v, were %v", expected, platform.Calls())
	}

	if report.FailureCount() != 0 {
		t.Fatalf("There should have been no failures")
	}

	if report.Primary != "myapp-b3" {
		t.Fatalf("myapp-b3 should have been reported as the primary build")
	}

	primary, _ := platform.Instance("myapp-b3")
	if len(primary.Uris) != 3 {
		t.Fatalf("The primary build should have kept all of its uris")
	}
}

func TestExecuteStripsOnlySharedUris(t *testing.T) {
	codec := newCodec(t)
	instances := deployed("myapp-b1", "myapp-b2")
	platform := clienttest.NewMemoryPlatform(instances...)

	_, err := Executor{Platform: platform, Codec: codec}.Execute(context.Background(), plan(t, codec, instances, 2, false))
	if err != nil {
		t.Fatalf("Execute should have succeeded: %v", err)
	}

	secondary, ok := platform.Instance("myapp-b1")
	if !ok {
		t.Fatalf("myapp-b1 should have been retained")
	}

	if !slices.Equal(secondary.Uris, []string{"myapp-b1.example.org", "myapp-b1.apps.internal"}) {
		t.Fatalf("myapp-b1 should have kept only its own uris, had %v", secondary.Uris)
	}

	if len(platform.CallsFor("delete")) != 0 {
		t.Fatalf("Nothing should have been deleted")
	}
}

func TestExecuteContinuesAfterFailure(t *testing.T) {
	codec := newCodec(t)
	instances := deployed("myapp-b1", "myapp-b2", "myapp-b3")
	platform := clienttest.NewMemoryPlatform(instances...)
	platform.Failures["update myapp-b2"] = client.NotFound("update", "myapp-b2")

	report, err := Executor{Platform: platform, Codec: codec}.Execute(context.Background(), plan(t, codec, instances, 1, false))
	if err != nil {
		t.Fatalf("Execute should have succeeded: %v", err)
	}

	if len(report.StripUrls.Failed) != 1 || report.StripUrls.Failed[0].Instance != "myapp-b2" {
		t.Fatalf("The failed update of myapp-b2 should have been recorded")
	}

	if !report.StripUrls.Failed[0].Benign || report.NonBenignFailureCount() != 0 {
		t.Fatalf("A missing instance should have been a benign failure")
	}

	if !errors.Is(report.StripUrls.Failed[0].Err(), client.ErrNotFound) {
		t.Fatalf("The failure should have kept the underlying error")
	}

	if !slices.Equal(report.Delete.Succeeded, []string{"myapp-b2", "myapp-b1"}) {
		t.Fatalf("Both obsolete builds should still have been deleted")
	}
}

func TestExecuteRecordsRemoteFailures(t *testing.T) {
	codec := newCodec(t)
	instances := deployed("myapp-b1", "myapp-b2")
	platform := clienttest.NewMemoryPlatform(instances...)
	platform.Failures["delete myapp-b1"] = &client.PlatformError{Op: "delete", Name: "myapp-b1", Kind: client.ErrRemote, StatusCode: 500}

	report, err := Executor{Platform: platform, Codec: codec}.Execute(context.Background(), plan(t, codec, instances, 1, false))
	if err != nil {
		t.Fatalf("Execute should have succeeded: %v", err)
	}

	if report.NonBenignFailureCount() != 1 {
		t.Fatalf("The server error should have been a non benign failure")
	}

	if _, ok := platform.Instance("myapp-b1"); !ok {
		t.Fatalf("myapp-b1 should still exist")
	}
}

func TestExecuteStopsRetainedSecondaries(t *testing.T) {
	codec := newCodec(t)
	instances := deployed("myapp-b1", "myapp-b2", "myapp-b3")
	platform := clienttest.NewMemoryPlatform(instances...)

	report, err := Executor{Platform: platform, Codec: codec}.Execute(context.Background(), plan(t, codec, instances, 2, true))
	if err != nil {
		t.Fatalf("Execute should have succeeded: %v", err)
	}

	if !slices.Equal(platform.CallsFor("stop"), []string{"stop myapp-b2"}) {
		t.Fatalf("Only myapp-b2 should have been stopped, calls were %v", platform.Calls())
	}

	if !slices.Equal(report.Stop.Skipped, []string{"myapp-b1"}) {
		t.Fatalf("The deleted myapp-b1 should have been skipped by the stop step")
	}

	secondary, _ := platform.Instance("myapp-b2")
	if secondary.IsRunning() {
		t.Fatalf("myapp-b2 should have been stopped")
	}

	primary, _ := platform.Instance("myapp-b3")
	if !primary.IsRunning() {
		t.Fatalf("myapp-b3 should still be running")
	}
}

func TestExecuteStopsBuildWhoseDeleteFailed(t *testing.T) {
	codec := newCodec(t)
	instances := deployed("myapp-b1", "myapp-b2")
	platform := clienttest.NewMemoryPlatform(instances...)
	platform.Failures["delete myapp-b1"] = &client.PlatformError{Op: "delete", Name: "myapp-b1", Kind: client.ErrRemote, StatusCode: 502}

	report, err := Executor{Platform: platform, Codec: codec}.Execute(context.Background(), plan(t, codec, instances, 1, true))
	if err != nil {
		t.Fatalf("Execute should have succeeded: %v", err)
	}

	if !slices.Equal(report.Stop.Succeeded, []string{"myapp-b1"}) {
		t.Fatalf("myapp-b1 should have been stopped after its delete failed")
	}
}

func TestExecuteDryRun(t *testing.T) {
	codec := newCodec(t)
	instances := deployed("myapp-b1", "myapp-b2", "myapp-b3")
	platform := clienttest.NewMemoryPlatform(instances...)

	report, err := Executor{Platform: platform, Codec: codec, DryRun: true}.Execute(context.Background(), plan(t, codec, instances, 1, true))
	if err != nil {
		t.Fatalf("Execute should have succeeded: %v", err)
	}

	if len(platform.Calls()) != 0 {
		t.Fatalf("A dry run should not have called the platform")
	}

	if len(report.Delete.Skipped) != 2 || len(report.StripUrls.Skipped) != 2 || len(report.Stop.Skipped) != 2 {
		t.Fatalf("Every planned call should have been reported as skipped")
	}

	if !report.DryRun {
		t.Fatalf("The report should have been flagged as a dry run")
	}
}

func TestExecuteEmptyPlan(t *testing.T) {
	codec := newCodec(t)
	instances := deployed("myapp-b1")
	platform := clienttest.NewMemoryPlatform(instances...)

	report, err := Executor{Platform: platform, Codec: codec}.Execute(context.Background(), plan(t, codec, instances, 1, true))
	if err != nil {
		t.Fatalf("Execute should have succeeded: %v", err)
	}

	if len(platform.Calls()) != 0 {
		t.Fatalf("A single build should not have produced any calls")
	}

	if report.Summary() != "myapp: strip-urls 0 succeeded 0 failed, delete 0 succeeded 0 failed, stop 0 succeeded 0 failed" {
		t.Fatalf("Unexpected summary %s", report.Summary())
	}
}
