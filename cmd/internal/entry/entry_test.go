package entry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/args"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client/clienttest"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/model/cloudfoundry"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/naming"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"k8s.io/utils/strings/slices"
)

func cleanupArgs(apps ...string) args.Arguments {
	return args.Arguments{
		Goal:             args.GoalCleanup,
		Apps:             apps,
		NamingConvention: string(naming.Flat),
		BuildsToRetain:   1,
		Concurrency:      2,
	}
}

func deployed(names ...string) []cloudfoundry.Instance {
	return lo.Map(names, func(name string, index int) cloudfoundry.Instance {
		base := name[:strings.LastIndex(name, "-b")]
		return cloudfoundry.Instance{
			Guid:  "guid-" + name,
			Name:  name,
			Uris:  []string{base + ".example.org", name + ".example.org"},
			State: cloudfoundry.StateStarted,
		}
	})
}

func TestCleanupMultipleApps(t *testing.T) {
	platform := clienttest.NewMemoryPlatform(deployed("myapp-b1", "myapp-b2", "otherapp-b7", "otherapp-b9", "unmanaged-b1")...)

	report, err := Entry(context.Background(), cleanupArgs("otherapp", "myapp", "myapp"), platform, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Cleanup should have succeeded: %v", err)
	}

	if len(report.Plans) != 2 || report.Plans[0].BaseIdentifier != "myapp" || report.Plans[1].BaseIdentifier != "otherapp" {
		t.Fatalf("There should have been one report per app, sorted by app")
	}

	deletes := platform.CallsFor("delete")
	sort.Strings(deletes)
	if !slices.Equal(deletes, []string{"delete myapp-b1", "delete otherapp-b7"}) {
		t.Fatalf("Only the obsolete builds should have been deleted, calls were %v", platform.Calls())
	}

	if _, ok := platform.Instance("unmanaged-b1"); !ok {
		t.Fatalf("An app that was not selected should not have been touched")
	}

	if len(platform.CallsFor("list")) != 1 {
		t.Fatalf("The apps should have been listed once")
	}

	if report.Failed(true) {
		t.Fatalf("The run should not have failed")
	}
}

func TestCleanupKeepsGroupsIndependent(t *testing.T) {
	instances := append(deployed("myapp-b1", "myapp-b2"), cloudfoundry.Instance{Name: "otherapp-b", Guid: "guid-broken"})
	platform := clienttest.NewMemoryPlatform(append(instances, deployed("otherapp-b1", "otherapp-b2")...)...)

	report, err := Cleanup(context.Background(), cleanupArgs("myapp", "otherapp"), platform)
	if err != nil {
		t.Fatalf("Cleanup should have succeeded: %v", err)
	}

	if len(report.GroupErrors) != 1 || report.GroupErrors[0].BaseIdentifier != "otherapp" {
		t.Fatalf("The invalid build name should have abandoned only otherapp")
	}

	if !strings.Contains(report.GroupErrors[0].Error, naming.ErrInvalidBuildName.Error()) {
		t.Fatalf("The group error should have described the invalid name")
	}

	if !slices.Equal(platform.CallsFor("delete"), []string{"delete myapp-b1"}) {
		t.Fatalf("myapp should still have been cleaned up, calls were %v", platform.Calls())
	}

	if !report.Failed(false) {
		t.Fatalf("An abandoned group should fail the run")
	}
}

func TestCleanupListFailureIsFatal(t *testing.T) {
	platform := clienttest.NewMemoryPlatform()
	platform.Failures["list myapp"] = &client.PlatformError{Op: "list", Kind: client.ErrRemote, StatusCode: 503}

	if _, err := Cleanup(context.Background(), cleanupArgs("myapp"), platform); !errors.Is(err, client.ErrRemote) {
		t.Fatalf("The listing failure should have been returned")
	}
}

func TestCleanupFailOnError(t *testing.T) {
	platform := clienttest.NewMemoryPlatform(deployed("myapp-b1", "myapp-b2", "myapp-b3")...)
	platform.Failures["delete myapp-b1"] = &client.PlatformError{Op: "delete", Name: "myapp-b1", Kind: client.ErrRemote, StatusCode: 500}
	platform.Failures["update myapp-b2"] = client.NotFound("update", "myapp-b2")

	report, err := Cleanup(context.Background(), cleanupArgs("myapp"), platform)
	if err != nil {
		t.Fatalf("Cleanup should have succeeded: %v", err)
	}

	if report.NonBenignFailureCount() != 1 {
		t.Fatalf("Only the server error should have counted as a non benign failure")
	}

	if report.Failed(false) {
		t.Fatalf("Failed calls should not fail the run without failOnError")
	}

	if !report.Failed(true) {
		t.Fatalf("Failed calls should fail the run with failOnError")
	}
}

func TestCleanupDryRun(t *testing.T) {
	platform := clienttest.NewMemoryPlatform(deployed("myapp-b1", "myapp-b2")...)
	parseArgs := cleanupArgs("myapp")
	parseArgs.DryRun = true
	parseArgs.StopNonPrimaryBuilds = true

	report, err := Cleanup(context.Background(), parseArgs, platform)
	if err != nil {
		t.Fatalf("Cleanup should have succeeded: %v", err)
	}

	if !slices.Equal(platform.Calls(), []string{"list myapp"}) {
		t.Fatalf("A dry run should only have listed the apps, calls were %v", platform.Calls())
	}

	if !report.DryRun || len(report.Plans[0].Delete.Skipped) != 1 {
		t.Fatalf("The intended delete should have been reported as skipped")
	}
}

func TestSweepOrphanRoutesGoal(t *testing.T) {
	domain := cloudfoundry.Domain{Guid: "domain-1", Name: "example.org"}
	platform := clienttest.NewMemoryPlatform()
	platform.AddRoutes(domain,
		cloudfoundry.Route{Guid: "route-a", Host: "a", Domain: domain},
		cloudfoundry.Route{Guid: "route-b", Host: "b", Domain: domain, BoundInstanceCount: 3},
		cloudfoundry.Route{Guid: "route-c", Host: "keep-c", Domain: domain})

	parseArgs := args.Arguments{Goal: args.GoalOrphanRoutes, ExcludeRoutesRegex: args.StringSliceArgs{"^keep-"}}

	report, err := Entry(context.Background(), parseArgs, platform, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("The sweep should have succeeded: %v", err)
	}

	if report.Orphans == nil || !slices.Equal(report.Orphans.Deleted, []string{"a.example.org"}) {
		t.Fatalf("Only a.example.org should have been deleted")
	}

	if !slices.Equal(report.Orphans.Excluded, []string{"keep-c.example.org"}) {
		t.Fatalf("keep-c.example.org should have been excluded")
	}
}

func TestStreamLogsGoal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.BinaryMessage, []byte("app started"))
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
	defer server.Close()

	platform := clienttest.NewMemoryPlatform(deployed("myapp-b1")...)
	platform.StreamUrl = "ws" + strings.TrimPrefix(server.URL, "http")

	out := &bytes.Buffer{}
	parseArgs := args.Arguments{Goal: args.GoalStreamLogs, Apps: args.StringSliceArgs{"myapp-b1"}, KeepAliveInterval: time.Minute}

	if _, err := Entry(context.Background(), parseArgs, platform, out); err != nil {
		t.Fatalf("Streaming should have ended cleanly: %v", err)
	}

	if out.String() != "app started\n" {
		t.Fatalf("The log frame should have been printed, got %q", out.String())
	}
}

func TestStreamLogsUnknownApp(t *testing.T) {
	platform := clienttest.NewMemoryPlatform()
	parseArgs := args.Arguments{Goal: args.GoalStreamLogs, Apps: args.StringSliceArgs{"missing"}}

	if err := StreamLogs(context.Background(), parseArgs, platform, &bytes.Buffer{}); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("An unknown app should have returned a not found error")
	}
}

func TestUnknownGoal(t *testing.T) {
	if _, err := Entry(context.Background(), args.Arguments{Goal: "deploy"}, clienttest.NewMemoryPlatform(), &bytes.Buffer{}); err == nil {
		t.Fatalf("An unknown goal should have returned an error")
	}
}
