package retention

import (
	"errors"
	"fmt"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/hash"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/model/cloudfoundry"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/naming"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"
)

// ErrDuplicateBuildNumber means two instances of one application claim the same build number.
// The plan for that application can not be trusted and is abandoned.
var ErrDuplicateBuildNumber = errors.New("duplicate build number")

var ErrInvalidRetention = errors.New("invalid number of builds to retain")

// Build pairs a parsed identity with the instance snapshot it was parsed from. The snapshot is taken
// before anything is deleted, so the uris used for route stripping never depend on deletion order.
type Build struct {
	Identity naming.BuildIdentity
	Instance cloudfoundry.Instance
}

func (b Build) Name() string {
	return b.Instance.Name
}

// Plan is computed fresh for every run and never persisted. Every slice follows the order of
// OrderedBuilds, which is newest first.
type Plan struct {
	Id             string
	BaseIdentifier string
	OrderedBuilds  []Build
	ToRetain       int
	ToDelete       []Build
	ToStripUrls    []Build
	ToStop         []Build
}

// Newest returns the primary build, which keeps the shared route.
func (p Plan) Newest() (Build, bool) {
	if len(p.OrderedBuilds) == 0 {
		return Build{}, false
	}
	return p.OrderedBuilds[0], true
}

// IsEmpty is true when the plan has nothing for the executor to do.
func (p Plan) IsEmpty() bool {
	return len(p.ToDelete) == 0 && len(p.ToStripUrls) == 0 && len(p.ToStop) == 0
}

func Names(builds []Build) []string {
	return lo.Map(builds, func(item Build, index int) string {
		return item.Name()
	})
}

// Planner decides which builds of an application are obsolete. It performs no I/O.
type Planner struct {
	Codec naming.Codec
}

// Plan ranks the builds of baseIdentifier found in instances and splits them into the builds to delete,
// strip and stop. Instances of other applications are ignored. A toRetain of zero is treated as one
// because the newest build is never deleted.
func (p Planner) Plan(instances []cloudfoundry.Instance, baseIdentifier string, toRetain int, stopNonPrimary bool) (Plan, error) {
	if toRetain < 0 {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidRetention, toRetain)
	}

	matcher, err := p.Codec.Matcher(baseIdentifier)
	if err != nil {
		return Plan{}, err
	}

	builds, err := matchBuilds(matcher, instances)
	if err != nil {
		return Plan{}, err
	}

	slices.SortFunc(builds, func(a, b Build) int {
		return b.Identity.BuildNumber - a.Identity.BuildNumber
	})

	retain := max(toRetain, 1)

	plan := Plan{
		Id:             hash.StableGuid(append([]string{baseIdentifier}, Names(builds)...)...),
		BaseIdentifier: baseIdentifier,
		OrderedBuilds:  builds,
		ToRetain:       retain,
		ToDelete:       []Build{},
		ToStripUrls:    []Build{},
		ToStop:         []Build{},
	}

	if len(builds) == 0 {
		return plan, nil
	}

	if retain < len(builds) {
		plan.ToDelete = slices.Clone(builds[retain:])
	}

	plan.ToStripUrls = slices.Clone(builds[1:])

	if stopNonPrimary {
		plan.ToStop = slices.Clone(builds[1:])
	}

	return plan, nil
}

func matchBuilds(matcher naming.Matcher, instances []cloudfoundry.Instance) ([]Build, error) {
	var parseErrors error
	byNumber := map[int]Build{}
	builds := []Build{}

	for _, instance := range instances {
		identity, ok, err := matcher.Parse(instance.Name)
		if err != nil {
			parseErrors = errors.Join(parseErrors, err)
			continue
		}

		if !ok {
			continue
		}

		if existing, found := byNumber[identity.BuildNumber]; found {
			return nil, fmt.Errorf("%w: %q and %q are both build %d of %q",
				ErrDuplicateBuildNumber, existing.Name(), instance.Name, identity.BuildNumber, matcher.BaseIdentifier())
		}

		build := Build{Identity: identity, Instance: instance}
		byNumber[identity.BuildNumber] = build
		builds = append(builds, build)
	}

	if parseErrors != nil {
		return nil, parseErrors
	}

	return builds, nil
}
