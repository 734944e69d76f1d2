package orphans

import (
	"context"
	"errors"
	"fmt"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/model/cloudfoundry"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type RouteFailure struct {
	Uri    string `json:"uri"`
	Reason string `json:"reason"`
	Benign bool   `json:"benign"`
}

// Report lists route uris by outcome. Routes still bound to an app are not listed.
type Report struct {
	DryRun   bool           `json:"dryRun"`
	Deleted  []string       `json:"deleted"`
	Excluded []string       `json:"excluded"`
	Skipped  []string       `json:"skipped"`
	Failed   []RouteFailure `json:"failed"`
}

func (r Report) NonBenignFailureCount() int {
	return lo.CountBy(r.Failed, func(item RouteFailure) bool {
		return !item.Benign
	})
}

func (r Report) Summary() string {
	return fmt.Sprintf("orphan routes: %d deleted %d failed %d excluded %d skipped",
		len(r.Deleted), len(r.Failed), len(r.Excluded), len(r.Skipped))
}

// Sweeper deletes every route bound to no app. This is a linear scan with no ordering or retention logic.
type Sweeper struct {
	Platform client.RouteClient
	Excluder RouteExcluder
	DryRun   bool
}

// Sweep returns an error only when the domains or routes could not be listed. Failed deletes are
// recorded in the report and the sweep moves on.
func (s Sweeper) Sweep(ctx context.Context) (Report, error) {
	report := Report{
		DryRun:   s.DryRun,
		Deleted:  []string{},
		Excluded: []string{},
		Skipped:  []string{},
		Failed:   []RouteFailure{},
	}

	domains, err := s.Platform.FetchDomains(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list domains: %w", err)
	}

	for _, domain := range domains {
		routes, err := s.Platform.FetchRoutes(ctx, domain)
		if err != nil {
			return report, fmt.Errorf("failed to list routes of domain %s: %w", domain.Name, err)
		}

		orphans := lo.Filter(routes, func(item cloudfoundry.Route, index int) bool {
			return item.IsOrphan()
		})

		zap.L().Debug("Found orphan routes",
			zap.String("domain", domain.Name),
			zap.Int("routes", len(routes)),
			zap.Int("orphans", len(orphans)))

		for _, route := range orphans {
			s.sweepRoute(ctx, &report, route)
		}
	}

	return report, nil
}

func (s Sweeper) sweepRoute(ctx context.Context, report *Report, route cloudfoundry.Route) {
	uri := route.Uri()

	if s.Excluder.IsExcluded(uri) {
		zap.L().Info("Route excluded from the sweep", zap.String("route", uri))
		report.Excluded = append(report.Excluded, uri)
		return
	}

	if s.DryRun {
		zap.L().Info("Dry run, skipping orphan route delete", zap.String("route", uri))
		report.Skipped = append(report.Skipped, uri)
		return
	}

	zap.L().Info("Delete orphan route", zap.String("route", uri))

	if err := s.Platform.DeleteRoute(ctx, route); err != nil {
		zap.L().Warn("Failed to delete orphan route", zap.String("route", uri), zap.Error(err))
		report.Failed = append(report.Failed, RouteFailure{
			Uri:    uri,
			Reason: err.Error(),
			Benign: errors.Is(err, client.ErrNotFound),
		})
		return
	}

	report.Deleted = append(report.Deleted, uri)
}
