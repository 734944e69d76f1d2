// Package clienttest holds an in-memory platform used by tests of the packages that drive a client.
package clienttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/client"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/model/cloudfoundry"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"
)

// MemoryPlatform implements client.PlatformClient over maps. Every call is recorded as
// "<operation> <name>", and Failures injects an error for a recorded call.
type MemoryPlatform struct {
	mu        sync.Mutex
	instances []cloudfoundry.Instance
	domains   []cloudfoundry.Domain
	routes    []cloudfoundry.Route
	calls     []string
	Failures  map[string]error
	StreamUrl string
}

var _ client.PlatformClient = &MemoryPlatform{}

func NewMemoryPlatform(instances ...cloudfoundry.Instance) *MemoryPlatform {
	return &MemoryPlatform{
		instances: slices.Clone(instances),
		Failures:  map[string]error{},
	}
}

func (m *MemoryPlatform) AddRoutes(domain cloudfoundry.Domain, routes ...cloudfoundry.Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains = append(m.domains, domain)
	m.routes = append(m.routes, routes...)
}

func (m *MemoryPlatform) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallsFor returns the recorded calls for one operation, in order.
func (m *MemoryPlatform) CallsFor(operation string) []string {
	return lo.Filter(m.Calls(), func(item string, index int) bool {
		return strings.HasPrefix(item, operation+" ")
	})
}

func (m *MemoryPlatform) Instance(name string) (cloudfoundry.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Find(m.instances, func(item cloudfoundry.Instance) bool {
		return item.Name == name
	})
}

func (m *MemoryPlatform) Routes() []cloudfoundry.Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.routes)
}

func (m *MemoryPlatform) record(operation string, name string) error {
	call := operation + " " + name
	m.calls = append(m.calls, call)
	return m.Failures[call]
}

func (m *MemoryPlatform) indexOf(name string) int {
	return slices.IndexFunc(m.instances, func(item cloudfoundry.Instance) bool {
		return item.Name == name
	})
}

func (m *MemoryPlatform) ListInstances(ctx context.Context, selector client.Selector) ([]cloudfoundry.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("list", strings.Join(selector.BaseIdentifiers, ",")); err != nil {
		return nil, err
	}

	return lo.Filter(m.instances, func(item cloudfoundry.Instance, index int) bool {
		return len(selector.BaseIdentifiers) == 0 || lo.SomeBy(selector.BaseIdentifiers, func(base string) bool {
			return strings.HasPrefix(item.Name, base)
		})
	}), nil
}

func (m *MemoryPlatform) DeleteInstance(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("delete", name); err != nil {
		return err
	}

	index := m.indexOf(name)
	if index < 0 {
		return client.NotFound("delete", name)
	}

	m.instances = slices.Delete(m.instances, index, index+1)
	return nil
}

func (m *MemoryPlatform) UpdateRoutes(ctx context.Context, name string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("update", name); err != nil {
		return err
	}

	index := m.indexOf(name)
	if index < 0 {
		return client.NotFound("update", name)
	}

	m.instances[index].Uris = slices.Clone(uris)
	return nil
}

func (m *MemoryPlatform) StopInstance(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("stop", name); err != nil {
		return err
	}

	index := m.indexOf(name)
	if index < 0 {
		return client.NotFound("stop", name)
	}

	m.instances[index].State = cloudfoundry.StateStopped
	return nil
}

func (m *MemoryPlatform) FetchDomains(ctx context.Context) ([]cloudfoundry.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("domains", ""); err != nil {
		return nil, err
	}

	return slices.Clone(m.domains), nil
}

func (m *MemoryPlatform) FetchRoutes(ctx context.Context, domain cloudfoundry.Domain) ([]cloudfoundry.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("routes", domain.Name); err != nil {
		return nil, err
	}

	return lo.Filter(m.routes, func(item cloudfoundry.Route, index int) bool {
		return item.Domain.Guid == domain.Guid
	}), nil
}

func (m *MemoryPlatform) DeleteRoute(ctx context.Context, route cloudfoundry.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("delete-route", route.Uri()); err != nil {
		return err
	}

	index := slices.IndexFunc(m.routes, func(item cloudfoundry.Route) bool {
		return item.Guid == route.Guid
	})
	if index < 0 {
		return client.NotFound("delete-route", route.Uri())
	}

	m.routes = slices.Delete(m.routes, index, index+1)
	return nil
}

func (m *MemoryPlatform) LogStreamUrl(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("stream", name); err != nil {
		return "", err
	}

	if m.indexOf(name) < 0 {
		return "", client.NotFound("stream", name)
	}

	if m.StreamUrl == "" {
		return "", fmt.Errorf("no log stream configured for %s", name)
	}

	return m.StreamUrl, nil
}
