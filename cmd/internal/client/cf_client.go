package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/model/cloudfoundry"
	"github.com/avast/retry-go/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/strings/slices"
)

var invalidStateErrorCodes = []string{
	"CF-AppStoppedStatsError",
	"CF-NotStaged",
	"CF-InvalidRelation",
	"CF-RouteMappingTaken",
}

// CloudFoundryApiClient implements PlatformClient against the v2 REST API of one org and space.
// Read only calls are retried. Mutations are sent exactly once.
type CloudFoundryApiClient struct {
	Url          string
	Token        string
	Organization string
	Space        string
	HttpClient   *http.Client
	// RetryDelay is the pause between attempts of a read only call. Defaults to one second.
	RetryDelay time.Duration

	// mu guards the org and space guids, which are looked up once
	mu        sync.Mutex
	orgGuid   string
	spaceGuid string

	// appGuids maps app names seen by ListInstances to their guids
	appGuids   map[string]string
	appGuidsMu sync.Mutex

	// domains is filled by FetchDomains and used to split uris into host and domain
	domains   []cloudfoundry.Domain
	domainsMu sync.Mutex
}

var _ PlatformClient = &CloudFoundryApiClient{}

func (c *CloudFoundryApiClient) httpClient() *http.Client {
	if c.HttpClient != nil {
		return c.HttpClient
	}
	return http.DefaultClient
}

func (c *CloudFoundryApiClient) retryOptions(ctx context.Context) []retry.Option {
	delay := c.RetryDelay
	if delay == 0 {
		delay = 1 * time.Second
	}

	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidState)
		}),
	}
}

func (c *CloudFoundryApiClient) newRequest(ctx context.Context, method string, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.Url, "/")+path, reader)
	if err != nil {
		return nil, err
	}

	if c.Token != "" {
		token := c.Token
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "bearer " + token
		}
		req.Header.Set("Authorization", token)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// do sends a single request and maps any non-2xx response to a PlatformError.
func (c *CloudFoundryApiClient) do(ctx context.Context, method string, path string, body any, op string, name string) (response []byte, funcErr error) {
	zap.L().Debug("Calling platform", zap.String("method", method), zap.String("path", path))

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, &PlatformError{Op: op, Name: name, Kind: ErrRemote, Err: err}
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &PlatformError{Op: op, Name: name, Kind: ErrRemote, Err: err}
	}

	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			funcErr = errors.Join(funcErr, err)
		}
	}(res.Body)

	responseBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &PlatformError{Op: op, Name: name, Kind: ErrRemote, Err: err}
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return responseBody, nil
	}

	return nil, classify(op, name, res.StatusCode, responseBody)
}

func classify(op string, name string, statusCode int, body []byte) error {
	errorResponse := cloudfoundry.ErrorResponse{}
	if err := json.Unmarshal(body, &errorResponse); err != nil {
		errorResponse.Description = strings.TrimSpace(string(body))
	}

	platformError := &PlatformError{
		Op:          op,
		Name:        name,
		Kind:        ErrRemote,
		StatusCode:  statusCode,
		ErrorCode:   errorResponse.ErrorCode,
		Description: errorResponse.Description,
	}

	switch {
	case statusCode == http.StatusNotFound:
		platformError.Kind = ErrNotFound
	case statusCode == http.StatusConflict:
		platformError.Kind = ErrInvalidState
	case statusCode == http.StatusBadRequest && slices.Contains(invalidStateErrorCodes, errorResponse.ErrorCode):
		platformError.Kind = ErrInvalidState
	}

	return platformError
}

// get retrieves and decodes a single resource, retrying transient failures.
func (c *CloudFoundryApiClient) get(ctx context.Context, path string, op string, name string, result any) error {
	return retry.Do(func() error {
		body, err := c.do(ctx, http.MethodGet, path, nil, op, name)
		if err != nil {
			return err
		}

		if err := json.Unmarshal(body, result); err != nil {
			zap.L().Error("Could not decode platform response", zap.String("path", path), zap.String("body", string(body)))
			return retry.Unrecoverable(&PlatformError{Op: op, Name: name, Kind: ErrRemote, Err: err})
		}

		return nil
	}, c.retryOptions(ctx)...)
}

// getAllResources follows next_url until every page of a collection has been read.
func getAllResources[T any](ctx context.Context, c *CloudFoundryApiClient, path string, op string, name string) ([]cloudfoundry.Resource[T], error) {
	resources := []cloudfoundry.Resource[T]{}

	for next := path; next != ""; {
		page := cloudfoundry.GeneralCollection[T]{}
		if err := c.get(ctx, next, op, name, &page); err != nil {
			return nil, err
		}

		resources = append(resources, page.Resources...)

		next = ""
		if page.NextUrl != nil {
			next = *page.NextUrl
		}
	}

	return resources, nil
}

func query(filters ...string) string {
	params := url.Values{}
	for _, filter := range filters {
		params.Add("q", filter)
	}
	return params.Encode()
}

func (c *CloudFoundryApiClient) lookupOrganization(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.Organization) == "" {
		return "", errors.New("organization can not be empty")
	}

	orgs, err := getAllResources[cloudfoundry.OrganizationEntity](ctx, c, "/v2/organizations?"+query("name:"+c.Organization), "get organization", c.Organization)
	if err != nil {
		return "", err
	}

	if len(orgs) == 0 {
		return "", NotFound("get organization", c.Organization)
	}

	return orgs[0].Metadata.Guid, nil
}

// getOrgGuid resolves the organization once and caches the result.
func (c *CloudFoundryApiClient) getOrgGuid(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.orgGuid != "" {
		return c.orgGuid, nil
	}

	orgGuid, err := c.lookupOrganization(ctx)
	if err != nil {
		return "", err
	}

	c.orgGuid = orgGuid
	return orgGuid, nil
}

func (c *CloudFoundryApiClient) getSpaceGuid(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.Space) == "" {
		return "", errors.New("space can not be empty")
	}

	orgGuid, err := c.getOrgGuid(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spaceGuid != "" {
		return c.spaceGuid, nil
	}

	spaces, err := getAllResources[cloudfoundry.SpaceEntity](ctx, c, "/v2/organizations/"+orgGuid+"/spaces?"+query("name:"+c.Space), "get space", c.Space)
	if err != nil {
		return "", err
	}

	if len(spaces) == 0 {
		return "", NotFound("get space", c.Space)
	}

	c.spaceGuid = spaces[0].Metadata.Guid
	return c.spaceGuid, nil
}

func (c *CloudFoundryApiClient) rememberApp(name string, guid string) {
	c.appGuidsMu.Lock()
	defer c.appGuidsMu.Unlock()

	if c.appGuids == nil {
		c.appGuids = map[string]string{}
	}

	if guid == "" {
		delete(c.appGuids, name)
		return
	}

	c.appGuids[name] = guid
}

func (c *CloudFoundryApiClient) getAppGuid(ctx context.Context, op string, name string) (string, error) {
	c.appGuidsMu.Lock()
	guid, ok := c.appGuids[name]
	c.appGuidsMu.Unlock()

	if ok {
		return guid, nil
	}

	spaceGuid, err := c.getSpaceGuid(ctx)
	if err != nil {
		return "", err
	}

	apps, err := getAllResources[cloudfoundry.AppEntity](ctx, c, "/v2/spaces/"+spaceGuid+"/apps?"+query("name:"+name), op, name)
	if err != nil {
		return "", err
	}

	if len(apps) == 0 {
		return "", NotFound(op, name)
	}

	c.rememberApp(name, apps[0].Metadata.Guid)
	return apps[0].Metadata.Guid, nil
}

func (c *CloudFoundryApiClient) ListInstances(ctx context.Context, selector Selector) ([]cloudfoundry.Instance, error) {
	spaceGuid, err := c.getSpaceGuid(ctx)
	if err != nil {
		return nil, err
	}

	apps, err := getAllResources[cloudfoundry.AppEntity](ctx, c, "/v2/spaces/"+spaceGuid+"/apps", "list instances", c.Space)
	if err != nil {
		return nil, err
	}

	selected := lo.Filter(apps, func(item cloudfoundry.Resource[cloudfoundry.AppEntity], index int) bool {
		return len(selector.BaseIdentifiers) == 0 || lo.SomeBy(selector.BaseIdentifiers, func(base string) bool {
			return strings.HasPrefix(item.Entity.Name, base)
		})
	})

	instances := []cloudfoundry.Instance{}
	for _, app := range selected {
		c.rememberApp(app.Entity.Name, app.Metadata.Guid)

		routes, err := c.getAppRoutes(ctx, app.Metadata.Guid, app.Entity.Name)
		if err != nil {
			return nil, err
		}

		instances = append(instances, cloudfoundry.Instance{
			Guid:  app.Metadata.Guid,
			Name:  app.Entity.Name,
			State: app.Entity.State,
			Uris: lo.Map(routes, func(item cloudfoundry.Route, index int) string {
				return item.Uri()
			}),
		})
	}

	return instances, nil
}

func (c *CloudFoundryApiClient) getAppRoutes(ctx context.Context, appGuid string, name string) ([]cloudfoundry.Route, error) {
	resources, err := getAllResources[cloudfoundry.RouteEntity](ctx, c, "/v2/apps/"+appGuid+"/routes?inline-relations-depth=1", "list routes", name)
	if err != nil {
		return nil, err
	}

	routes := []cloudfoundry.Route{}
	for _, resource := range resources {
		domain, err := c.routeDomain(ctx, resource.Entity)
		if err != nil {
			return nil, err
		}

		routes = append(routes, cloudfoundry.Route{
			Guid:               resource.Metadata.Guid,
			Host:               resource.Entity.Host,
			Domain:             domain,
			BoundInstanceCount: 1,
		})
	}

	return routes, nil
}

// routeDomain uses the inlined domain when the platform provided one.
func (c *CloudFoundryApiClient) routeDomain(ctx context.Context, route cloudfoundry.RouteEntity) (cloudfoundry.Domain, error) {
	if route.Domain != nil {
		return cloudfoundry.Domain{Guid: route.Domain.Metadata.Guid, Name: route.Domain.Entity.Name}, nil
	}

	domains, err := c.knownDomains(ctx)
	if err != nil {
		return cloudfoundry.Domain{}, err
	}

	domain, ok := lo.Find(domains, func(item cloudfoundry.Domain) bool {
		return item.Guid == route.DomainGuid
	})

	if !ok {
		return cloudfoundry.Domain{}, NotFound("get domain", route.DomainGuid)
	}

	return domain, nil
}

func (c *CloudFoundryApiClient) knownDomains(ctx context.Context) ([]cloudfoundry.Domain, error) {
	c.domainsMu.Lock()
	domains := c.domains
	c.domainsMu.Unlock()

	if domains != nil {
		return domains, nil
	}

	return c.FetchDomains(ctx)
}

func (c *CloudFoundryApiClient) DeleteInstance(ctx context.Context, name string) error {
	guid, err := c.getAppGuid(ctx, "delete instance", name)
	if err != nil {
		return err
	}

	if _, err := c.do(ctx, http.MethodDelete, "/v2/apps/"+guid+"?recursive=true", nil, "delete instance", name); err != nil {
		return err
	}

	c.rememberApp(name, "")
	return nil
}

func (c *CloudFoundryApiClient) StopInstance(ctx context.Context, name string) error {
	guid, err := c.getAppGuid(ctx, "stop instance", name)
	if err != nil {
		return err
	}

	_, err = c.do(ctx, http.MethodPut, "/v2/apps/"+guid, map[string]string{"state": cloudfoundry.StateStopped}, "stop instance", name)
	return err
}

// UpdateRoutes makes uris the exact set of routes bound to the instance. Routes not in uris are unbound,
// and uris that are not yet bound are bound to their existing route. Routes are never created.
func (c *CloudFoundryApiClient) UpdateRoutes(ctx context.Context, name string, uris []string) error {
	op := "update routes"

	guid, err := c.getAppGuid(ctx, op, name)
	if err != nil {
		return err
	}

	current, err := c.getAppRoutes(ctx, guid, name)
	if err != nil {
		return err
	}

	for _, route := range current {
		if slices.Contains(uris, route.Uri()) {
			continue
		}

		zap.L().Debug("Unbinding route", zap.String("app", name), zap.String("uri", route.Uri()))
		if _, err := c.do(ctx, http.MethodDelete, "/v2/apps/"+guid+"/routes/"+route.Guid, nil, op, name); err != nil {
			return err
		}
	}

	boundUris := lo.Map(current, func(item cloudfoundry.Route, index int) string {
		return item.Uri()
	})

	for _, uri := range lo.Uniq(uris) {
		if slices.Contains(boundUris, uri) {
			continue
		}

		route, err := c.findRoute(ctx, op, name, uri)
		if err != nil {
			return err
		}

		zap.L().Debug("Binding route", zap.String("app", name), zap.String("uri", uri))
		if _, err := c.do(ctx, http.MethodPut, "/v2/apps/"+guid+"/routes/"+route.Guid, nil, op, name); err != nil {
			return err
		}
	}

	return nil
}

// findRoute splits uri on the longest known domain suffix and looks up the matching route.
func (c *CloudFoundryApiClient) findRoute(ctx context.Context, op string, name string, uri string) (cloudfoundry.Route, error) {
	domains, err := c.knownDomains(ctx)
	if err != nil {
		return cloudfoundry.Route{}, err
	}

	candidates := lo.Filter(domains, func(item cloudfoundry.Domain, index int) bool {
		return uri == item.Name || strings.HasSuffix(uri, "."+item.Name)
	})

	if len(candidates) == 0 {
		return cloudfoundry.Route{}, &PlatformError{Op: op, Name: name, Kind: ErrInvalidState, Description: "no domain matches " + uri}
	}

	domain := lo.MaxBy(candidates, func(a cloudfoundry.Domain, b cloudfoundry.Domain) bool {
		return len(a.Name) > len(b.Name)
	})
	host := strings.TrimSuffix(strings.TrimSuffix(uri, domain.Name), ".")

	routes, err := getAllResources[cloudfoundry.RouteEntity](ctx, c, "/v2/routes?"+query("host:"+host, "domain_guid:"+domain.Guid), op, name)
	if err != nil {
		return cloudfoundry.Route{}, err
	}

	if len(routes) == 0 {
		return cloudfoundry.Route{}, &PlatformError{Op: op, Name: name, Kind: ErrInvalidState, Description: "route " + uri + " does not exist"}
	}

	return cloudfoundry.Route{Guid: routes[0].Metadata.Guid, Host: host, Domain: domain}, nil
}

// FetchDomains returns the private domains of the organization followed by the shared domains.
func (c *CloudFoundryApiClient) FetchDomains(ctx context.Context) ([]cloudfoundry.Domain, error) {
	orgGuid, err := c.getOrgGuid(ctx)
	if err != nil {
		return nil, err
	}

	private, err := getAllResources[cloudfoundry.DomainEntity](ctx, c, "/v2/organizations/"+orgGuid+"/private_domains", "list domains", c.Organization)
	if err != nil {
		return nil, err
	}

	shared, err := getAllResources[cloudfoundry.DomainEntity](ctx, c, "/v2/shared_domains", "list domains", c.Organization)
	if err != nil {
		return nil, err
	}

	domains := lo.Map(append(private, shared...), func(item cloudfoundry.Resource[cloudfoundry.DomainEntity], index int) cloudfoundry.Domain {
		return cloudfoundry.Domain{Guid: item.Metadata.Guid, Name: item.Entity.Name}
	})

	c.domainsMu.Lock()
	c.domains = domains
	c.domainsMu.Unlock()

	return domains, nil
}

func (c *CloudFoundryApiClient) FetchRoutes(ctx context.Context, domain cloudfoundry.Domain) ([]cloudfoundry.Route, error) {
	resources, err := getAllResources[cloudfoundry.RouteEntity](ctx, c, "/v2/routes?"+query("domain_guid:"+domain.Guid), "list routes", domain.Name)
	if err != nil {
		return nil, err
	}

	routes := []cloudfoundry.Route{}
	for _, resource := range resources {
		route := cloudfoundry.Route{
			Guid:   resource.Metadata.Guid,
			Host:   resource.Entity.Host,
			Domain: domain,
		}

		apps := cloudfoundry.GeneralCollection[cloudfoundry.AppEntity]{}
		if err := c.get(ctx, "/v2/routes/"+route.Guid+"/apps?results-per-page=1", "count route apps", route.Uri(), &apps); err != nil {
			return nil, err
		}

		route.BoundInstanceCount = apps.TotalResults
		routes = append(routes, route)
	}

	return routes, nil
}

func (c *CloudFoundryApiClient) DeleteRoute(ctx context.Context, route cloudfoundry.Route) error {
	_, err := c.do(ctx, http.MethodDelete, "/v2/routes/"+route.Guid, nil, "delete route", route.Uri())
	return err
}

// LogStreamUrl returns the websocket url streaming the logs of the named instance.
func (c *CloudFoundryApiClient) LogStreamUrl(ctx context.Context, name string) (string, error) {
	guid, err := c.getAppGuid(ctx, "stream logs", name)
	if err != nil {
		return "", err
	}

	info := cloudfoundry.Info{}
	if err := c.get(ctx, "/v2/info", "get info", c.Url, &info); err != nil {
		return "", err
	}

	if info.DopplerLoggingEndpoint == "" {
		return "", fmt.Errorf("the platform at %s does not advertise a log endpoint", c.Url)
	}

	return strings.TrimSuffix(info.DopplerLoggingEndpoint, "/") + "/apps/" + guid + "/stream", nil
}
