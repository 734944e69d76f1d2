package cloudfoundry

import "strings"

type Domain struct {
	Guid string
	Name string
}

func (d Domain) GetName() string {
	return d.Name
}

func (d Domain) GetGuid() string {
	return d.Guid
}

// Route is a host on a domain. BoundInstanceCount is the number of apps mapped to it; a route
// with no apps is an orphan.
type Route struct {
	Guid               string
	Host               string
	Domain             Domain
	BoundInstanceCount int
}

func (r Route) GetName() string {
	return r.Uri()
}

func (r Route) GetGuid() string {
	return r.Guid
}

// Uri returns host.domain, or just the domain for a route without a host.
func (r Route) Uri() string {
	return JoinUri(r.Host, r.Domain.Name)
}

func (r Route) IsOrphan() bool {
	return r.BoundInstanceCount == 0
}

func JoinUri(host string, domain string) string {
	if strings.TrimSpace(host) == "" {
		return domain
	}

	return host + "." + domain
}

type DomainEntity struct {
	Name string `json:"name"`
}

type RouteEntity struct {
	Host       string                  `json:"host"`
	DomainGuid string                  `json:"domain_guid"`
	Domain     *Resource[DomainEntity] `json:"domain,omitempty"`
	AppsUrl    string                  `json:"apps_url"`
}

type OrganizationEntity struct {
	Name string `json:"name"`
}

type SpaceEntity struct {
	Name             string `json:"name"`
	OrganizationGuid string `json:"organization_guid"`
}

// Info is the subset of /v2/info used to locate the log stream.
type Info struct {
	DopplerLoggingEndpoint string `json:"doppler_logging_endpoint"`
}
