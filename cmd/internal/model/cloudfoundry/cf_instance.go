package cloudfoundry

const (
	StateStarted = "STARTED"
	StateStopped = "STOPPED"
)

// Instance is a deployed application as reported by the platform. Uris holds the host.domain
// strings of the routes currently bound to it.
type Instance struct {
	Guid  string
	Name  string
	Uris  []string
	State string
}

func (i Instance) GetName() string {
	return i.Name
}

func (i Instance) GetGuid() string {
	return i.Guid
}

func (i Instance) IsRunning() bool {
	return i.State == StateStarted
}

// AppEntity is the wire shape of /v2/apps resources.
type AppEntity struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	SpaceGuid string `json:"space_guid"`
	RoutesUrl string `json:"routes_url"`
}
