package cloudfoundry

// GeneralCollection is the paged envelope returned by every v2 list endpoint.
type GeneralCollection[T any] struct {
	TotalResults int           `json:"total_results"`
	TotalPages   int           `json:"total_pages"`
	PrevUrl      *string       `json:"prev_url"`
	NextUrl      *string       `json:"next_url"`
	Resources    []Resource[T] `json:"resources"`
}

type Resource[T any] struct {
	Metadata Metadata `json:"metadata"`
	Entity   T        `json:"entity"`
}

type Metadata struct {
	Guid string `json:"guid"`
	Url  string `json:"url"`
}

// ErrorResponse is the body the platform returns alongside a non-2xx status code.
type ErrorResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	ErrorCode   string `json:"error_code"`
}

// NamedResource is implemented by everything the housekeeping goals look up by name.
type NamedResource interface {
	GetName() string
	GetGuid() string
}
