package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/model/cloudfoundry"
)

var (
	// ErrNotFound means the instance or route no longer exists. Usually another process removed it first.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the platform refused the change in the resource's current state,
	// for example updating the routes of an app that is not staged.
	ErrInvalidState = errors.New("invalid state")
	// ErrRemote covers transport failures and every other unexpected response.
	ErrRemote = errors.New("remote error")
)

// Selector narrows ListInstances. An empty selector lists every instance in the space.
type Selector struct {
	BaseIdentifiers []string
}

// InstanceClient is what the cleanup goal needs from the platform.
type InstanceClient interface {
	ListInstances(ctx context.Context, selector Selector) ([]cloudfoundry.Instance, error)
	DeleteInstance(ctx context.Context, name string) error
	UpdateRoutes(ctx context.Context, name string, uris []string) error
	StopInstance(ctx context.Context, name string) error
}

// RouteClient is what the orphan route sweep needs from the platform.
type RouteClient interface {
	FetchDomains(ctx context.Context) ([]cloudfoundry.Domain, error)
	FetchRoutes(ctx context.Context, domain cloudfoundry.Domain) ([]cloudfoundry.Route, error)
	DeleteRoute(ctx context.Context, route cloudfoundry.Route) error
}

type LogClient interface {
	LogStreamUrl(ctx context.Context, name string) (string, error)
}

type PlatformClient interface {
	InstanceClient
	RouteClient
	LogClient
}

// PlatformError describes a failed platform call. errors.Is matches it against its Kind
// (ErrNotFound, ErrInvalidState or ErrRemote) and against the underlying cause, if any.
type PlatformError struct {
	Op          string
	Name        string
	Kind        error
	StatusCode  int
	ErrorCode   string
	Description string
	Err         error
}

func (e *PlatformError) Error() string {
	message := fmt.Sprintf("%s %s: %s", e.Op, e.Name, e.Kind)

	if e.StatusCode != 0 {
		message += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.ErrorCode != "" {
		message += " " + e.ErrorCode
	}

	if e.Description != "" {
		message += ": " + e.Description
	}

	if e.Err != nil {
		message += ": " + e.Err.Error()
	}

	return message
}

func (e *PlatformError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(op string, name string) error {
	return &PlatformError{Op: op, Name: name, Kind: ErrNotFound}
}
