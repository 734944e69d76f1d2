package orphans

import "testing"

func TestExcludeNone(t *testing.T) {
	excluder := RouteExcluder{}

	if excluder.IsExcluded("a.example.org") {
		t.Fatalf("Route must not be excluded")
	}
}

func TestExcludeByUri(t *testing.T) {
	excluder := RouteExcluder{ExcludeThese: []string{"a.example.org"}}

	if !excluder.IsExcluded("a.example.org") {
		t.Fatalf("Route must be excluded")
	}

	if excluder.IsExcluded("b.example.org") {
		t.Fatalf("Route must not be excluded")
	}
}

func TestExcludeByRegex(t *testing.T) {
	excluder, err := NewRouteExcluder(nil, []string{`^keep-.*`, ""}, nil)
	if err != nil {
		t.Fatalf("Excluder should have been created: %v", err)
	}

	if !excluder.IsExcluded("keep-me.example.org") {
		t.Fatalf("Route must be excluded")
	}

	if excluder.IsExcluded("drop-me.example.org") {
		t.Fatalf("Route must not be excluded")
	}
}

func TestExcludeByInvalidRegex(t *testing.T) {
	if _, err := NewRouteExcluder(nil, []string{`(`}, nil); err == nil {
		t.Fatalf("An invalid regex should have been rejected")
	}
}

func TestExcludeByUriException(t *testing.T) {
	excluder := RouteExcluder{ExcludeAllButThese: []string{"a.example.org"}}

	if excluder.IsExcluded("a.example.org") {
		t.Fatalf("Route must not be excluded")
	}

	if !excluder.IsExcluded("b.example.org") {
		t.Fatalf("Route must be excluded")
	}
}

func TestExcludeByUriAndException(t *testing.T) {
	excluder := RouteExcluder{ExcludeThese: []string{"a.example.org"}, ExcludeAllButThese: []string{"a.example.org"}}

	if !excluder.IsExcluded("a.example.org") {
		t.Fatalf("Route must be excluded")
	}
}

func TestEmptyUri(t *testing.T) {
	if !(RouteExcluder{}).IsExcluded(" ") {
		t.Fatalf("Route must be excluded")
	}
}
