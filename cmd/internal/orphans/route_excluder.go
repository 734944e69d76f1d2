package orphans

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"
)

// RouteExcluder filters routes by their host.domain uri. Excluded routes are typically supplied
// from the command line.
type RouteExcluder struct {
	ExcludeThese       []string
	ExcludeRegex       []*regexp.Regexp
	ExcludeAllButThese []string
}

func NewRouteExcluder(excludeThese []string, excludeRegex []string, excludeAllButThese []string) (RouteExcluder, error) {
	compiled := []*regexp.Regexp{}
	for _, expression := range excludeRegex {
		if strings.TrimSpace(expression) == "" {
			continue
		}

		re, err := regexp.Compile(expression)
		if err != nil {
			return RouteExcluder{}, fmt.Errorf("invalid route exclusion regex %q: %w", expression, err)
		}
		compiled = append(compiled, re)
	}

	return RouteExcluder{
		ExcludeThese:       excludeThese,
		ExcludeRegex:       compiled,
		ExcludeAllButThese: excludeAllButThese,
	}, nil
}

func (e RouteExcluder) IsExcluded(uri string) bool {
	if strings.TrimSpace(uri) == "" {
		return true
	}

	if slices.Index(e.ExcludeThese, uri) != -1 {
		return true
	}

	if lo.SomeBy(e.ExcludeRegex, func(item *regexp.Regexp) bool {
		return item.MatchString(uri)
	}) {
		return true
	}

	if len(e.ExcludeAllButThese) != 0 && slices.Index(e.ExcludeAllButThese, uri) == -1 {
		return true
	}

	return false
}
