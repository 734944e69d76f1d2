package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/utils/strings/slices"
)

// Convention selects how a build number is embedded in an instance name.
type Convention string

const (
	// Flat names look like <base>-b<N>
	Flat Convention = "flat"
	// Versioned names look like <base>-v<version>-b<N>, where the version holds only digits, dots and
	// hyphens. The version is ignored for ordering.
	Versioned Convention = "versioned"
)

const (
	FlatInfix      = `-b`
	VersionedInfix = `-v[\d.-]+-b`
)

var Conventions = []string{string(Flat), string(Versioned)}

// ErrInvalidBuildName means a name looks like a build of the application but has no usable build number.
// This points to a broken deployment naming process and is never defaulted.
var ErrInvalidBuildName = errors.New("invalid build name")

// BuildIdentity is derived from an instance name.
type BuildIdentity struct {
	BaseIdentifier string
	BuildNumber    int
}

// Config describes the naming convention. Infix is a regex fragment placed between the base identifier
// and the build number, and overrides the convention default when set.
type Config struct {
	Convention Convention
	Infix      string
	BaseGroup  string
	BuildGroup string
}

func DefaultConfig(convention Convention) Config {
	return Config{
		Convention: convention,
		BaseGroup:  "base",
		BuildGroup: "buildNumber",
	}
}

// Codec parses and formats instance names. It holds no mutable state and is safe for concurrent use.
type Codec struct {
	config Config
	infix  string
}

func NewCodec(config Config) (Codec, error) {
	if !slices.Contains(Conventions, string(config.Convention)) {
		return Codec{}, fmt.Errorf("unknown naming convention %q, expected one of %s", config.Convention, strings.Join(Conventions, ", "))
	}

	if config.BaseGroup == "" {
		config.BaseGroup = "base"
	}

	if config.BuildGroup == "" {
		config.BuildGroup = "buildNumber"
	}

	if config.BaseGroup == config.BuildGroup {
		return Codec{}, errors.New("the base and build group names must differ")
	}

	infix := config.Infix
	if infix == "" {
		infix = defaultInfix(config.Convention)
	}

	if _, err := regexp.Compile(infix); err != nil {
		return Codec{}, fmt.Errorf("build infix %q is not a valid regular expression: %w", infix, err)
	}

	return Codec{config: config, infix: infix}, nil
}

func defaultInfix(convention Convention) string {
	if convention == Versioned {
		return VersionedInfix
	}

	return FlatInfix
}

func (c Codec) Convention() Convention {
	return c.config.Convention
}

// Matcher compiles the patterns for one base identifier.
func (c Codec) Matcher(baseIdentifier string) (Matcher, error) {
	if strings.TrimSpace(baseIdentifier) == "" {
		return Matcher{}, errors.New("the base identifier can not be empty")
	}

	quoted := regexp.QuoteMeta(baseIdentifier)

	build, err := regexp.Compile("^(?P<" + c.config.BaseGroup + ">" + quoted + ")(?:" + c.infix + ")(?P<" + c.config.BuildGroup + `>\d+)$`)
	if err != nil {
		return Matcher{}, err
	}

	// A candidate shares the base and infix but what follows is either missing or starts with a digit and
	// does not end with one. Names ending in digits that fail the build pattern belong to other apps.
	candidate, err := regexp.Compile("^" + quoted + "(?:" + c.infix + `)(?:\d.*\D)?$`)
	if err != nil {
		return Matcher{}, err
	}

	secondary, err := regexp.Compile("^" + quoted + "(?:" + c.infix + `)\d+(?:\.|$)`)
	if err != nil {
		return Matcher{}, err
	}

	return Matcher{
		baseIdentifier: baseIdentifier,
		buildGroup:     build.SubexpIndex(c.config.BuildGroup),
		build:          build,
		candidate:      candidate,
		secondary:      secondary,
	}, nil
}

// Parse is a convenience for Matcher(baseIdentifier).Parse(name). It compiles the patterns on every call,
// so code parsing many names for one base should build a Matcher once and reuse it.
func (c Codec) Parse(name string, baseIdentifier string) (BuildIdentity, bool, error) {
	matcher, err := c.Matcher(baseIdentifier)
	if err != nil {
		return BuildIdentity{}, false, err
	}

	return matcher.Parse(name)
}

// Format builds an instance name. The version is only used by the versioned convention. The result is
// checked by parsing it again, so a custom infix that is not a literal is rejected.
func (c Codec) Format(baseIdentifier string, version string, buildNumber int) (string, error) {
	if buildNumber < 0 {
		return "", fmt.Errorf("%w: build number %d is negative", ErrInvalidBuildName, buildNumber)
	}

	var name string
	switch {
	case c.config.Infix != "":
		name = baseIdentifier + c.config.Infix + strconv.Itoa(buildNumber)
	case c.config.Convention == Versioned:
		name = baseIdentifier + "-v" + version + "-b" + strconv.Itoa(buildNumber)
	default:
		name = baseIdentifier + FlatInfix + strconv.Itoa(buildNumber)
	}

	identity, ok, err := c.Parse(name, baseIdentifier)
	if err != nil {
		return "", err
	}

	if !ok || identity.BuildNumber != buildNumber {
		return "", fmt.Errorf("%w: %q does not round trip through the %s convention", ErrInvalidBuildName, name, c.config.Convention)
	}

	return name, nil
}

type Matcher struct {
	baseIdentifier string
	buildGroup     int
	build          *regexp.Regexp
	candidate      *regexp.Regexp
	secondary      *regexp.Regexp
}

func (m Matcher) BaseIdentifier() string {
	return m.baseIdentifier
}

// Parse returns ok=false for names that belong to some other application. A name that looks like
// a build of this application without a parsable build number returns ErrInvalidBuildName.
func (m Matcher) Parse(name string) (BuildIdentity, bool, error) {
	groups := m.build.FindStringSubmatch(name)
	if groups == nil {
		if m.candidate.MatchString(name) {
			return BuildIdentity{}, false, fmt.Errorf("%w: %q has no trailing build number for %q", ErrInvalidBuildName, name, m.baseIdentifier)
		}
		return BuildIdentity{}, false, nil
	}

	buildNumber, err := strconv.Atoi(groups[m.buildGroup])
	if err != nil {
		return BuildIdentity{}, false, fmt.Errorf("%w: %q: %w", ErrInvalidBuildName, name, err)
	}

	return BuildIdentity{
		BaseIdentifier: m.baseIdentifier,
		BuildNumber:    buildNumber,
	}, true, nil
}

// IsSecondaryUri reports whether the host of uri is build specific, e.g. myapp-b12.example.org,
// as opposed to the shared primary route of the application.
func (m Matcher) IsSecondaryUri(uri string) bool {
	return m.secondary.MatchString(uri)
}

// SecondaryUris keeps the build specific uris in their original order.
func (m Matcher) SecondaryUris(uris []string) []string {
	secondary := []string{}
	for _, uri := range uris {
		if m.IsSecondaryUri(uri) {
			secondary = append(secondary, uri)
		}
	}
	return secondary
}
