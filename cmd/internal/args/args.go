package args

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/naming"
	"github.com/spf13/viper"
	"k8s.io/utils/strings/slices"
)

const (
	GoalCleanup      = "cleanup"
	GoalOrphanRoutes = "orphan-routes"
	GoalStreamLogs   = "stream-logs"

	DefaultConcurrency       = 4
	DefaultKeepAliveInterval = 75 * time.Second
)

var Goals = []string{GoalCleanup, GoalOrphanRoutes, GoalStreamLogs}

type Arguments struct {
	ConfigFile string
	ConfigPath string
	Version    bool
	Verbose    bool

	Goal         string
	Url          string
	Token        string
	Organization string
	Space        string
	Destination  string
	Console      bool
	DryRun       bool
	FailOnError  bool
	Concurrency  int

	Apps                 StringSliceArgs
	NamingConvention     string
	BuildInfix           string
	BuildsToRetain       int
	StopNonPrimaryBuilds bool

	ExcludeRoutes       StringSliceArgs
	ExcludeRoutesRegex  StringSliceArgs
	ExcludeRoutesExcept StringSliceArgs

	KeepAliveInterval time.Duration
}

// NamingConfig is the naming convention selected by the arguments.
func (arguments *Arguments) NamingConfig() naming.Config {
	config := naming.DefaultConfig(naming.Convention(arguments.NamingConvention))
	config.Infix = arguments.BuildInfix
	return config
}

type StringSliceArgs []string

func (i *StringSliceArgs) String() string {
	return "A collection of strings passed as arguments"
}

func (i *StringSliceArgs) Set(value string) error {
	trimmed := strings.TrimSpace(value)

	if len(trimmed) == 0 {
		return nil
	}

	*i = append(*i, trimmed)
	return nil
}

func ParseArgs(args []string) (Arguments, string, error) {
	flags := flag.NewFlagSet("cfhousekeeper", flag.ContinueOnError)
	var buf bytes.Buffer
	flags.SetOutput(&buf)

	arguments := Arguments{}

	flags.StringVar(&arguments.ConfigFile, "configFile", "cfhousekeeper", "The name of the configuration file to use. Do not include the extension. Defaults to cfhousekeeper")
	flags.StringVar(&arguments.ConfigPath, "configPath", ".", "The path of the configuration file to use. Defaults to the current directory")
	flags.BoolVar(&arguments.Version, "version", false, "Print the version")
	flags.BoolVar(&arguments.Verbose, "verbose", false, "Enable debug logging")
	flags.StringVar(&arguments.Goal, "goal", GoalCleanup, "The task to run. One of "+strings.Join(Goals, ", ")+". Defaults to "+GoalCleanup)
	flags.StringVar(&arguments.Url, "url", "", "The Cloud Foundry API URL e.g. https://api.run.example.org. Defaults to the CF_API environment variable")
	flags.StringVar(&arguments.Token, "token", "", "The OAuth access token used to call the API. Defaults to the CF_ACCESS_TOKEN environment variable")
	flags.StringVar(&arguments.Organization, "organization", "", "The organization holding the apps")
	flags.StringVar(&arguments.Space, "space", "", "The space holding the apps")
	flags.StringVar(&arguments.Destination, "dest", "", "The directory to place the report.json file in")
	flags.BoolVar(&arguments.Console, "console", false, "Print the report to the console even when -dest is set")
	flags.BoolVar(&arguments.DryRun, "dryRun", false, "Log and report what would be changed without changing anything")
	flags.BoolVar(&arguments.FailOnError, "failOnError", false, "Exit with a non-zero code when any platform call failed for a reason other than the app or route already being gone")
	flags.IntVar(&arguments.Concurrency, "concurrency", DefaultConcurrency, "The number of apps cleaned up in parallel. The builds of one app are always processed in order")
	flags.Var(&arguments.Apps, "app", "The base name of an app whose obsolete builds are cleaned up, e.g. myapp for builds named myapp-b12. Can be repeated")
	flags.StringVar(&arguments.NamingConvention, "namingConvention", string(naming.Flat), "How build numbers appear in app names. \"flat\" means <app>-b<build>, \"versioned\" means <app>-v<version>-b<build>")
	flags.StringVar(&arguments.BuildInfix, "buildInfix", "", "A regular expression matching the text between the base name and the build number. Overrides the naming convention default")
	flags.IntVar(&arguments.BuildsToRetain, "buildsToRetain", 1, "The number of most recent builds to keep. The newest build is always kept")
	flags.BoolVar(&arguments.StopNonPrimaryBuilds, "stopNonPrimaryBuilds", false, "Stop every build other than the newest one")
	flags.Var(&arguments.ExcludeRoutes, "excludeRoutes", "A host.domain route that the orphan-routes goal must never delete. Can be repeated")
	flags.Var(&arguments.ExcludeRoutesRegex, "excludeRoutesRegex", "A regular expression matching host.domain routes that the orphan-routes goal must never delete. Can be repeated")
	flags.Var(&arguments.ExcludeRoutesExcept, "excludeRoutesExcept", "A host.domain route that the orphan-routes goal may delete. All other routes are excluded. Can be repeated")
	flags.DurationVar(&arguments.KeepAliveInterval, "keepAliveInterval", DefaultKeepAliveInterval, "How often the stream-logs goal sends a keep alive message")

	err := flags.Parse(args)

	if err != nil {
		return Arguments{}, buf.String(), err
	}

	err = overrideArgs(flags, arguments.ConfigPath, arguments.ConfigFile)

	if err != nil {
		return Arguments{}, buf.String(), err
	}

	if arguments.Url == "" {
		arguments.Url = os.Getenv("CF_API")
	}

	if arguments.Token == "" {
		arguments.Token = os.Getenv("CF_ACCESS_TOKEN")
	}

	return arguments, buf.String(), nil
}

// Validate reports every invalid argument at once.
func (arguments *Arguments) Validate() (funcErr error) {
	required := map[string]string{
		"url":          arguments.Url,
		"token":        arguments.Token,
		"organization": arguments.Organization,
		"space":        arguments.Space,
	}

	for _, name := range []string{"url", "token", "organization", "space"} {
		if strings.TrimSpace(required[name]) == "" {
			funcErr = errors.Join(funcErr, fmt.Errorf("the -%s argument is required", name))
		}
	}

	if !slices.Contains(Goals, arguments.Goal) {
		funcErr = errors.Join(funcErr, fmt.Errorf("the -goal argument must be one of %s, was %q", strings.Join(Goals, ", "), arguments.Goal))
	}

	if !slices.Contains(naming.Conventions, arguments.NamingConvention) {
		funcErr = errors.Join(funcErr, fmt.Errorf("the -namingConvention argument must be one of %s, was %q", strings.Join(naming.Conventions, ", "), arguments.NamingConvention))
	}

	if arguments.BuildInfix != "" {
		if _, err := regexp.Compile(arguments.BuildInfix); err != nil {
			funcErr = errors.Join(funcErr, fmt.Errorf("the -buildInfix argument is not a valid regular expression: %w", err))
		}
	}

	if arguments.BuildsToRetain < 0 {
		funcErr = errors.Join(funcErr, fmt.Errorf("the -buildsToRetain argument must not be negative, was %d", arguments.BuildsToRetain))
	}

	if arguments.Concurrency < 1 {
		funcErr = errors.Join(funcErr, fmt.Errorf("the -concurrency argument must be at least 1, was %d", arguments.Concurrency))
	}

	if (arguments.Goal == GoalCleanup || arguments.Goal == GoalStreamLogs) && len(arguments.Apps) == 0 {
		funcErr = errors.Join(funcErr, fmt.Errorf("the -app argument is required by the %s goal", arguments.Goal))
	}

	if arguments.Goal == GoalStreamLogs && len(arguments.Apps) > 1 {
		funcErr = errors.Join(funcErr, errors.New("the stream-logs goal streams exactly one -app"))
	}

	for _, expression := range arguments.ExcludeRoutesRegex {
		if _, err := regexp.Compile(expression); err != nil {
			funcErr = errors.Join(funcErr, fmt.Errorf("the -excludeRoutesRegex argument %q is not a valid regular expression: %w", expression, err))
		}
	}

	return funcErr
}

// Inspired by https://github.com/carolynvs/stingoftheviper
func overrideArgs(flags *flag.FlagSet, configPath string, configFile string) error {
	v := viper.New()

	// Set the base name of the config file, without the file extension.
	v.SetConfigName(configFile)

	// We are only looking in the one directory.
	v.AddConfigPath(configPath)

	// It's okay if there isn't a config file, but a config file that can not be parsed is an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	// A flag like -buildsToRetain binds to the environment variable CFHOUSEKEEPER_BUILDSTORETAIN.
	v.SetEnvPrefix("cfhousekeeper")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return bindFlags(flags, v)
}

// Bind each flag to its associated viper configuration (config file and environment variable)
func bindFlags(flags *flag.FlagSet, v *viper.Viper) (funcErr error) {
	defined := map[string]bool{}
	flags.Visit(func(definedFlag *flag.Flag) {
		defined[definedFlag.Name] = true
	})

	flags.VisitAll(func(allFlags *flag.Flag) {
		if allFlags.Name == "configFile" || allFlags.Name == "configPath" {
			return
		}

		if defined[allFlags.Name] || !v.IsSet(allFlags.Name) {
			return
		}

		// lists in a config file set a repeatable flag once per item
		switch v.Get(allFlags.Name).(type) {
		case []any, []string:
			for _, value := range v.GetStringSlice(allFlags.Name) {
				funcErr = errors.Join(funcErr, flags.Set(allFlags.Name, value))
			}
		default:
			funcErr = errors.Join(funcErr, flags.Set(allFlags.Name, v.GetString(allFlags.Name)))
		}
	})

	return funcErr
}
