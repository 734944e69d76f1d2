package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/args"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/entry"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/logger"
	"github.com/OctopusSolutionsEngineering/CfHousekeeper/cmd/internal/output"
	"go.uber.org/zap"
)

var Version = "development"

func main() {
	parseArgs, argsErrors, err := args.ParseArgs(os.Args[1:])

	logger.BuildLogger(parseArgs.Verbose)

	if errors.Is(err, flag.ErrHelp) {
		zap.L().Error(argsErrors)
		os.Exit(2)
	} else if err != nil {
		zap.L().Error("got error: " + err.Error())
		zap.L().Error("argsErrors:\n" + argsErrors)
		os.Exit(1)
	}

	if parseArgs.Version {
		zap.L().Info("Version: " + Version)
		os.Exit(0)
	}

	if err := parseArgs.Validate(); err != nil {
		errorExit(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := entry.Entry(ctx, parseArgs, entry.NewPlatformClient(parseArgs), os.Stdout)

	if err != nil {
		errorExit(err.Error())
	}

	if parseArgs.Goal == args.GoalStreamLogs {
		return
	}

	err = output.WriteReport(report, parseArgs.Destination, parseArgs.Console, os.Stdout)

	if err != nil {
		errorExit(err.Error())
	}

	if report.Failed(parseArgs.FailOnError) {
		errorExit("The cleanup did not complete successfully, see report.json for the failed platform calls")
	}
}

func errorExit(message string) {
	if len(message) == 0 {
		message = "No error message provided"
	}
	zap.L().Error(message)
	os.Exit(1)
}
