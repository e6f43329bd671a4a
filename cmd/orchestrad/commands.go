package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orchestra-dev/orchestra/internal/bus"
	"github.com/orchestra-dev/orchestra/internal/config"
	"github.com/orchestra-dev/orchestra/internal/registry"
	"github.com/orchestra-dev/orchestra/internal/schedule"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the MessageBus and any cron-triggered workflow starts",
		RunE:  runServe,
	}

	startCmd = &cobra.Command{
		Use:   "start <workflow-type>",
		Short: "Start a new workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runStart,
	}

	statusCmd = &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Show all workflow instances, or one by id",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}

	pauseCmd = &cobra.Command{
		Use:   "pause <workflow-id>",
		Short: "Pause a workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runPause,
	}

	resumeCmd = &cobra.Command{
		Use:   "resume <workflow-id>",
		Short: "Resume a paused workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}

	overrideCmd = &cobra.Command{
		Use:   "override <workflow-id> <next-state> <reason>",
		Short: "Force a workflow instance into a state, bypassing its gate",
		Args:  cobra.ExactArgs(3),
		RunE:  runOverride,
	}

	dispatchCmd = &cobra.Command{
		Use:   "dispatch <workflow-id>",
		Short: "Dispatch a workflow instance's current state",
		Args:  cobra.ExactArgs(1),
		RunE:  runDispatch,
	}

	validateCmd = &cobra.Command{
		Use:   "validate <definition-file>",
		Short: "Report structured diagnostics for a workflow definition file",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
)

func runServe(cmd *cobra.Command, args []string) error {
	b, err := bus.New(engineCfg.Root, eng, bus.WithDefinitions(reg))
	if err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	defer b.Close()

	sched := schedule.New(eng, []config.ScheduledWorkflow{})
	sched.Start()
	defer sched.Stop(engineCfg.AutopilotInterval)

	cliLog.Info("serving bus on %s", engineCfg.BusSocketPath)
	return b.Serve(cmd.Context(), engineCfg.BusSocketPath)
}

func runStart(cmd *cobra.Command, args []string) error {
	st, err := eng.Start(args[0], nil)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		st, err := eng.Get(args[0])
		if err != nil {
			return err
		}
		return printJSON(st)
	}

	states, err := eng.List()
	if err != nil {
		return err
	}
	return printJSON(states)
}

func runPause(cmd *cobra.Command, args []string) error {
	st, err := eng.Pause(args[0])
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runResume(cmd *cobra.Command, args []string) error {
	st, err := eng.Resume(args[0])
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runOverride(cmd *cobra.Command, args []string) error {
	st, err := eng.Override(args[0], args[1], args[2])
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	result, err := eng.DispatchCurrentState(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var def *workflow.Definition
	if strings.HasSuffix(args[0], ".json") {
		def, err = workflow.ParseJSON(data)
	} else {
		def, err = workflow.ParseYAML(data)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	issues := registry.Diagnose(def)
	if len(issues) == 0 {
		fmt.Printf("%s: no issues found\n", args[0])
		return nil
	}
	return printJSON(issues)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
