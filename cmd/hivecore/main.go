// Command hivecore runs the delegation core from the command line:
// load the worker roster, orchestrate a work item through routing,
// dispatch, and audit, and print the terminal outcome.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hivecore/internal/audit"
	"hivecore/internal/config"
	"hivecore/internal/events"
	"hivecore/internal/logging"
	"hivecore/internal/orchestrator"
	"hivecore/internal/protocol"
	"hivecore/internal/registry"
	"hivecore/internal/router"
	"hivecore/internal/store"
	"hivecore/internal/types"
)

var version = "0.1.0"

var (
	flagConfig string
	flagDebug  bool
)

func main() {
	root := &cobra.Command{
		Use:           "hivecore",
		Short:         "Tiered delegation and audit core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "hivecore.yaml", "config file path")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	root.AddCommand(newRunCmd(), newWorkersCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// core bundles the wired component stack.
type core struct {
	cfg   *config.Config
	bus   *events.Bus
	st    *store.Store
	reg   *registry.Registry
	proto *protocol.Protocol
	orch  *orchestrator.Orchestrator
}

// buildCore wires the full stack from config, with the scripted local
// provider standing in for every worker's capability provider.
func buildCore() (*core, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDebug {
		cfg.Logging.Debug = true
	}
	if err := logging.Init(cfg.Logging.Debug); err != nil {
		return nil, err
	}
	logging.Boot("hivecore %s starting (config=%s)", version, flagConfig)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(cfg.SlowConsumerTimeout())
	st.AttachTrail(bus)

	reg := registry.New()
	descriptors := cfg.Descriptors()
	if len(descriptors) == 0 {
		descriptors = defaultRoster()
	}
	for _, desc := range descriptors {
		if err := reg.Register(desc); err != nil {
			return nil, err
		}
	}
	for tier, workerID := range cfg.DefaultWorkerByTier {
		if err := reg.SetDefaultWorker(types.Tier(tier), workerID); err != nil {
			return nil, err
		}
	}

	proto := protocol.New(reg, bus, cfg)
	proto.SetHealthSink(st)
	proto.EnableTracking()
	for _, desc := range reg.Snapshot() {
		proto.BindProvider(desc.ID, localProvider(desc))
	}

	rt := router.New(reg, proto)
	pipe := audit.New(cfg, localExecutor{}, st, bus)
	orch := orchestrator.New(cfg, rt, proto, pipe, bus, localDecomposer(reg))
	orch.SetStateSink(st)

	return &core{cfg: cfg, bus: bus, st: st, reg: reg, proto: proto, orch: orch}, nil
}

func (c *core) close() {
	c.bus.Close()
	if err := c.st.Close(); err != nil {
		logging.Store("Close failed: %v", err)
	}
	_ = logging.Sync()
}

func newRunCmd() *cobra.Command {
	var taskType string
	cmd := &cobra.Command{
		Use:   "run <description>",
		Short: "Orchestrate one work item to a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore()
			if err != nil {
				return err
			}
			defer c.close()

			item := types.WorkItem{
				Description: args[0],
				TaskType:    taskType,
				Priority:    types.PriorityNormal,
			}
			outcome, err := c.orch.Run(context.Background(), item)
			if err != nil {
				return err
			}

			fmt.Printf("Work item %s finished: %s\n", outcome.WorkItemID, outcome.State)
			for _, res := range outcome.ChildResults {
				fmt.Printf("  %s [%s] worker=%s\n", res.WorkItemID, res.Status, res.WorkerID)
			}
			if outcome.State == types.StateEscalated {
				fmt.Printf("Escalation: %s\n", outcome.Result.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskType, "task-type", "t", "", "explicit task type tag")
	return cmd
}

func newWorkersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "Print the worker roster with live health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore()
			if err != nil {
				return err
			}
			defer c.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIER\tHEALTH\tFAILURES\tKEYWORDS")
			for _, desc := range c.reg.Snapshot() {
				h := c.proto.Health(desc.ID)
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\n",
					desc.ID, desc.Category, h.State, h.ConsecutiveFailures, desc.Keywords)
			}
			return w.Flush()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hivecore version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("hivecore", version)
		},
	}
}
