// Command rkmerson drives the distributed adaptive RK-Merson engine from
// a parameter file or, for quick smoke-testing, an ambient demo scenario.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// Exit codes per the core design's error taxonomy (§9 of the core design):
// 0 success, 1 parse/runtime errors, 2 topology-initialization failure, 3
// catastrophic failure before any collective is available, and otherwise
// the exit code a coordinated topology.Halt carries.
const (
	exitOK                 = 0
	exitRuntime            = 1
	exitTopologyInit       = 2
	exitCatastrophicMemory = 3
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	atexit.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var masterRank int
	var batchSpec string
	var demoPath string
	exitCode := exitOK

	root := &cobra.Command{
		Use:           "rkmerson <parameter_file> [<master_rank>] [<batch_upper_bounds>]",
		Short:         "distributed adaptive RK-Merson simulation driver",
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			if demoPath != "" {
				code, err := runDemo(demoPath)
				exitCode = code
				return err
			}
			if len(cmdArgs) == 0 {
				exitCode = exitRuntime
				return fmt.Errorf("rkmerson: a parameter file argument is required")
			}
			if len(cmdArgs) >= 2 {
				n, err := strconv.Atoi(cmdArgs[1])
				if err != nil {
					exitCode = exitRuntime
					return fmt.Errorf("rkmerson: invalid master rank %q: %w", cmdArgs[1], err)
				}
				masterRank = n
			}
			if len(cmdArgs) == 3 {
				batchSpec = cmdArgs[2]
			}
			code, err := runParamFile(cmdArgs[0], masterRank, batchSpec)
			exitCode = code
			return err
		},
	}
	root.Flags().IntVar(&masterRank, "master-rank", 0, "real rank to address as virtual rank 0")
	root.Flags().StringVar(&batchSpec, "batch", "", "comma-separated batch-loop upper bounds, outermost first")
	root.Flags().StringVar(&demoPath, "demo", "", "run the ambient decay demo from a scenario YAML file")

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rkmerson:", err)
		slog.Error("run failed", "error", err)
		if exitCode == exitOK {
			exitCode = exitRuntime
		}
	}
	slog.Info("run finished", "exitCode", exitCode)
	return exitCode
}
