// Command deployr runs a deployment description on the in-process fabric.
// Each function named by the description is registered with a stub entry
// that reports its runner id, which makes the tool a quick way to check
// that a description parses, matches and launches.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Algebraic-Programming/DeployR"
	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
	"github.com/Algebraic-Programming/DeployR/internal/logging"
	"github.com/Algebraic-Programming/DeployR/topology"
	"github.com/Algebraic-Programming/DeployR/transport/local"
)

func main() {
	var (
		descPath  = flag.String("desc", "", "Path to the deployment description JSON")
		instances = flag.Int("instances", 0, "Number of instances (default: one per runner)")
		topoPath  = flag.String("topology", "", "Optional topology JSON installed on every instance")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *descPath == "" {
		fmt.Fprintln(os.Stderr, "usage: deployr -desc <file> [-instances N] [-topology <file>] [-v]")
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	data, err := os.ReadFile(*descPath)
	if err != nil {
		logger.Error("cannot read description", "path", *descPath, "error", err)
		os.Exit(1)
	}
	desc, err := deployr.ParseDescription(data)
	if err != nil {
		logger.Error("invalid description", "error", err)
		os.Exit(1)
	}

	var topo *topology.Topology
	if *topoPath != "" {
		raw, err := os.ReadFile(*topoPath)
		if err != nil {
			logger.Error("cannot read topology", "path", *topoPath, "error", err)
			os.Exit(1)
		}
		topo = topology.New()
		if err := topo.UnmarshalJSON(raw); err != nil {
			logger.Error("invalid topology", "error", err)
			os.Exit(1)
		}
	}

	n := *instances
	if n == 0 {
		n = len(desc.Runners)
	}

	fabric, err := local.New(local.Config{Instances: n, Logger: logger})
	if err != nil {
		logger.Error("cannot create fabric", "error", err)
		os.Exit(1)
	}

	logger.Info("deploying", "runners", len(desc.Runners), "instances", n)

	var coordinatorMetrics deployr.MetricsSnapshot
	err = fabric.Run(func(t interfaces.Transport) error {
		rt := deployr.New(t, &deployr.Options{Logger: logger})
		if topo != nil {
			if err := rt.SetLocalTopology(topo); err != nil {
				return err
			}
		}

		for _, dr := range desc.Runners {
			fn := dr.Function
			err := rt.RegisterFunction(fn, func() {
				id, _ := rt.RunnerID()
				logger.Info("runner entry executed", "function", fn, "runner", id)
			})
			if err != nil && !deployr.IsCode(err, deployr.ErrCodeDuplicateName) {
				return err
			}
		}

		coordinator := t.RootID()
		dep, err := desc.Deployment(coordinator)
		if err != nil {
			return err
		}

		if err := rt.Initialize(); err != nil {
			return err
		}
		if err := rt.Deploy(dep); err != nil {
			return err
		}
		if t.InstanceID() == coordinator {
			coordinatorMetrics = rt.Metrics().Snapshot()
		}
		return rt.Finalize()
	})
	if err != nil {
		logger.Error("deployment failed", "error", err)
		os.Exit(1)
	}

	logger.Info("deployment complete",
		"dispatches", coordinatorMetrics.Dispatches,
		"gathers", coordinatorMetrics.Gathers,
		"rpc_served", coordinatorMetrics.RPCServed)
}
