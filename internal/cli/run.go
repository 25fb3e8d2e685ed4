package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/phanxgames/arbor"
	"github.com/phanxgames/arbor/internal/bounce"
)

type runOptions struct {
	configPath  string
	ticks       int
	groups      int
	half        int
	seed        uint64
	metricsAddr string
	hold        bool
}

func newRunCmd(verbose *bool) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate the bounce workload and report tick timings",
		Long: `Run builds one rig per group (a root with a cubic lattice of children),
then ticks every group in parallel: each body falls, bounces off the floor
and is written back with WriteGlobal before the group propagates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := DefaultConfig()
			if opts.configPath != "" {
				var err error
				if cfg, err = LoadConfig(opts.configPath); err != nil {
					return err
				}
			}
			flags := cmd.Flags()
			if flags.Changed("ticks") {
				cfg.Ticks = opts.ticks
			}
			if flags.Changed("groups") {
				cfg.Scene.Groups = opts.groups
			}
			if flags.Changed("half") {
				cfg.Scene.Half = opts.half
			}
			if flags.Changed("seed") {
				cfg.Scene.Seed = opts.seed
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = opts.metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			rep, err := runBench(ctx, cfg, *verbose)
			if err != nil {
				return err
			}
			rep.print(cmd.OutOrStdout())

			if opts.hold && cfg.MetricsAddr != "" {
				loggerFromContext(ctx).Info("serving metrics until interrupted")
				<-ctx.Done()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "TOML configuration file")
	cmd.Flags().IntVarP(&opts.ticks, "ticks", "n", 0, "number of ticks to run")
	cmd.Flags().IntVar(&opts.groups, "groups", 0, "number of groups")
	cmd.Flags().IntVar(&opts.half, "half", 0, "lattice half extent per axis")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.hold, "hold", false, "keep serving metrics after the run until interrupted")
	return cmd
}

// report summarizes a run.
type report struct {
	Nodes      int
	Ticks      int
	Recomputed int
	Total      time.Duration
	P50, P99   time.Duration
	Max        time.Duration
}

func (r report) print(w io.Writer) {
	fmt.Fprintf(w, "nodes       %d\n", r.Nodes)
	fmt.Fprintf(w, "ticks       %d\n", r.Ticks)
	fmt.Fprintf(w, "recomputed  %d\n", r.Recomputed)
	fmt.Fprintf(w, "total       %v\n", r.Total.Round(time.Microsecond))
	fmt.Fprintf(w, "p50         %v\n", r.P50.Round(time.Microsecond))
	fmt.Fprintf(w, "p99         %v\n", r.P99.Round(time.Microsecond))
	fmt.Fprintf(w, "max         %v\n", r.Max.Round(time.Microsecond))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(p * float64(len(sorted)-1))
	return sorted[i]
}

func runBench(ctx context.Context, cfg Config, debug bool) (report, error) {
	logger := loggerFromContext(ctx)

	build := newProgress(logger)
	world, err := bounce.New(cfg.Scene)
	if err != nil {
		return report{}, err
	}
	defer world.Scene.Release()
	if debug {
		world.Scene.SetLogger(logger)
		world.Scene.SetDebugMode(true)
	}
	build.done("built scene", "groups", cfg.Scene.Groups, "nodes", world.Scene.Len())

	m := newMetrics()
	m.nodes.Set(float64(world.Scene.Len()))
	if cfg.MetricsAddr != "" {
		addr, err := m.serve(ctx, cfg.MetricsAddr)
		if err != nil {
			return report{}, fmt.Errorf("metrics: %w", err)
		}
		logger.Info("serving metrics", "addr", "http://"+addr+"/metrics")
	}

	runner := arbor.NewRunner(world.Scene, world.Step)
	defer runner.Close()

	rep := report{Nodes: world.Scene.Len()}
	durations := make([]time.Duration, 0, cfg.Ticks)
	sim := newProgress(logger)
	for i := 0; i < cfg.Ticks; i++ {
		st, err := runner.Tick(ctx)
		if err != nil {
			return rep, fmt.Errorf("tick %d: %w", i, err)
		}
		m.observe(st)
		durations = append(durations, st.Duration)
		rep.Ticks++
		rep.Recomputed += st.Propagate.Recomputed
		rep.Total += st.Duration
		logger.Debug("tick", "n", i, "recomputed", st.Propagate.Recomputed, "took", st.Duration)
	}
	sim.done("simulated", "ticks", rep.Ticks)

	slices.Sort(durations)
	rep.P50 = percentile(durations, 0.50)
	rep.P99 = percentile(durations, 0.99)
	if len(durations) > 0 {
		rep.Max = durations[len(durations)-1]
	}
	return rep, nil
}
