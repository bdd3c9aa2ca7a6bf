package main

import (
	"fmt"
	"io"
	"time"

	"ald-reactor/internal/config"
	"ald-reactor/internal/recipe"
	"ald-reactor/internal/types"

	"github.com/spf13/cobra"
)

// planFlags 覆盖配置文件中的默认参数
type planFlags struct {
	t1Ms, p1, t2, p2, plasma float64
	n, n2                    int
	cutCarrier               bool
}

func newPlanCmd(configPath *string) *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "plan <recipe>",
		Short: "Print the resolved steps and estimated duration of a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			r, err := recipe.Lookup(args[0])
			if err != nil {
				return err
			}
			params := f.apply(cmd, cfg.Defaults.Params())

			var opts []recipe.Option
			if rc, ok := cfg.Recipes[r.Kind]; ok {
				opts = append(opts, recipe.WithWait(rc.Wait(), rc.IncludeWaitInEstimate))
			}
			plan, err := r.Resolve(params, opts...)
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan, time.Now())
			return nil
		},
	}
	fl := cmd.Flags()
	fl.Float64Var(&f.t1Ms, "t1-ms", 0, "precursor 1 pulse (ms)")
	fl.Float64Var(&f.p1, "p1", 0, "precursor 1 purge (s)")
	fl.Float64Var(&f.t2, "t2", 0, "precursor 2 / plasma pulse (s)")
	fl.Float64Var(&f.p2, "p2", 0, "precursor 2 purge (s)")
	fl.IntVarP(&f.n, "cycles", "n", 0, "outer cycles N")
	fl.IntVar(&f.n2, "n2", 0, "precursor 2 sub-cycles N2")
	fl.Float64Var(&f.plasma, "plasma", 0, "plasma power (W)")
	fl.BoolVar(&f.cutCarrier, "cut-carrier", false, "cut carrier gas during precursor 2 pulses")
	return cmd
}

// apply 只覆盖命令行上显式给出的参数
func (f planFlags) apply(cmd *cobra.Command, p types.Params) types.Params {
	fl := cmd.Flags()
	if fl.Changed("t1-ms") {
		p.Pulse1 = types.PulseFromMillis(f.t1Ms)
	}
	if fl.Changed("p1") {
		p.Purge1 = f.p1
	}
	if fl.Changed("t2") {
		p.Pulse2 = f.t2
	}
	if fl.Changed("p2") {
		p.Purge2 = f.p2
	}
	if fl.Changed("cycles") {
		p.Cycles = f.n
	}
	if fl.Changed("n2") {
		p.InnerRepeats = f.n2
	}
	if fl.Changed("plasma") {
		p.PlasmaPowerW = f.plasma
	}
	if fl.Changed("cut-carrier") {
		p.CutCarrierDuringPulse2 = f.cutCarrier
	}
	return p
}

func printPlan(w io.Writer, plan *recipe.Plan, now time.Time) {
	fmt.Fprintf(w, "recipe          %s\n", plan.Recipe.Name)
	for i, label := range plan.Labels {
		fmt.Fprintf(w, "step %-10d %s\n", i+1, label)
	}
	fmt.Fprintf(w, "cycles          %d\n", plan.Cycles)
	if plan.SubCycles > 0 {
		fmt.Fprintf(w, "sub_cycles      %d\n", plan.SubCycles)
	}
	fmt.Fprintf(w, "time_per_cycle  %s\n", types.FormatDuration(types.Seconds(plan.PerCycle)))
	fmt.Fprintf(w, "total           %s s (%s)\n", types.FormatSeconds(plan.Total), types.FormatDuration(plan.TotalDuration()))
	if plan.Wait > 0 {
		fmt.Fprintf(w, "wait            %s\n", types.FormatDuration(plan.Wait))
	}
	fmt.Fprintf(w, "estimate        %s\n", types.FormatDuration(plan.Estimate()))
	fmt.Fprintf(w, "eta             %s\n", now.Add(plan.Wait+plan.TotalDuration()).Format(time.DateTime))
}
