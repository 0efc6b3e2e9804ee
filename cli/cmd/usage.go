package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vellum/cli/render"
	"github.com/pithecene-io/vellum/cli/tui"
	"github.com/pithecene-io/vellum/iox"
	"github.com/pithecene-io/vellum/runtime"
	"github.com/pithecene-io/vellum/usage"
)

// UsageCommand returns the usage command.
// It shows persisted totals and recent runs, or resets them.
func UsageCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		&cli.BoolFlag{
			Name:  "reset",
			Usage: "Reset totals and history",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Number of recent runs to show (0 for all)",
			Value: 10,
		},
	}
	flags = append(flags, usageFlags()...)
	flags = append(flags, OutputFlags()...)

	return &cli.Command{
		Name:   "usage",
		Usage:  "Show or reset accumulated token usage",
		Flags:  flags,
		Action: usageAction,
	}
}

func usageAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	store, _, err := openUsageStore(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	agg, err := usage.NewAggregator(c.Context, store, buildPricing(cfg))
	if err != nil {
		_ = store.Close()
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	defer iox.DiscardClose(agg)

	if c.Bool("reset") {
		if err := agg.Reset(c.Context); err != nil {
			return cli.Exit(err.Error(), runtime.ExitCodeError)
		}
	}

	limit := c.Int("limit")
	if c.Bool("tui") {
		return tui.RunUsage(agg.Totals(), limit)
	}
	return r.Render(render.NewUsageView(agg.Totals(), limit))
}
