package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vellum/cli/render"
	"github.com/pithecene-io/vellum/lode"
	"github.com/pithecene-io/vellum/runtime"
)

// historyWarningThreshold is the result count above which an unlimited
// listing prints a hint on a terminal.
const historyWarningThreshold = 100

// HistoryCommand returns the history command.
// It lists archived generations, latest first.
func HistoryCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of generations (0 for all)",
			Value: 20,
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Only list generations for this model",
		},
	}
	flags = append(flags, storageFlags()...)
	flags = append(flags, OutputFlags()...)

	return &cli.Command{
		Name:   "history",
		Usage:  "List archived generations",
		Flags:  flags,
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for history command", runtime.ExitCodeError)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	storage, err := resolveStorage(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	ds, err := openReadDataset(c.Context, storage)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	limit := c.Int("limit")
	records, err := lode.QueryGenerations(c.Context, ds, c.String("model"), limit)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	if records == nil {
		records = []lode.GenerationRecord{}
	}
	if len(records) > historyWarningThreshold && limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(records))
	}
	return r.Render(render.HistoryView(records))
}
