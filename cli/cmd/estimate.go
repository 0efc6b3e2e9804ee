package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vellum/cli/config"
	"github.com/pithecene-io/vellum/cli/render"
	"github.com/pithecene-io/vellum/estimate"
	"github.com/pithecene-io/vellum/runtime"
)

// EstimateCommand returns the estimate command.
func EstimateCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		&cli.BoolFlag{
			Name:  "remote",
			Usage: "Ask the estimation endpoint instead of counting locally",
		},
		&cli.StringFlag{
			Name:    "estimate-endpoint",
			Usage:   "Remote estimation endpoint URL",
			EnvVars: []string{"VELLUM_ESTIMATE_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "credential",
			Usage:   "API credential for the remote estimate",
			EnvVars: []string{"GEMINI_API_KEY"},
		},
		&cli.StringFlag{
			Name:  "file-type",
			Usage: "Override the inferred file type",
		},
	}
	flags = append(flags, inputFlags()...)
	flags = append(flags, OutputFlags()...)

	return &cli.Command{
		Name:   "estimate",
		Usage:  "Estimate input tokens and cost before generating",
		Flags:  flags,
		Action: estimateAction,
	}
}

func estimateAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for estimate command", runtime.ExitCodeError)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}

	p, err := readPayload(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeError)
	}
	req := estimate.Request{Content: p.content, FileType: p.fileType()}
	if ft := c.String("file-type"); ft != "" {
		req.FileType = ft
	}

	var est estimate.Estimator = estimate.NewLocal()
	if c.Bool("remote") {
		url := resolveString(c, "estimate-endpoint", configVal(cfg, func(c *config.Config) string { return c.Estimate.Endpoint }))
		credential := resolveString(c, "credential", configVal(cfg, func(c *config.Config) string { return c.Credential }))
		client, err := estimate.NewClient(url, credential)
		if err != nil {
			return cli.Exit(err.Error(), runtime.ExitCodeError)
		}
		est = client
	}

	e, err := est.Estimate(c.Context, req)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeFailed)
	}
	return r.Render(render.NewEstimateView(e))
}
