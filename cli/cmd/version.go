package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vellum/cli/render"
	"github.com/pithecene-io/vellum/runtime"
	"github.com/pithecene-io/vellum/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// Fields implements render.Detail.
func (v VersionResponse) Fields() []render.Field {
	return []render.Field{
		{Label: "version", Value: v.Version},
		{Label: "commit", Value: v.Commit},
		{Label: "user agent", Value: v.UserAgent},
	}
}

// VersionCommand returns the version command.
// It must not contact the endpoint.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", runtime.ExitCodeError)
		}

		return r.Render(VersionResponse{
			Version:   types.Version,
			Commit:    commit,
			UserAgent: types.UserAgent,
		})
	}
}
