package command

import (
	"github.com/common-fate/clio"
	"github.com/flowplane/flowplane"
	"github.com/flowplane/flowplane/pkg/api"
	"github.com/flowplane/flowplane/pkg/filestore"
	"github.com/flowplane/flowplane/pkg/runner"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
)

var Serve = cli.Command{
	Name:  "serve",
	Usage: "run the workflow API server",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address", EnvVars: []string{"FLOWPLANE_ADDR"}},
		&cli.PathFlag{Name: "data", Value: "data", Usage: "data directory for workflows and runs", EnvVars: []string{"FLOWPLANE_DATA"}},
		&cli.PathFlag{Name: "actions", Usage: "action catalog YAML file", EnvVars: []string{"FLOWPLANE_ACTIONS"}},
		&cli.StringFlag{Name: "runner-url", Usage: "base URL of the action runner; dry-run when unset", EnvVars: []string{"FLOWPLANE_RUNNER_URL"}},
		&cli.DurationFlag{Name: "step-timeout", Value: flowplane.DefaultStepTimeout, Usage: "per-step dispatch timeout", EnvVars: []string{"FLOWPLANE_STEP_TIMEOUT"}},
	},
	Action: func(c *cli.Context) error {
		store, err := filestore.New(c.Path("data"))
		if err != nil {
			return err
		}
		cat, err := loadCatalog(c.Path("actions"))
		if err != nil {
			return err
		}

		var run runner.Runner = runner.DryRunner{}
		if url := c.String("runner-url"); url != "" {
			run = runner.NewHTTPRunner(url)
		} else {
			clio.Warn("no --runner-url set, steps will be dry-run")
		}

		a := api.API{
			Store:   store,
			Catalog: cat,
			Coordinator: &flowplane.Coordinator{
				Store:       store,
				Runner:      run,
				StepTimeout: c.Duration("step-timeout"),
			},
		}

		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		a.Routes(r)

		clio.Infof("listening on %s", c.String("addr"))
		return r.Run(c.String("addr"))
	},
}
