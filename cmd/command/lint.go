package command

import (
	"os"

	"github.com/common-fate/clio"
	"github.com/dominikbraun/graph/draw"
	"github.com/flowplane/flowplane"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var Lint = cli.Command{
	Name:  "lint",
	Usage: "validate a workflow file without saving it",
	Flags: []cli.Flag{
		&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "the workflow YAML file", Required: true},
		&cli.PathFlag{Name: "actions", Usage: "action catalog YAML file"},
		&cli.BoolFlag{Name: "dot", Usage: "print the workflow graph in DOT format"},
	},
	Action: func(c *cli.Context) error {
		wf, err := loadWorkflow(c.Path("file"))
		if err != nil {
			return err
		}
		cat, err := loadCatalog(c.Path("actions"))
		if err != nil {
			return err
		}

		g, err := flowplane.Reconstruct(wf.Steps, wf.Layout)
		if err != nil {
			return err
		}

		v := flowplane.Validator{Catalog: cat}
		problems := v.Validate(wf.Name, g.Nodes, g.Edges)
		for _, p := range problems {
			if p.NodeID != "" {
				clio.Errorf("%s (node %s): %s", p.Code, p.NodeID, p.Message)
			} else {
				clio.Errorf("%s: %s", p.Code, p.Message)
			}
		}

		if c.Bool("dot") {
			dg, err := g.Directed()
			if err != nil {
				return err
			}
			if err := draw.DOT(dg, os.Stdout); err != nil {
				return err
			}
		}

		if len(problems) > 0 {
			return errors.Errorf("%d problem(s) found", len(problems))
		}
		clio.Infof("workflow %q is valid (%d steps)", wf.Name, len(wf.Steps))
		return nil
	},
}
