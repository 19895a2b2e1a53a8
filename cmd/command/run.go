package command

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/common-fate/clio"
	"github.com/flowplane/flowplane"
	"github.com/flowplane/flowplane/pkg/filestore"
	"github.com/flowplane/flowplane/pkg/runner"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

var Run = cli.Command{
	Name:  "run",
	Usage: "execute a workflow file",
	Flags: []cli.Flag{
		&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "the workflow YAML file", Required: true},
		&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "chain parameter as key=value (repeatable)"},
		&cli.StringFlag{Name: "runner-url", Usage: "base URL of the action runner; dry-run when unset"},
		&cli.BoolFlag{Name: "auto-approve", Usage: "skip approval gates"},
	},
	Action: func(c *cli.Context) error {
		wf, err := loadWorkflow(c.Path("file"))
		if err != nil {
			return err
		}
		if wf.ID == "" {
			wf.ID = strings.TrimSuffix(filepath.Base(c.Path("file")), filepath.Ext(c.Path("file")))
		}

		params := map[string]any{}
		for _, kv := range c.StringSlice("param") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return errors.Errorf("invalid --param %q, want key=value", kv)
			}
			params[k] = v
		}

		dir, err := os.MkdirTemp("", "flowplane-run-")
		if err != nil {
			return err
		}
		store, err := filestore.New(dir)
		if err != nil {
			return err
		}
		if err := store.SaveWorkflow(wf); err != nil {
			return err
		}

		var r runner.Runner = runner.DryRunner{}
		if url := c.String("runner-url"); url != "" {
			r = runner.NewHTTPRunner(url)
		}

		coord := &flowplane.Coordinator{
			Store:  store,
			Runner: r,
			Observer: flowplane.ObserverFunc(func(ev flowplane.Event) {
				if ev.Kind == flowplane.EventStepProgress && ev.Data != "" {
					clio.Infof("  %s", ev.Data)
				}
			}),
		}

		run, err := coord.StartRun(c.Context, wf.ID, flowplane.StartOptions{
			Params:      params,
			AutoApprove: c.Bool("auto-approve"),
		})
		if err != nil {
			return err
		}

		for _, sr := range run.StepResults {
			clio.Infof("step %s (%s): %s", sr.StepID, sr.Label, sr.Status)
		}

		switch run.Status {
		case flowplane.RunWaitingApproval:
			clio.Warnf("run paused at step %d waiting for approval; re-run with --auto-approve or use the API to resume", run.CurrentStep)
		case flowplane.RunComplete:
			clio.Infof("run %s complete (outcome: %s)", run.ID, outcomeOrDefault(run))
		default:
			return errors.Errorf("run %s %s: %s", run.ID, run.Status, run.Reason)
		}
		return nil
	},
}

func outcomeOrDefault(r *flowplane.Run) string {
	if r.Outcome != "" {
		return r.Outcome
	}
	return "complete"
}
