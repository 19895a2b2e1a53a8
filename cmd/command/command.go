// Package command holds the CLI subcommands.
package command

import (
	"encoding/json"
	"os"

	"github.com/flowplane/flowplane"
	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

// loadWorkflow reads a workflow definition from a YAML file. The JSON
// field names are canonical, so the document goes through a YAML→JSON
// conversion before decoding.
func loadWorkflow(path string) (*flowplane.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	var wf flowplane.Workflow
	if err := json.Unmarshal(jsonData, &wf); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return &wf, nil
}

// loadCatalog loads the action catalog from a YAML file, or a built-in
// development catalog when no path is given.
func loadCatalog(path string) (catalog.Catalog, error) {
	if path != "" {
		return catalog.FromFile(path)
	}
	return catalog.Of(
		catalog.Action{Name: "run_command", Label: "Run command", Params: []catalog.Param{
			{Name: "command", Type: catalog.TypeString, Required: true},
		}},
		catalog.Action{Name: "http_request", Label: "HTTP request", Params: []catalog.Param{
			{Name: "url", Type: catalog.TypeString, Required: true},
			{Name: "method", Type: catalog.TypeString},
			{Name: "body", Type: catalog.TypeString},
		}},
		catalog.Action{Name: "notify", Label: "Send notification", Params: []catalog.Param{
			{Name: "message", Type: catalog.TypeString, Required: true},
			{Name: "channel", Type: catalog.TypeString},
		}},
	), nil
}
