// Package api exposes the workflow editor and run coordinator over HTTP.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/flowplane/flowplane"
	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/node"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// API wires the HTTP routes to the store, validator and coordinator.
type API struct {
	Store       flowplane.Store
	Catalog     catalog.Catalog
	Coordinator *flowplane.Coordinator
}

// progressReader is implemented by stores that can replay a run's progress
// log.
type progressReader interface {
	Progress(runID string) ([]flowplane.Event, error)
}

// Routes registers all endpoints under /api.
func (a *API) Routes(r *gin.Engine) {
	g := r.Group("/api")

	g.GET("/actions", a.listActions)
	g.GET("/actions/:name", a.getAction)

	g.GET("/workflows", a.listWorkflows)
	g.POST("/workflows", a.createWorkflow)
	g.GET("/workflows/:id", a.getWorkflow)
	g.PUT("/workflows/:id", a.updateWorkflow)
	g.DELETE("/workflows/:id", a.deleteWorkflow)
	g.POST("/workflows/:id/duplicate", a.duplicateWorkflow)
	g.POST("/workflows/:id/validate", a.validateWorkflow)
	g.POST("/workflows/:id/run", a.runWorkflow)
	g.GET("/workflows/:id/runs", a.listWorkflowRuns)

	g.GET("/runs", a.listRuns)
	g.GET("/runs/:id", a.getRun)
	g.GET("/runs/:id/progress", a.getRunProgress)
	g.POST("/runs/:id/resume", a.resumeRun)
}

func (a *API) listActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": a.Catalog.Actions()})
}

func (a *API) getAction(c *gin.Context) {
	action, ok := a.Catalog.Action(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown action"})
		return
	}
	c.JSON(http.StatusOK, action)
}

// workflowRequest is the editor's save payload: the graph as drawn, which
// the server validates and linearizes into the canonical step list.
type workflowRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Tags        []string             `json:"tags"`
	Trigger     flowplane.Trigger    `json:"trigger"`
	Params      []flowplane.ParamDef `json:"parameters"`
	Nodes       []node.Node          `json:"nodes"`
	Edges       []node.Edge          `json:"edges"`
}

// compile validates the submitted graph and produces the persisted form.
// Validation problems reject the save.
func (a *API) compile(req workflowRequest) (*flowplane.Plan, []flowplane.Problem, error) {
	v := flowplane.Validator{Catalog: a.Catalog}
	if problems := v.Validate(req.Name, req.Nodes, req.Edges); len(problems) > 0 {
		return nil, problems, nil
	}
	g := &flowplane.Graph{Name: req.Name, Nodes: req.Nodes, Edges: req.Edges}
	plan, err := flowplane.Linearize(g)
	if err != nil {
		return nil, nil, err
	}
	return plan, nil, nil
}

func (a *API) createWorkflow(c *gin.Context) {
	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	plan, problems, err := a.compile(req)
	if err != nil {
		internal(c, err)
		return
	}
	if problems != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"problems": problems})
		return
	}

	now := time.Now().UTC()
	wf := &flowplane.Workflow{
		ID:          uuid.NewString()[:8],
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Trigger:     req.Trigger,
		Params:      req.Params,
		Steps:       plan.Steps,
		Layout:      plan.Layout,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.Store.SaveWorkflow(wf); err != nil {
		internal(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

func (a *API) updateWorkflow(c *gin.Context) {
	existing, err := a.Store.Workflow(c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	plan, problems, err := a.compile(req)
	if err != nil {
		internal(c, err)
		return
	}
	if problems != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"problems": problems})
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Tags = req.Tags
	existing.Trigger = req.Trigger
	existing.Params = req.Params
	existing.Steps = plan.Steps
	existing.Layout = plan.Layout
	existing.UpdatedAt = time.Now().UTC()
	if err := a.Store.SaveWorkflow(existing); err != nil {
		internal(c, err)
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (a *API) listWorkflows(c *gin.Context) {
	wfs, err := a.Store.Workflows()
	if err != nil {
		internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": wfs})
}

func (a *API) getWorkflow(c *gin.Context) {
	wf, err := a.Store.Workflow(c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (a *API) deleteWorkflow(c *gin.Context) {
	if err := a.Store.DeleteWorkflow(c.Param("id")); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) duplicateWorkflow(c *gin.Context) {
	wf, err := a.Store.Workflow(c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	now := time.Now().UTC()
	dup := *wf
	dup.ID = uuid.NewString()[:8]
	dup.Name = wf.Name + " (copy)"
	dup.CreatedAt = now
	dup.UpdatedAt = now
	if err := a.Store.SaveWorkflow(&dup); err != nil {
		internal(c, err)
		return
	}
	c.JSON(http.StatusCreated, dup)
}

// validateWorkflow checks a graph without saving it, so the editor can
// surface problems as the operator draws.
func (a *API) validateWorkflow(c *gin.Context) {
	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v := flowplane.Validator{Catalog: a.Catalog}
	problems := v.Validate(req.Name, req.Nodes, req.Edges)
	c.JSON(http.StatusOK, gin.H{"valid": len(problems) == 0, "problems": problems})
}

type runRequest struct {
	Parameters  map[string]any `json:"parameters"`
	AutoApprove bool           `json:"auto_approve"`
}

func (a *API) runWorkflow(c *gin.Context) {
	// an empty body means "no parameters"; anything else malformed is a
	// client error.
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	run, err := a.Coordinator.StartRun(c.Request.Context(), c.Param("id"), flowplane.StartOptions{
		Params:      req.Parameters,
		AutoApprove: req.AutoApprove,
	})
	if err != nil {
		if run != nil {
			// the run advanced before the failure; return its last
			// persisted state alongside the error.
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "run": run})
			return
		}
		storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (a *API) listWorkflowRuns(c *gin.Context) {
	runs, err := a.Store.Runs(flowplane.RunFilter{WorkflowID: c.Param("id")})
	if err != nil {
		internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (a *API) listRuns(c *gin.Context) {
	runs, err := a.Store.Runs(flowplane.RunFilter{})
	if err != nil {
		internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (a *API) getRun(c *gin.Context) {
	run, err := a.Store.Run(c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (a *API) getRunProgress(c *gin.Context) {
	pr, ok := a.Store.(progressReader)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "store does not retain progress logs"})
		return
	}
	events, err := pr.Progress(c.Param("id"))
	if err != nil {
		internal(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type resumeRequest struct {
	Action flowplane.ResumeAction `json:"action" binding:"required"`
	Reason string                 `json:"reason"`
}

func (a *API) resumeRun(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Action != flowplane.Approve && req.Action != flowplane.Reject {
		badRequest(c, errors.Errorf("action must be %q or %q", flowplane.Approve, flowplane.Reject))
		return
	}
	run, err := a.Coordinator.ResumeRun(c.Request.Context(), c.Param("id"), req.Action, req.Reason)
	if err != nil {
		if errors.Is(err, flowplane.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if run != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "run": run})
			return
		}
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func internal(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func storeError(c *gin.Context, err error) {
	if errors.Is(err, flowplane.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	badRequest(c, err)
}
