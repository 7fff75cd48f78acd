package main

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
)

// WorkflowRuns lists the repository's workflow runs for actor on branch,
// following pagination lazily. With truncateRuns set only the first page is
// read.
func (c *apiClient) WorkflowRuns(ctx context.Context, repo *Repository, actor, branch string) iter.Seq2[WorkflowRun, error] {
	query := url.Values{}
	query.Set("actor", actor)
	query.Set("branch", branch)
	query.Set("per_page", "100")
	runs := repo.URL + "/actions/runs?" + query.Encode()
	return decodeEach[WorkflowRun](c.iterate(ctx, runs, "workflow_runs", c.truncateRuns))
}

// GetWorkflowRun fetches a workflow run of the repository "owner/name".
func (c *apiClient) GetWorkflowRun(ctx context.Context, fullName string, id int64) (*WorkflowRun, error) {
	var run WorkflowRun
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/actions/runs/%d", fullName, id), nil, &run); err != nil {
		return nil, fmt.Errorf("get workflow run %d: %w", id, err)
	}
	return &run, nil
}

// GetWorkflow fetches the workflow definition that run belongs to.
func (c *apiClient) GetWorkflow(ctx context.Context, run *WorkflowRun) (*Workflow, error) {
	var workflow Workflow
	if err := c.call(ctx, http.MethodGet, run.WorkflowURL, nil, &workflow); err != nil {
		return nil, fmt.Errorf("get workflow of run %d: %w", run.ID, err)
	}
	return &workflow, nil
}

// CancelWorkflowRun requests cancellation of run.
func (c *apiClient) CancelWorkflowRun(ctx context.Context, run *WorkflowRun) error {
	if err := c.call(ctx, http.MethodPost, run.URL+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancel workflow run %d: %w", run.ID, err)
	}
	return nil
}
