package main

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"time"
)

// Platform is the set of REST operations the corrective actions need, bound
// to one installation's credential.
type Platform interface {
	GetRepository(ctx context.Context, fullName string) (*Repository, error)
	GetPullRequest(ctx context.Context, fullName string, number int) (*PullRequest, error)
	ListPullRequestFiles(ctx context.Context, pr *PullRequest) ([]PullRequestFile, error)
	CreateComment(ctx context.Context, pr *PullRequest, body string) error
	ClosePullRequest(ctx context.Context, pr *PullRequest) error

	// WorkflowRuns lists the repository's runs triggered by actor on branch.
	WorkflowRuns(ctx context.Context, repo *Repository, actor, branch string) iter.Seq2[WorkflowRun, error]
	GetWorkflowRun(ctx context.Context, fullName string, id int64) (*WorkflowRun, error)
	GetWorkflow(ctx context.Context, run *WorkflowRun) (*Workflow, error)
	CancelWorkflowRun(ctx context.Context, run *WorkflowRun) error
}

// Connector opens a Platform session for an installation.
type Connector interface {
	Connect(ctx context.Context, installationID int64) (Platform, error)
}

// gitHubConnector acquires a credential from its TokenProvider for every
// session, so each orchestration run works with a freshly minted or refreshed
// token.
type gitHubConnector struct {
	tokens       TokenProvider
	endpoint     string
	httpClient   *http.Client
	callTimeout  time.Duration
	truncateRuns bool
	metrics      *Metrics
}

func (g *gitHubConnector) Connect(ctx context.Context, installationID int64) (Platform, error) {
	token, err := g.tokens.Token(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("connect installation %d: %w", installationID, err)
	}
	client := newAPIClient(g.endpoint, token, g.httpClient)
	client.callTimeout = g.callTimeout
	client.truncateRuns = g.truncateRuns
	client.metrics = g.metrics
	return client, nil
}
