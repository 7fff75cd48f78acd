package main

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var cancelCommentTemplate = template.Must(template.ParseFS(templatesFS, "templates/cancel_comment.tmpl"))

// rejectCommentData is passed to the pull request comment template.
type rejectCommentData struct {
	Author string
	Files  []PullRequestFile
}

// cancelCommentData is passed to the workflow run comment template.
type cancelCommentData struct {
	Opener string
	Owner  string
	RunURL string
}

// Orchestrator carries out the corrective actions for a policy violation.
// Steps run strictly in order: cancel runs, comment, close.
type Orchestrator struct {
	connector     Connector
	policy        Policy
	rejectComment *template.Template
	metrics       *Metrics
}

// NewOrchestrator builds an orchestrator. rejectComment overrides the default
// pull request comment template when non-empty.
func NewOrchestrator(connector Connector, policy Policy, rejectComment string, metrics *Metrics) (*Orchestrator, error) {
	tmpl := template.New("reject_comment.tmpl")
	var err error
	if rejectComment != "" {
		tmpl, err = tmpl.Parse(rejectComment)
	} else {
		tmpl, err = tmpl.ParseFS(templatesFS, "templates/reject_comment.tmpl")
	}
	if err != nil {
		return nil, fmt.Errorf("parse reject comment template: %w", err)
	}
	return &Orchestrator{
		connector:     connector,
		policy:        policy,
		rejectComment: tmpl,
		metrics:       metrics,
	}, nil
}

// Run executes job.
func (o *Orchestrator) Run(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobRejectPullRequest:
		return o.RejectPullRequest(ctx, job.InstallationID, job.Repository, job.PullRequest)
	case JobCancelWorkflowRun:
		return o.CancelAddedWorkflowRun(ctx, job.InstallationID, job.Repository, job.WorkflowRunID, job.PullRequests)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobKind, job.Kind)
	}
}

// RejectPullRequest closes pull request number of repoName if it adds a
// workflow definition, after canceling the in-flight runs of its head commit
// and explaining why in a comment.
func (o *Orchestrator) RejectPullRequest(ctx context.Context, installationID int64, repoName string, number int) error {
	platform, err := o.connector.Connect(ctx, installationID)
	if err != nil {
		return err
	}

	repo, err := platform.GetRepository(ctx, repoName)
	if err != nil {
		return err
	}
	pr, err := platform.GetPullRequest(ctx, repoName, number)
	if err != nil {
		return err
	}
	files, err := platform.ListPullRequestFiles(ctx, pr)
	if err != nil {
		return err
	}

	violations := o.policy.Violations(files)
	if len(violations) == 0 {
		log.Printf("[Orchestrator] %s#%d adds no workflow definition\n", repoName, number)
		return nil
	}
	log.Printf("[Orchestrator] %s#%d adds %d workflow definition(s), rejecting\n", repoName, number, len(violations))

	o.cancelHeadRuns(ctx, platform, repo, pr)

	var body bytes.Buffer
	if err := o.rejectComment.Execute(&body, rejectCommentData{Author: pr.User.Login, Files: violations}); err != nil {
		return fmt.Errorf("render reject comment: %w", err)
	}
	if err := platform.CreateComment(ctx, pr, body.String()); err != nil {
		return err
	}
	if err := platform.ClosePullRequest(ctx, pr); err != nil {
		return err
	}

	log.Printf("[Orchestrator] Closed %s#%d\n", repoName, number)
	return nil
}

// cancelHeadRuns cancels the author's unfinished runs of pr's head commit.
// Failures are logged and skipped.
func (o *Orchestrator) cancelHeadRuns(ctx context.Context, platform Platform, repo *Repository, pr *PullRequest) {
	for run, err := range platform.WorkflowRuns(ctx, repo, pr.User.Login, pr.Head.Ref) {
		if err != nil {
			log.Printf("[Orchestrator] Warning: could not list workflow runs of #%d: %v\n", pr.Number, err)
			return
		}
		if run.HeadSHA != pr.Head.SHA || run.Status == runStatusComplete {
			continue
		}
		o.cancelRun(ctx, platform, &run)
	}
}

func (o *Orchestrator) cancelRun(ctx context.Context, platform Platform, run *WorkflowRun) {
	err := platform.CancelWorkflowRun(ctx, run)
	o.metrics.ObserveCancellation(err)
	if err != nil {
		log.Printf("[Orchestrator] Warning: %v\n", err)
		return
	}
	log.Printf("[Orchestrator] Canceled workflow run %d (%s)\n", run.ID, run.Status)
}

// CancelAddedWorkflowRun cancels run runID when one of its pull requests is
// the one adding the run's workflow definition, and tells the pull request
// author and the repository owner. prNumbers defaults to the pull requests
// the run reports.
func (o *Orchestrator) CancelAddedWorkflowRun(ctx context.Context, installationID int64, repoName string, runID int64, prNumbers []int) error {
	platform, err := o.connector.Connect(ctx, installationID)
	if err != nil {
		return err
	}

	run, err := platform.GetWorkflowRun(ctx, repoName, runID)
	if err != nil {
		return err
	}
	if run.Status == runStatusComplete {
		log.Printf("[Orchestrator] Workflow run %d already completed\n", runID)
		return nil
	}
	workflow, err := platform.GetWorkflow(ctx, run)
	if err != nil {
		return err
	}

	if len(prNumbers) == 0 {
		for _, ref := range run.PullRequests {
			prNumbers = append(prNumbers, ref.Number)
		}
	}
	owner, _, _ := strings.Cut(repoName, "/")

	canceled := false
	for _, number := range prNumbers {
		pr, err := platform.GetPullRequest(ctx, repoName, number)
		if err != nil {
			return err
		}
		files, err := platform.ListPullRequestFiles(ctx, pr)
		if err != nil {
			return err
		}
		if !AddsFile(files, workflow.Path) {
			continue
		}

		log.Printf("[Orchestrator] %s#%d adds %s, canceling run %d\n", repoName, number, workflow.Path, run.ID)
		if !canceled {
			o.cancelRun(ctx, platform, run)
			canceled = true
		}

		var body bytes.Buffer
		data := cancelCommentData{Opener: pr.User.Login, Owner: owner, RunURL: run.HTMLURL}
		if err := cancelCommentTemplate.Execute(&body, data); err != nil {
			return fmt.Errorf("render cancel comment: %w", err)
		}
		if err := platform.CreateComment(ctx, pr, body.String()); err != nil {
			return err
		}
	}
	return nil
}
