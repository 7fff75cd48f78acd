package main

import "time"

// User is an account on the platform.
type User struct {
	Login string `json:"login"`
}

// Repository represents a GitHub repository
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	URL      string `json:"url"`
	Owner    User   `json:"owner"`
}

// Ref is one side of a pull request.
type Ref struct {
	Ref  string      `json:"ref"`
	SHA  string      `json:"sha"`
	Repo *Repository `json:"repo"`
}

// PullRequest is a snapshot of a pull request, fetched fresh per evaluation.
type PullRequest struct {
	Number      int    `json:"number"`
	State       string `json:"state"`
	URL         string `json:"url"`
	HTMLURL     string `json:"html_url"`
	IssueURL    string `json:"issue_url"`
	CommentsURL string `json:"comments_url"`
	User        User   `json:"user"`
	Head        Ref    `json:"head"`
}

// PullRequestFile represents a file changed in a pull request
type PullRequestFile struct {
	Filename         string `json:"filename"`
	Status           string `json:"status"` // "added", "removed", "modified", "renamed", ...
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	PreviousFilename string `json:"previous_filename"` // only set when status = "renamed"
}

const (
	fileStatusAdded   = "added"
	runStatusComplete = "completed"
)

// PullRequestRef is the short pull request form embedded in a workflow run.
type PullRequestRef struct {
	Number int `json:"number"`
}

// WorkflowRun is one execution of a workflow definition.
type WorkflowRun struct {
	ID           int64            `json:"id"`
	URL          string           `json:"url"`
	HTMLURL      string           `json:"html_url"`
	HeadSHA      string           `json:"head_sha"`
	HeadBranch   string           `json:"head_branch"`
	Status       string           `json:"status"`
	Path         string           `json:"path"`
	WorkflowID   int64            `json:"workflow_id"`
	WorkflowURL  string           `json:"workflow_url"`
	PullRequests []PullRequestRef `json:"pull_requests"`
}

// Workflow is a workflow definition file.
type Workflow struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// InstallationToken represents a GitHub App installation token response
type InstallationToken struct {
	Token               string            `json:"token"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Permissions         map[string]string `json:"permissions"`
	RepositorySelection string            `json:"repository_selection"`
}

// ValidAt reports whether the token may still be used at t.
func (tok *InstallationToken) ValidAt(t time.Time) bool {
	return tok != nil && tok.Token != "" && t.Before(tok.ExpiresAt)
}
