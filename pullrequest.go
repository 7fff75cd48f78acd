package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
)

// GetPullRequest fetches a pull request of the repository "owner/name".
func (c *apiClient) GetPullRequest(ctx context.Context, fullName string, number int) (*PullRequest, error) {
	var pr PullRequest
	url := fmt.Sprintf("/repos/%s/pulls/%d", fullName, number)
	if err := c.call(ctx, http.MethodGet, url, nil, &pr); err != nil {
		return nil, fmt.Errorf("get pull request %s#%d: %w", fullName, number, err)
	}
	return &pr, nil
}

// ListPullRequestFiles fetches every page of the files changed in pr.
func (c *apiClient) ListPullRequestFiles(ctx context.Context, pr *PullRequest) ([]PullRequestFile, error) {
	var files []PullRequestFile
	for file, err := range decodeEach[PullRequestFile](c.iterate(ctx, pr.URL+"/files?per_page=100", "", false)) {
		if err != nil {
			return nil, fmt.Errorf("list files of pull request #%d: %w", pr.Number, err)
		}
		files = append(files, file)
	}
	logPullRequestFiles(pr, files)
	return files, nil
}

// CreateComment posts an issue comment on pr.
func (c *apiClient) CreateComment(ctx context.Context, pr *PullRequest, body string) error {
	url := pr.CommentsURL
	if url == "" {
		url = pr.IssueURL + "/comments"
	}
	if err := c.call(ctx, http.MethodPost, url, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("comment on pull request #%d: %w", pr.Number, err)
	}
	return nil
}

// ClosePullRequest sets pr's state to closed. Closing a closed pull request
// succeeds.
func (c *apiClient) ClosePullRequest(ctx context.Context, pr *PullRequest) error {
	if err := c.call(ctx, http.MethodPatch, pr.URL, map[string]string{"state": "closed"}, nil); err != nil {
		return fmt.Errorf("close pull request #%d: %w", pr.Number, err)
	}
	return nil
}

// logPullRequestFiles logs the changed files in a structured way
func logPullRequestFiles(pr *PullRequest, files []PullRequestFile) {
	log.Printf("[API] Pull request #%d changed %d files\n", pr.Number, len(files))
	for _, f := range files {
		if f.Status == "renamed" {
			log.Printf("  [%s] %s -> %s (+%d -%d)\n", f.Status, f.PreviousFilename, f.Filename, f.Additions, f.Deletions)
		} else {
			log.Printf("  [%s] %s (+%d -%d)\n", f.Status, f.Filename, f.Additions, f.Deletions)
		}
	}
}
