package main

import "strings"

// defaultWorkflowPrefix is the directory holding workflow definition files.
const defaultWorkflowPrefix = ".github/workflows/"

// Policy decides whether a pull request introduces a new workflow definition.
type Policy struct {
	WorkflowPrefix string
}

func (p Policy) prefix() string {
	if p.WorkflowPrefix == "" {
		return defaultWorkflowPrefix
	}
	return p.WorkflowPrefix
}

// IsWorkflowAddition reports whether f adds a file under the workflow directory.
func (p Policy) IsWorkflowAddition(f PullRequestFile) bool {
	return f.Status == fileStatusAdded && strings.HasPrefix(f.Filename, p.prefix())
}

// Violations returns the files that break the policy.
func (p Policy) Violations(files []PullRequestFile) []PullRequestFile {
	var violations []PullRequestFile
	for _, f := range files {
		if p.IsWorkflowAddition(f) {
			violations = append(violations, f)
		}
	}
	return violations
}

// AddsFile reports whether files adds exactly path.
func AddsFile(files []PullRequestFile, path string) bool {
	for _, f := range files {
		if f.Filename == path && f.Status == fileStatusAdded {
			return true
		}
	}
	return false
}
