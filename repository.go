package main

import (
	"context"
	"fmt"
	"net/http"
)

// GetRepository fetches a repository by its "owner/name".
func (c *apiClient) GetRepository(ctx context.Context, fullName string) (*Repository, error) {
	var repo Repository
	if err := c.call(ctx, http.MethodGet, "/repos/"+fullName, nil, &repo); err != nil {
		return nil, fmt.Errorf("get repository %s: %w", fullName, err)
	}
	return &repo, nil
}
