package main

import (
	"context"
	"strings"
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{{"serve"}, {"db", "init"}, {"reject"}, {"cancel-run"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestCommandArguments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"reject arity", []string{"reject", "42", "octo/app"}, "accepts 3 arg(s)"},
		{"reject installation", []string{"reject", "abc", "octo/app", "7"}, "installation id"},
		{"reject number", []string{"reject", "42", "octo/app", "seven"}, "pull request number"},
		{"cancel-run arity", []string{"cancel-run", "42", "octo/app"}, "requires at least 3 arg(s)"},
		{"cancel-run run id", []string{"cancel-run", "42", "octo/app", "x"}, "run id"},
		{"cancel-run pr", []string{"cancel-run", "42", "octo/app", "5", "7", "y"}, `pull request number "y"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCommand()
			root.SetArgs(tt.args)
			err := root.ExecuteContext(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
