package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(_ *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{
			name:     "exit code 0 no message",
			err:      cli.Exit("", 0),
			wantCode: 0,
		},
		{
			name:     "configuration error",
			err:      cli.Exit("--endpoint is required", 1),
			wantCode: 1,
			wantOut:  "--endpoint is required\n",
		},
		{
			name:     "fatal request without message",
			err:      cli.Exit("", 2),
			wantCode: 2,
		},
		{
			name:     "canceled",
			err:      cli.Exit("generation canceled", 4),
			wantCode: 4,
			wantOut:  "generation canceled\n",
		},
		{
			name:     "wrapped exit coder",
			err:      errors.Join(errors.New("context"), cli.Exit("", 3)),
			wantCode: 3,
		},
		{
			name:     "regular error",
			err:      errors.New("boom"),
			wantCode: 1,
			wantOut:  "Error: boom\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if got := exitStatus(tt.err, &buf); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d", got, tt.wantCode)
			}
			if buf.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", buf.String(), tt.wantOut)
			}
		})
	}
}
