package taskgraph_test

import (
	"testing"
	"time"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

func TestRetryPolicy_Validate(t *testing.T) {
	cases := []struct {
		name    string
		policy  taskgraph.RetryPolicy
		wantErr bool
	}{
		{"default", taskgraph.DefaultRetryPolicy(), false},
		{"infinite", taskgraph.RetryPolicy{MaxAttempts: -1}, false},
		{"bounded with interval", taskgraph.RetryPolicy{MaxAttempts: 3, RetryInterval: time.Second}, false},
		{"zero attempts", taskgraph.RetryPolicy{MaxAttempts: 0}, true},
		{"below infinite sentinel", taskgraph.RetryPolicy{MaxAttempts: -2}, true},
		{"negative interval", taskgraph.RetryPolicy{MaxAttempts: 1, RetryInterval: -time.Second}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.policy.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}
