package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/taskgraphio/orchestrator/taskgraph"
	"github.com/taskgraphio/orchestrator/taskgraph/executor/ctxproxy"
)

// Subprocess runs each operation as a child process, giving it process
// isolation at the cost of one exec per attempt. The child reaches back
// into the parent's Operation Context exclusively through a ctxproxy
// server started per submission.
type Subprocess struct {
	notifications taskgraph.ExecutorNotifications
	command       string // child executable, e.g. the built plugin runtime CLI
	timeout       time.Duration
	jsonArgPrefix string
}

// NewSubprocess builds a Subprocess executor invoking command for every
// attempt. timeout bounds the child's wall-clock run; zero disables the
// bound.
func NewSubprocess(notifications taskgraph.ExecutorNotifications, command string, timeout time.Duration) *Subprocess {
	return &Subprocess{
		notifications: notifications,
		command:       command,
		timeout:       timeout,
		jsonArgPrefix: "@",
	}
}

// Submit starts the proxy, spawns the child, and reports the outcome
// asynchronously via the notifications sink once the child exits.
func (s *Subprocess) Submit(ctx context.Context, handle taskgraph.TaskHandle) error {
	go s.run(ctx, handle)
	return nil
}

func (s *Subprocess) run(ctx context.Context, handle taskgraph.TaskHandle) {
	proxy, socketURL, err := ctxproxy.NewServer(s.proxyHandler(handle))
	if err != nil {
		s.notifications.Failed(handle, err, "")
		return
	}
	defer proxy.Close()

	runCtx := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args, err := s.childArgs(handle)
	if err != nil {
		s.notifications.Failed(handle, err, "")
		return
	}

	cmd := exec.CommandContext(runCtx, s.command, args...)
	cmd.Env = append(cmd.Environ(), ctxproxy.SocketURLEnv+"="+socketURL)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.notifications.Started(handle)

	if err := cmd.Run(); err != nil {
		s.notifications.Failed(handle, fmt.Errorf("executor: subprocess: %w", err), stderr.String())
		return
	}
	s.notifications.Succeeded(handle)
}

func (s *Subprocess) childArgs(handle taskgraph.TaskHandle) ([]string, error) {
	payload, err := json.Marshal(handle.Arguments)
	if err != nil {
		return nil, fmt.Errorf("executor: marshal arguments: %w", err)
	}
	return []string{
		"--json-output",
		handle.Implementation,
		s.jsonArgPrefix + string(payload),
	}, nil
}

// proxyHandler resolves ctx-proxy calls against handle.Context. Only the
// "logging-id" and "cancelled" calls are wired; any other call is reported
// as an error rather than silently ignored. Dispatch is on args[0], the same
// convention the reference `ctx` CLI uses (e.g. `ctx logging-id`
// arrives as args = ["logging-id"]).
func (s *Subprocess) proxyHandler(handle taskgraph.TaskHandle) ctxproxy.Handler {
	return func(req ctxproxy.Request) ctxproxy.Response {
		switch req.Call() {
		case "logging-id":
			return ctxproxy.Response{Type: ctxproxy.ResponseOK, Payload: handle.Context.LoggingID()}
		case "cancelled":
			return ctxproxy.Response{Type: ctxproxy.ResponseOK, Payload: handle.Context.Cancelled()}
		default:
			return ctxproxy.Response{
				Type: ctxproxy.ResponseError,
				Payload: ctxproxy.ErrorPayload{
					Type:    "format",
					Message: fmt.Sprintf("unknown ctx-proxy call %q", req.Call()),
				},
			}
		}
	}
}

// Close is a no-op: each attempt owns its own subprocess and proxy
// server lifecycle.
func (s *Subprocess) Close() error { return nil }
