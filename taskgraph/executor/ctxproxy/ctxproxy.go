// Package ctxproxy implements the HTTP loop a subprocess operation uses
// to call back into its parent's Operation Context: a single POST
// endpoint, advertised to the child via CTX_SOCKET_URL, carrying JSON
// request/response bodies. It is deliberately tiny: the shape below is
// the whole wire contract, not a framework.
package ctxproxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// SocketURLEnv is the environment variable the parent sets before
// spawning a subprocess operation, carrying the proxy's base URL.
const SocketURLEnv = "CTX_SOCKET_URL"

// Request is the body a child posts to the proxy: a flat positional
// argument list, matching the reference `ctx` CLI's `{"args": [...]}`
// wire format exactly — there is no separate call-name field. By
// convention args[0] names the call and any remaining elements are its
// parameters, the same way `ctx node runtime-property foo` becomes
// args = ["node", "runtime-property", "foo"].
type Request struct {
	Args []interface{} `json:"args"`
}

// Call returns args[0] as a string, or "" if Args is empty or its head
// isn't a string.
func (r Request) Call() string {
	if len(r.Args) == 0 {
		return ""
	}
	call, _ := r.Args[0].(string)
	return call
}

// CallArgs returns the arguments following the call name.
func (r Request) CallArgs() []interface{} {
	if len(r.Args) <= 1 {
		return nil
	}
	return r.Args[1:]
}

// ResponseType is the closed set of outcomes a proxy call can report.
type ResponseType string

const (
	ResponseOK            ResponseType = "ok"
	ResponseError         ResponseType = "error"
	ResponseStopOperation ResponseType = "stop_operation"
)

// ErrorPayload is the Response.Payload shape when Type is
// ResponseError.
type ErrorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// Response is the body the proxy replies with.
type Response struct {
	Type    ResponseType `json:"type"`
	Payload interface{}  `json:"payload"`
}

// Handler resolves one proxy call against the live Operation Context.
// The executor package's Subprocess supplies the implementation; ctxproxy
// only speaks the wire format.
type Handler func(req Request) Response

// Server is the parent-side HTTP loop. It binds an ephemeral TCP port on
// loopback so only a locally spawned child can reach it.
type Server struct {
	listener net.Listener
	http     *http.Server
}

// NewServer starts listening and returns the server along with its base
// URL, ready to be placed in a child's CTX_SOCKET_URL.
func NewServer(handle Handler) (*Server, string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", fmt.Errorf("ctxproxy: listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, Response{Type: ResponseError, Payload: ErrorPayload{Type: "format", Message: err.Error()}})
			return
		}
		writeJSON(w, handle(req))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s := &Server{listener: ln, http: srv}
	go func() { _ = srv.Serve(ln) }()

	return s, "http://" + ln.Addr().String(), nil
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Close shuts the proxy down.
func (s *Server) Close() error {
	return s.http.Close()
}

// Client is the child-side helper that posts Requests to the parent's
// advertised socket URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given base URL (as read from
// CTX_SOCKET_URL).
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

// Call issues one proxy call and returns the decoded response. call
// becomes args[0] on the wire, matching the reference `ctx` CLI's
// positional argument convention.
func (c *Client) Call(call string, args ...interface{}) (Response, error) {
	body, err := json.Marshal(Request{Args: append([]interface{}{call}, args...)})
	if err != nil {
		return Response{}, fmt.Errorf("ctxproxy: encode request: %w", err)
	}
	resp, err := c.http.Post(c.baseURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("ctxproxy: post: %w", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("ctxproxy: decode response: %w", err)
	}
	return out, nil
}
