package devkit

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/goliatone/go-sessions/core"
)

// HTTPScript is one scripted exchange for FakeHTTPDoer.
type HTTPScript struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Err        error
}

// CapturedRequest is the recorded shape of a request sent through
// FakeHTTPDoer.
type CapturedRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// FakeHTTPDoer replays scripts in order and repeats the last one once they
// run out. With no scripts it answers 200 with an empty body.
type FakeHTTPDoer struct {
	mu       sync.Mutex
	scripts  []HTTPScript
	requests []CapturedRequest
}

func NewFakeHTTPDoer(scripts ...HTTPScript) *FakeHTTPDoer {
	return &FakeHTTPDoer{scripts: append([]HTTPScript(nil), scripts...)}
}

func (d *FakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	if d == nil {
		return nil, fmt.Errorf("devkit: fake http doer is nil")
	}
	if req == nil {
		return nil, fmt.Errorf("devkit: request is required")
	}
	captured, err := captureRequest(req)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.requests = append(d.requests, captured)
	index := len(d.requests) - 1
	script := HTTPScript{StatusCode: http.StatusOK}
	if index < len(d.scripts) {
		script = d.scripts[index]
	} else if len(d.scripts) > 0 {
		script = d.scripts[len(d.scripts)-1]
	}
	d.mu.Unlock()

	if script.Err != nil {
		return nil, script.Err
	}
	return buildResponse(req, script), nil
}

func (d *FakeHTTPDoer) Requests() []CapturedRequest {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]CapturedRequest, 0, len(d.requests))
	for _, item := range d.requests {
		out = append(out, cloneCapturedRequest(item))
	}
	return out
}

func captureRequest(req *http.Request) (CapturedRequest, error) {
	out := CapturedRequest{
		Method:  req.Method,
		Headers: map[string]string{},
	}
	if req.URL != nil {
		out.URL = req.URL.String()
	}
	for key := range req.Header {
		out.Headers[key] = req.Header.Get(key)
	}
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return CapturedRequest{}, fmt.Errorf("devkit: read request body: %w", err)
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
		out.Body = body
	}
	return out, nil
}

func buildResponse(req *http.Request, script HTTPScript) *http.Response {
	status := script.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	for key, value := range script.Headers {
		header.Set(key, value)
	}
	body := append([]byte(nil), script.Body...)
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func cloneCapturedRequest(in CapturedRequest) CapturedRequest {
	out := CapturedRequest{
		Method:  in.Method,
		URL:     in.URL,
		Headers: map[string]string{},
		Body:    append([]byte(nil), in.Body...),
	}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	return out
}

var _ core.HTTPDoer = (*FakeHTTPDoer)(nil)
