package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the part of *http.Client used by API clients, so tests can
// substitute MockHTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockResponse is a canned reply for MockHTTPClient.
type MockResponse struct {
	StatusCode int
	Body       string
	Err        error
}

// MockHTTPClient records requests and replays queued responses in order.
// Once the queue is exhausted it answers 200 with an empty body.
type MockHTTPClient struct {
	mu        sync.Mutex
	requests  []*http.Request
	bodies    [][]byte
	responses []MockResponse
}

// NewMockHTTPClient returns an empty mock.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a status and body.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{StatusCode: status, Body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{Err: err})
	return m
}

// Do records req (and its body) and returns the next queued response.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	resp := MockResponse{StatusCode: http.StatusOK}
	if len(m.responses) > 0 {
		resp, m.responses = m.responses[0], m.responses[1:]
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Request returns the nth recorded request and its body, or nil.
func (m *MockHTTPClient) Request(n int) (*http.Request, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil, nil
	}
	return m.requests[n], m.bodies[n]
}

// RequestCount returns how many requests were made.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
