// Package e2e runs the gateway feature files against an in-process server.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
)

// TestContext holds the gateway under test and the last response seen by a
// scenario.
type TestContext struct {
	server     *httptest.Server
	adminToken string

	lastStatus  int
	lastHeaders http.Header
	lastBody    []byte
}

func NewTestContext(handler http.Handler, adminToken string) *TestContext {
	return &TestContext{
		server:     httptest.NewServer(handler),
		adminToken: adminToken,
	}
}

func (tc *TestContext) Close() {
	tc.server.Close()
}

// Do sends a request and records the response.
func (tc *TestContext) Do(method, path string, headers map[string]string) error {
	req, err := http.NewRequest(method, tc.server.URL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	tc.lastBody = body
	return nil
}

func (tc *TestContext) POST(path string, headers map[string]string) error {
	return tc.Do(http.MethodPost, path, headers)
}

func (tc *TestContext) AdminRequest(method, path string) error {
	return tc.Do(method, path, map[string]string{"X-Admin-Token": tc.adminToken})
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseHeader(name string) string {
	return tc.lastHeaders.Get(name)
}

func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.NewDecoder(bytes.NewReader(tc.lastBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response body %q: %w", tc.lastBody, err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response %s", field, tc.lastBody)
	}
	return v, nil
}
