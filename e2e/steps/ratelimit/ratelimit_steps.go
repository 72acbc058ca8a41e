package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, headers map[string]string) error
	AdminRequest(method, path string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseHeader(name string) string
}

// RegisterSteps registers quota enforcement step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I am calling from IP "([^"]*)"$`, steps.callingFromIP)
	ctx.Step(`^I POST to "([^"]*)" (\d+) times?$`, steps.postNTimes)
	ctx.Step(`^every response should have status (\d+)$`, steps.everyResponseShouldHaveStatus)
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, steps.responseHeaderShouldBe)
	ctx.Step(`^the response header "([^"]*)" should be present$`, steps.responseHeaderShouldBePresent)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.responseFieldShouldBe)
	ctx.Step(`^an admin clears the quota of "([^"]*)" on "([^"]*)"$`, steps.adminClears)
	ctx.Step(`^an admin checks the "([^"]*)" quota of "([^"]*)" on "([^"]*)"$`, steps.adminChecks)
}

type ratelimitSteps struct {
	tc TestContext
	// State for tracking across steps
	currentIP string
	statuses  []int
}

func (s *ratelimitSteps) callingFromIP(ctx context.Context, ip string) error {
	s.currentIP = ip
	return nil
}

func (s *ratelimitSteps) postNTimes(ctx context.Context, path string, n int) error {
	s.statuses = s.statuses[:0]
	headers := map[string]string{}
	if s.currentIP != "" {
		headers["X-Forwarded-For"] = s.currentIP
	}
	for i := 0; i < n; i++ {
		if err := s.tc.POST(path, headers); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *ratelimitSteps) everyResponseShouldHaveStatus(ctx context.Context, status int) error {
	for i, got := range s.statuses {
		if got != status {
			return fmt.Errorf("request %d: expected status %d, got %d", i+1, status, got)
		}
	}
	return nil
}

func (s *ratelimitSteps) responseStatusShouldBe(ctx context.Context, status int) error {
	if got := s.tc.GetLastResponseStatus(); got != status {
		return fmt.Errorf("expected status %d, got %d", status, got)
	}
	return nil
}

func (s *ratelimitSteps) responseHeaderShouldBe(ctx context.Context, name, value string) error {
	if got := s.tc.GetLastResponseHeader(name); got != value {
		return fmt.Errorf("header %s: expected %q, got %q", name, value, got)
	}
	return nil
}

func (s *ratelimitSteps) responseHeaderShouldBePresent(ctx context.Context, name string) error {
	if s.tc.GetLastResponseHeader(name) == "" {
		return fmt.Errorf("header %s is missing", name)
	}
	return nil
}

func (s *ratelimitSteps) responseFieldShouldBe(ctx context.Context, field, value string) error {
	got, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	var rendered string
	switch v := got.(type) {
	case string:
		rendered = v
	case float64:
		rendered = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		rendered = strconv.FormatBool(v)
	default:
		rendered = fmt.Sprint(v)
	}
	if rendered != value {
		return fmt.Errorf("field %s: expected %q, got %q", field, value, rendered)
	}
	return nil
}

func (s *ratelimitSteps) adminClears(ctx context.Context, identifier, endpoint string) error {
	q := url.Values{}
	q.Set("identifier", identifier)
	q.Set("endpoint", endpoint)
	return s.tc.AdminRequest(http.MethodDelete, "/admin/rate-limit?"+q.Encode())
}

func (s *ratelimitSteps) adminChecks(ctx context.Context, class, identifier, endpoint string) error {
	q := url.Values{}
	q.Set("identifier", identifier)
	q.Set("endpoint", endpoint)
	q.Set("class", class)
	return s.tc.AdminRequest(http.MethodGet, "/admin/rate-limit/status?"+q.Encode())
}
