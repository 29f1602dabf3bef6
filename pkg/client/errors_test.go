package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{200, ""},
		{204, ""},
		{304, ""},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassThrottled},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{"client errors not retried", ErrorClassClient, false},
		{"throttled retried", ErrorClassThrottled, true},
		{"server errors retried", ErrorClassServer, true},
		{"network errors retried", ErrorClassNetwork, true},
		{"success not retried", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.errorClass); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, got, tt.expected)
			}
		})
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{
		StatusCode: 404,
		Body:       []byte(`{"detail":"Not found."}`),
		Class:      ErrorClassClient,
		Method:     "GET",
		URL:        "https://api.example.com/posts/",
	}

	want := `GET https://api.example.com/posts/: http 404 (client): {"detail":"Not found."}`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	long := &HTTPError{StatusCode: 500, Body: []byte(strings.Repeat("x", 1000)), Class: ErrorClassServer}
	if got := len(long.Error()); got > maxErrorBodySnippet+100 {
		t.Errorf("Error() length = %d, body snippet not truncated", got)
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	err := fmt.Errorf("page 2: %w", &NetworkError{Method: "GET", URL: "/x", Cause: context.DeadlineExceeded})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is(err, DeadlineExceeded) = false, want true")
	}
	if !IsNetworkError(err) {
		t.Error("IsNetworkError() = false, want true")
	}
	if IsClientError(err) || IsServerError(err) {
		t.Error("network error must not report an HTTP class")
	}
}

func TestStatusHelpers_Wrapped(t *testing.T) {
	err := fmt.Errorf("fetch: %w", &HTTPError{StatusCode: 429, Class: ErrorClassThrottled})

	if StatusCode(err) != 429 {
		t.Errorf("StatusCode() = %d, want 429", StatusCode(err))
	}
	if !IsClientError(err) {
		t.Error("IsClientError() = false, want true for 429")
	}
	if StatusCode(errors.New("plain")) != 0 {
		t.Error("StatusCode(plain) should be 0")
	}
}
