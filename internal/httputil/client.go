package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout matches the coordinator API budget: responses slower
// than this are treated as failures and the fallback path takes over.
const DefaultTimeout = 15 * time.Second

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}
