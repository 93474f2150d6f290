package client

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for cloud API operations.
var (
	// ErrUnauthorized indicates the agent token was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedResponse indicates the API response is missing expected fields.
	ErrMalformedResponse = errors.New("malformed response")
)

// HTTPError wraps a non-success HTTP response with enough diagnostic
// detail to identify the failing request.
type HTTPError struct {
	// Op is the operation that failed (e.g., "Execute", "GenerateUploadURL").
	Op string

	// URL is the request destination.
	URL string

	// StatusCode is the HTTP status returned.
	StatusCode int

	// Body is an excerpt of the response body.
	Body string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.StatusCode)
}

// IsHTTPError returns true if the error carries an HTTP status from the API.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// GraphQLError indicates the GraphQL layer returned an errors payload or
// the response could not be interpreted as a GraphQL result.
type GraphQLError struct {
	Message string
	Err     error
}

func (e *GraphQLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graphql: %s: %v", e.Message, e.Err)
	}
	return "graphql: " + e.Message
}

func (e *GraphQLError) Unwrap() error {
	return e.Err
}

// MaintenanceError indicates the cloud API is down for scheduled
// maintenance. Timeout bounds how long callers should keep retrying;
// RetryInterval is the server-suggested wait between attempts.
type MaintenanceError struct {
	Message       string
	Timeout       time.Duration
	RetryInterval time.Duration
}

func (e *MaintenanceError) Error() string {
	return fmt.Sprintf("cloud API under maintenance: %s (retry every %s for up to %s)", e.Message, e.RetryInterval, e.Timeout)
}

// IsMaintenance returns true if the error indicates scheduled maintenance.
func IsMaintenance(err error) bool {
	var me *MaintenanceError
	return errors.As(err, &me)
}
