package oauth

import "fmt"

// InvalidTokenError indicates a bearer credential that is unknown or past
// its TTL. It maps to HTTP 401.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string {
	if e.Reason == "" {
		return "invalid access token"
	}
	return fmt.Sprintf("invalid access token: %s", e.Reason)
}

// UpstreamError indicates the upstream identity provider answered a token
// exchange with a non-success status. It maps to HTTP 500; details are
// logged server-side and never leaked to the client.
type UpstreamError struct {
	Operation string
	Status    int
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s failed with status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Operation, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RegistrationError indicates the upstream registration endpoint rejected a
// dynamic client registration request.
type RegistrationError struct {
	Status int
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("client registration failed with status %d", e.Status)
	}
	return fmt.Sprintf("client registration failed: %v", e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
