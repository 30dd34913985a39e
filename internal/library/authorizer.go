package library

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// AuthorizationStatus is the user's decision about library access.
type AuthorizationStatus string

const (
	// NotDetermined means the user has not been asked yet.
	NotDetermined AuthorizationStatus = "NOT_DETERMINED"
	// Authorized allows writes to the library.
	Authorized AuthorizationStatus = "AUTHORIZED"
	// Denied means the user refused access.
	Denied AuthorizationStatus = "DENIED"
	// Restricted means access is blocked by policy and cannot be granted by the user.
	Restricted AuthorizationStatus = "RESTRICTED"
)

// ParseAuthorizationStatus parses s case-insensitively.
func ParseAuthorizationStatus(s string) (AuthorizationStatus, error) {
	switch st := AuthorizationStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case NotDetermined, Authorized, Denied, Restricted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAuthorization, s)
	}
}

// Authorizer reports and requests permission to write to the library.
type Authorizer interface {
	Status(ctx context.Context) AuthorizationStatus
	// Request prompts for access. It is only meaningful when Status is NotDetermined.
	Request(ctx context.Context) (AuthorizationStatus, error)
}

// Compile-time check that PolicyAuthorizer implements Authorizer.
var _ Authorizer = (*PolicyAuthorizer)(nil)

// PolicyAuthorizer answers authorization from configuration. The answer given
// to the first prompt is remembered.
type PolicyAuthorizer struct {
	mu     sync.Mutex
	status AuthorizationStatus
	answer AuthorizationStatus
}

// NewPolicyAuthorizer creates an authorizer starting at status that answers a
// prompt with answer. An answer of NotDetermined is treated as Denied.
func NewPolicyAuthorizer(status, answer AuthorizationStatus) *PolicyAuthorizer {
	if answer == NotDetermined || answer == "" {
		answer = Denied
	}
	if status == "" {
		status = NotDetermined
	}
	return &PolicyAuthorizer{status: status, answer: answer}
}

// Status returns the current decision.
func (a *PolicyAuthorizer) Status(context.Context) AuthorizationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Request records the configured answer if no decision was made yet and
// returns the resulting status.
func (a *PolicyAuthorizer) Request(ctx context.Context) (AuthorizationStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == NotDetermined {
		a.status = a.answer
	}
	return a.status, nil
}
