package integration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oneclicktag/server/internal/google"
)

// Caller-precondition and guard errors. These are reported, never retried.
var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrNotConnected      = errors.New("customer has no linked Google account")
	ErrAlreadyInProgress = errors.New("another connect or disconnect is already running for this customer")

	// ErrMissingPrerequisite marks a request that needs a resource the
	// connect flow has not provisioned for this customer, such as a linked
	// Ads account or a GA4 property. The wrapping error names it.
	ErrMissingPrerequisite = errors.New("missing integration prerequisite")
)

// ConnectError is a fatal connect-flow failure. Only the oauth and tokens
// steps produce it; ads/ga4/gtm failures degrade to progress events instead.
type ConnectError struct {
	Step    string
	Message string // user-displayable
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect failed at %s step: %s: %v", e.Step, e.Message, e.Err)
	}
	return fmt.Sprintf("connect failed at %s step: %s", e.Step, e.Message)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// exchangeFailureMessage maps a token exchange error to something the user
// can act on. invalid_grant means the authorization code was reused or has
// expired; the generic wording would send users down the wrong path.
func exchangeFailureMessage(err error) string {
	if google.IsInvalidGrant(err) {
		return "The Google sign-in code has expired or was already used. Please start the connection again."
	}
	return "Google sign-in failed. Please try connecting again."
}

// classifyProviderError turns common provider failures into user-facing
// messages. Classification happens here, not in the reconcilers.
func classifyProviderError(target string, err error) string {
	if err == nil {
		return ""
	}
	if google.IsInvalidGrant(err) {
		return "Google access has been revoked. Please reconnect your Google account."
	}
	if google.IsPermissionDenied(err) {
		return fmt.Sprintf("Google denied access to %s. Check that the connected account has the required permissions.", target)
	}
	msg := err.Error()
	if strings.Contains(msg, "DEVELOPER_TOKEN_NOT_APPROVED") || strings.Contains(strings.ToLower(msg), "developer token") {
		return "The Google Ads developer token is not approved for production use yet."
	}
	return fmt.Sprintf("%s check failed: %v", target, err)
}
