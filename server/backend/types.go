package backend

import (
	"fmt"
	"net/http"
	"time"
)

const (
	AuthTypeAuthenticator = "authenticator"
	AuthTypeSMS           = "sms"
	AuthTypeBackup        = "backup"
	AuthTypeWebauthn      = "webauthn"
)

// TwoStep is the second factor configuration of an account.
// SMS is available when a phone number is set; the code is generated when it is sent.
type TwoStep struct {
	AuthenticatorCode   string
	BackupCode          string
	PhoneNumber         string
	WebauthnCredentials [][]byte
}

type User struct {
	ID          int64
	Username    string
	Email       string
	DisplayName string
	PrimaryBlog int64
}

// Challenge is the set of nonces handed out when a login needs a second factor.
type Challenge struct {
	UserID             int64
	Authenticator      string
	SMS                string
	Backup             string
	Webauthn           string
	SupportedAuthTypes []string
	PhoneNumber        string
}

// Login is the outcome of a first factor: either a bearer token or a second factor challenge.
type Login struct {
	UserID    int64
	Token     string
	Challenge *Challenge
}

type WebauthnChallenge struct {
	Challenge      string
	RelyingPartyID string
	Nonce          string
	CredentialIDs  []string
}

type Media struct {
	ID       int64
	SiteID   int64
	File     string
	MIMEType string
	Size     int64
}

// Error is a failure the server reports with an error code.
type Error struct {
	Status  int
	Code    string
	Message string

	// NewNonce replaces the nonce consumed by a failed second factor step.
	NewNonce string

	// Email is set on user_exists social login failures.
	Email string

	// Challenge is set on needs_2fa password login failures.
	Challenge *Challenge
}

func (err *Error) Error() string {
	return fmt.Sprintf("%v (%v): %v", err.Code, err.Status, err.Message)
}

func newError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func errIncorrectPassword() *Error {
	return newError(http.StatusBadRequest, "invalid_request", "Incorrect username or password.")
}

type identity struct {
	service string
	token   string
}

type nonce struct {
	userID   int64
	authType string
}

type token struct {
	userID  int64
	created time.Time
}

type media struct {
	Media

	userID int64
}
