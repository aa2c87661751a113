package wordpress

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bradenaw/juniper/xslices"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

var (
	ErrMissingNonce         = errors.New("response carries no two step nonce")
	ErrMissingErrorCode     = errors.New("response carries no error code")
	ErrUnexpectedAuthStatus = errors.New("status code does not carry an authentication failure")
	ErrUnexpectedAuthBody   = errors.New("response carries neither a token nor a second factor challenge")
)

// AuthenticationFailureKind is the closed set of known authentication error codes.
// Codes the client does not know are reported as FailureUnknown.
type AuthenticationFailureKind string

const (
	FailureInvalidClient                      AuthenticationFailureKind = "invalid_client"
	FailureUnsupportedGrantType               AuthenticationFailureKind = "unsupported_grant_type"
	FailureInvalidRequest                     AuthenticationFailureKind = "invalid_request"
	FailureNeedsMultifactorCode               AuthenticationFailureKind = "needs_2fa"
	FailureInvalidOneTimePassword             AuthenticationFailureKind = "invalid_otp"
	FailureInvalidTwoStepCode                 AuthenticationFailureKind = "invalid_two_step_code"
	FailureUnknownUser                        AuthenticationFailureKind = "unknown_user"
	FailureSocialLoginExistingUserUnconnected AuthenticationFailureKind = "user_exists"
	FailureUnknown                            AuthenticationFailureKind = "unknown"
)

var knownFailureKinds = []AuthenticationFailureKind{
	FailureInvalidClient,
	FailureUnsupportedGrantType,
	FailureInvalidRequest,
	FailureNeedsMultifactorCode,
	FailureInvalidOneTimePassword,
	FailureInvalidTwoStepCode,
	FailureUnknownUser,
	FailureSocialLoginExistingUserUnconnected,
}

func failureKind(code string) AuthenticationFailureKind {
	if idx := xslices.Index(knownFailureKinds, AuthenticationFailureKind(code)); idx >= 0 {
		return knownFailureKinds[idx]
	}

	return FailureUnknown
}

// AuthenticationFailure is the endpoint error of the OAuth and wp-login.php endpoints.
type AuthenticationFailure struct {
	Kind AuthenticationFailureKind

	// Code is the error code as sent by the server, which differs from Kind for unknown codes.
	Code string

	Message string

	// NewNonce is the refreshed two step nonce, if the server sent one along with the error.
	NewNonce string

	// Raw is the undecoded response body.
	Raw []byte
}

func (f AuthenticationFailure) Error() string {
	if f.Message == "" {
		return f.Code
	}

	return fmt.Sprintf("%v: %v", f.Code, f.Message)
}

// DecodeAuthenticationFailure decodes either of the two error shapes used by WordPress.com:
//
//	{"error": "<code>", "error_description": "<message>"}
//	{"data": {"errors": [{"code": "<code>", "message": "<message>"}], "two_step_nonce": "<nonce>"}}
func DecodeAuthenticationFailure(body []byte) (AuthenticationFailure, error) {
	if !gjson.ValidBytes(body) {
		return AuthenticationFailure{}, errors.New("authentication failure is not valid JSON")
	}

	doc := gjson.ParseBytes(body)

	failure := AuthenticationFailure{
		NewNonce: doc.Get("data.two_step_nonce").String(),
		Raw:      body,
	}

	if code := doc.Get("error"); code.Type == gjson.String && code.String() != "" {
		failure.Code = code.String()
		failure.Message = doc.Get("error_description").String()
	} else if first := doc.Get("data.errors.0"); first.Exists() {
		failure.Code = first.Get("code").String()
		failure.Message = first.Get("message").String()
	}

	if failure.Code == "" {
		return AuthenticationFailure{}, ErrMissingErrorCode
	}

	failure.Kind = failureKind(failure.Code)

	return failure, nil
}

// decodeAuthenticationFailureResponse only accepts the statuses WordPress.com uses for authentication errors.
func decodeAuthenticationFailureResponse(res *Response) (AuthenticationFailure, error) {
	switch res.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusConflict:
		return DecodeAuthenticationFailure(res.Body)

	default:
		return AuthenticationFailure{}, fmt.Errorf("%w: %v", ErrUnexpectedAuthStatus, res.StatusCode)
	}
}

// email returns the address WordPress.com attaches to a user_exists social login failure.
func (f AuthenticationFailure) email() string {
	for _, path := range []string{"data.email", "email"} {
		if email := gjson.GetBytes(f.Raw, path).String(); email != "" {
			return email
		}
	}

	return ""
}

// AuthType is a second factor supported by an account.
type AuthType string

const (
	AuthTypeAuthenticator AuthType = "authenticator"
	AuthTypeSMS           AuthType = "sms"
	AuthTypeBackup        AuthType = "backup"
	AuthTypeWebauthn      AuthType = "webauthn"
)

// NonceInfo holds the two step nonces of one login attempt.
// Each nonce is single use: the server returns a fresh one after every second factor call.
type NonceInfo struct {
	NonceAuthenticator string
	NonceSMS           string
	NonceBackup        string
	NonceWebauthn      string

	SupportedAuthTypes []AuthType

	// PhoneNumber is the masked number SMS codes are sent to.
	PhoneNumber string
}

// Nonce returns the nonce of the given auth type. It is safe to call on a nil NonceInfo.
func (info *NonceInfo) Nonce(authType AuthType) string {
	if info == nil {
		return ""
	}

	switch authType {
	case AuthTypeAuthenticator:
		return info.NonceAuthenticator

	case AuthTypeSMS:
		return info.NonceSMS

	case AuthTypeBackup:
		return info.NonceBackup

	case AuthTypeWebauthn:
		return info.NonceWebauthn

	default:
		return ""
	}
}

func (info *NonceInfo) SetNonce(authType AuthType, nonce string) {
	switch authType {
	case AuthTypeAuthenticator:
		info.NonceAuthenticator = nonce

	case AuthTypeSMS:
		info.NonceSMS = nonce

	case AuthTypeBackup:
		info.NonceBackup = nonce

	case AuthTypeWebauthn:
		info.NonceWebauthn = nonce
	}
}

func (info *NonceInfo) Supports(authType AuthType) bool {
	return xslices.Index(info.SupportedAuthTypes, authType) >= 0
}

func (info *NonceInfo) clone() *NonceInfo {
	if info == nil {
		return nil
	}

	clone := *info
	clone.SupportedAuthTypes = append([]AuthType(nil), info.SupportedAuthTypes...)

	return &clone
}

// parseNonceInfo reads a second factor challenge, either nested under "data" or at the top level.
// It reports false unless a user ID and at least one nonce are present.
func parseNonceInfo(body []byte) (int64, *NonceInfo, bool) {
	doc := gjson.ParseBytes(body)

	if data := doc.Get("data"); data.IsObject() {
		doc = data
	}

	userID := doc.Get("user_id").Int()

	info := &NonceInfo{
		NonceAuthenticator: doc.Get("two_step_nonce_authenticator").String(),
		NonceSMS:           doc.Get("two_step_nonce_sms").String(),
		NonceBackup:        doc.Get("two_step_nonce_backup").String(),
		NonceWebauthn:      doc.Get("two_step_nonce_webauthn").String(),
		PhoneNumber:        doc.Get("phone_number").String(),
		SupportedAuthTypes: xslices.Map(doc.Get("two_step_supported_auth_types").Array(), func(r gjson.Result) AuthType {
			return AuthType(r.String())
		}),
	}

	if userID == 0 {
		return 0, nil, false
	}

	if info.NonceAuthenticator == "" && info.NonceSMS == "" && info.NonceBackup == "" && info.NonceWebauthn == "" {
		return 0, nil, false
	}

	return userID, info, true
}

// AuthenticationState tells which branch an authentication call ended in.
type AuthenticationState int

const (
	StateAuthenticated AuthenticationState = iota + 1
	StateNeedsMultiFactor
	StateExistingUserNeedsConnection
)

func (state AuthenticationState) String() string {
	switch state {
	case StateAuthenticated:
		return "authenticated"

	case StateNeedsMultiFactor:
		return "needs multi factor"

	case StateExistingUserNeedsConnection:
		return "existing user needs connection"

	default:
		return "invalid"
	}
}

// AuthenticationResult is the successful outcome of an authentication call.
// Token is set when authenticated, UserID and NonceInfo when a second factor is needed,
// and Email when a social login matched an existing account that is not connected yet.
type AuthenticationResult struct {
	State AuthenticationState

	Token     string
	UserID    int64
	NonceInfo *NonceInfo
	Email     string
}

// TokenSource returns a token source serving the bearer token of an authenticated result.
func (res AuthenticationResult) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: res.Token,
		TokenType:   "Bearer",
	})
}

// parseAuthenticationResult interprets a successful authentication response.
// A token always wins; otherwise a second factor challenge is looked for.
func parseAuthenticationResult(body []byte) (AuthenticationResult, error) {
	if !gjson.ValidBytes(body) {
		return AuthenticationResult{}, errors.New("authentication response is not valid JSON")
	}

	doc := gjson.ParseBytes(body)

	for _, path := range []string{"access_token", "data.bearer_token", "bearer_token"} {
		if token := doc.Get(path).String(); token != "" {
			return AuthenticationResult{
				State:  StateAuthenticated,
				Token:  token,
				UserID: doc.Get("data.user_id").Int(),
			}, nil
		}
	}

	if userID, info, ok := parseNonceInfo(body); ok {
		return AuthenticationResult{
			State:     StateNeedsMultiFactor,
			UserID:    userID,
			NonceInfo: info,
		}, nil
	}

	return AuthenticationResult{}, ErrUnexpectedAuthBody
}

// WebauthnChallengeInfo is the challenge a security key must sign.
type WebauthnChallengeInfo struct {
	Challenge            string
	RelyingPartyID       string
	TwoStepNonce         string
	AllowedCredentialIDs []string
}

func parseWebauthnChallenge(body []byte) (WebauthnChallengeInfo, error) {
	if !gjson.ValidBytes(body) {
		return WebauthnChallengeInfo{}, errors.New("webauthn challenge is not valid JSON")
	}

	doc := gjson.ParseBytes(body)

	if data := doc.Get("data"); data.IsObject() {
		doc = data
	}

	info := WebauthnChallengeInfo{
		Challenge:      doc.Get("challenge").String(),
		RelyingPartyID: doc.Get("rpId").String(),
		TwoStepNonce:   doc.Get("two_step_nonce").String(),
		AllowedCredentialIDs: xslices.Map(doc.Get("allowCredentials").Array(), func(r gjson.Result) string {
			return r.Get("id").String()
		}),
	}

	if info.Challenge == "" {
		return WebauthnChallengeInfo{}, errors.New("webauthn challenge is missing")
	}

	if info.TwoStepNonce == "" {
		return WebauthnChallengeInfo{}, ErrMissingNonce
	}

	return info, nil
}

// WebauthnAssertion is the signed challenge produced by a security key.
type WebauthnAssertion struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
	UserHandle        []byte
}

func (a WebauthnAssertion) MarshalJSON() ([]byte, error) {
	enc := base64.RawURLEncoding.EncodeToString

	type response struct {
		ClientDataJSON    string `json:"clientDataJSON"`
		AuthenticatorData string `json:"authenticatorData"`
		Signature         string `json:"signature"`
		UserHandle        string `json:"userHandle"`
	}

	return json.Marshal(struct {
		ID                     string         `json:"id"`
		RawID                  string         `json:"rawId"`
		Type                   string         `json:"type"`
		ClientExtensionResults map[string]any `json:"clientExtensionResults"`
		Response               response       `json:"response"`
	}{
		ID:                     enc(a.CredentialID),
		RawID:                  enc(a.CredentialID),
		Type:                   "public-key",
		ClientExtensionResults: map[string]any{},
		Response: response{
			ClientDataJSON:    enc(a.ClientDataJSON),
			AuthenticatorData: enc(a.AuthenticatorData),
			Signature:         enc(a.Signature),
			UserHandle:        enc(a.UserHandle),
		},
	})
}
