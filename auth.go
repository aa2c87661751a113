package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
)

const (
	actionSendSMSCode    = "send-sms-code-endpoint"
	actionSocialLogin    = "social-login-endpoint"
	actionTwoStep        = "two-step-authentication-endpoint"
	actionWebauthnChall  = "webauthn-challenge-endpoint"
	actionWebauthnVerify = "webauthn-authentication-endpoint"
)

// Authenticate submits a username and password to the OAuth token endpoint.
// When the account has a second factor and multifactorCode is empty, the result is a
// StateNeedsMultiFactor success carrying the nonces needed to continue.
func (m *Manager) Authenticate(ctx context.Context, username, password, multifactorCode string) Result[AuthenticationResult, AuthenticationFailure] {
	form := m.passwordForm(username, password)

	if multifactorCode != "" {
		form["wpcom_otp"] = multifactorCode
	}

	res := performAuth(ctx, m, m.tokenRequest(form), parseAuthenticationResult)

	return MapEndpointError(res, func(failure AuthenticationFailure, r *Response) Result[AuthenticationResult, AuthenticationFailure] {
		if failure.Kind == FailureNeedsMultifactorCode {
			if userID, info, ok := parseNonceInfo(failure.Raw); ok {
				return Success[AuthenticationResult, AuthenticationFailure](AuthenticationResult{
					State:     StateNeedsMultiFactor,
					UserID:    userID,
					NonceInfo: info,
				})
			}
		}

		return Failure[AuthenticationResult](NewEndpointError(failure, r))
	})
}

// RequestOneTimeCode asks WordPress.com to send a one time code by SMS to the account's phone.
// The server answers a successful send with a needs_2fa error, which is reported as success.
func (m *Manager) RequestOneTimeCode(ctx context.Context, username, password string) Result[struct{}, AuthenticationFailure] {
	form := m.passwordForm(username, password)
	form["wpcom_resend_otp"] = "true"

	res := performAuth(ctx, m, m.tokenRequest(form), func([]byte) (struct{}, error) {
		return struct{}{}, nil
	})

	return MapEndpointError(res, func(failure AuthenticationFailure, r *Response) Result[struct{}, AuthenticationFailure] {
		if failure.Kind == FailureNeedsMultifactorCode {
			return Success[struct{}, AuthenticationFailure](struct{}{})
		}

		return Failure[struct{}](NewEndpointError(failure, r))
	})
}

// RequestSocial2FACode asks WordPress.com to send a two step code by SMS and returns the refreshed SMS nonce.
// A success body without a nonce is an unparsable response. Endpoint errors carry the refreshed
// nonce in NewNonce when the server handed one out.
func (m *Manager) RequestSocial2FACode(ctx context.Context, userID int64, nonce string) Result[string, AuthenticationFailure] {
	form := m.clientForm()
	form["user_id"] = strconv.FormatInt(userID, 10)
	form["two_step_nonce"] = nonce

	return performAuth(ctx, m, m.loginRequest(actionSendSMSCode, form), DecodeTwoStepNonce)
}

// AuthenticateSocial logs in with an ID token issued by a social provider such as "google" or "apple".
// An account registered with the same email but not connected to the provider yields
// StateExistingUserNeedsConnection with that email.
func (m *Manager) AuthenticateSocial(ctx context.Context, idToken, service string) Result[AuthenticationResult, AuthenticationFailure] {
	form := m.clientForm()
	form["service"] = service
	form["token"] = idToken
	form["get_bearer_token"] = "true"

	req := m.loginRequestBuilder(actionSocialLogin).Query("version", "1.0").FormBody(form)

	res := performAuth(ctx, m, req, parseAuthenticationResult)

	return MapEndpointError(res, func(failure AuthenticationFailure, r *Response) Result[AuthenticationResult, AuthenticationFailure] {
		if failure.Kind == FailureSocialLoginExistingUserUnconnected {
			return Success[AuthenticationResult, AuthenticationFailure](AuthenticationResult{
				State: StateExistingUserNeedsConnection,
				Email: failure.email(),
			})
		}

		return Failure[AuthenticationResult](NewEndpointError(failure, r))
	})
}

// AuthenticateSocial2FA submits a second factor code for the given auth type, using that type's nonce.
func (m *Manager) AuthenticateSocial2FA(ctx context.Context, userID int64, authType AuthType, code, nonce string) Result[AuthenticationResult, AuthenticationFailure] {
	form := m.clientForm()
	form["user_id"] = strconv.FormatInt(userID, 10)
	form["auth_type"] = string(authType)
	form["two_step_code"] = code
	form["two_step_nonce"] = nonce
	form["remember_me"] = "true"
	form["get_bearer_token"] = "true"
	form["create_2fa_cookies_only"] = "true"

	return performAuth(ctx, m, m.loginRequest(actionTwoStep, form), parseAuthenticationResult)
}

// RequestWebauthnChallenge fetches a challenge for the account's security keys.
// The nonce of the returned challenge must be passed on to AuthenticateWebauthnSignature.
func (m *Manager) RequestWebauthnChallenge(ctx context.Context, userID int64, nonce string) Result[WebauthnChallengeInfo, AuthenticationFailure] {
	form := m.clientForm()
	form["user_id"] = strconv.FormatInt(userID, 10)
	form["auth_type"] = string(AuthTypeWebauthn)
	form["two_step_nonce"] = nonce

	return performAuth(ctx, m, m.loginRequest(actionWebauthnChall, form), parseWebauthnChallenge)
}

// AuthenticateWebauthnSignature submits the security key's assertion of a challenge.
func (m *Manager) AuthenticateWebauthnSignature(
	ctx context.Context,
	userID int64,
	challenge WebauthnChallengeInfo,
	assertion WebauthnAssertion,
) Result[AuthenticationResult, AuthenticationFailure] {
	clientData, err := json.Marshal(assertion)
	if err != nil {
		return Failure[AuthenticationResult](NewRequestEncodingError[AuthenticationFailure](err))
	}

	form := m.clientForm()
	form["user_id"] = strconv.FormatInt(userID, 10)
	form["auth_type"] = string(AuthTypeWebauthn)
	form["two_step_nonce"] = challenge.TwoStepNonce
	form["client_data"] = string(clientData)
	form["get_bearer_token"] = "true"
	form["create_2fa_cookies_only"] = "true"

	return performAuth(ctx, m, m.loginRequest(actionWebauthnVerify, form), parseAuthenticationResult)
}

// DecodeTwoStepNonce reads the refreshed nonce out of a successful two step response.
func DecodeTwoStepNonce(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.New("two step response is not valid JSON")
	}

	nonce := gjson.GetBytes(body, "data.two_step_nonce").String()
	if nonce == "" {
		return "", ErrMissingNonce
	}

	return nonce, nil
}

// performAuth performs an authentication request, decodes failures as AuthenticationFailure
// and parses successful bodies with parse.
func performAuth[T any](ctx context.Context, m *Manager, b RequestBuilder, parse func([]byte) (T, error)) Result[T, AuthenticationFailure] {
	req, err := b.Build()
	if err != nil {
		return Failure[T](NewRequestEncodingError[AuthenticationFailure](err))
	}

	res := MapUnacceptableStatusCodeError(Perform[AuthenticationFailure](ctx, m, req), decodeAuthenticationFailureResponse)

	return FlatMapSuccess(res, func(r *Response) Result[T, AuthenticationFailure] {
		val, err := parse(r.Body)
		if err != nil {
			return Failure[T](NewUnparsableResponseError[AuthenticationFailure](r, err))
		}

		return Success[T, AuthenticationFailure](val)
	})
}

func (m *Manager) clientForm() map[string]string {
	return map[string]string{
		"client_id":     m.clientID,
		"client_secret": m.clientSecret,
	}
}

func (m *Manager) passwordForm(username, password string) map[string]string {
	form := m.clientForm()
	form["username"] = username
	form["password"] = password
	form["grant_type"] = "password"
	form["wpcom_supports_2fa"] = "true"
	form["with_auth_types"] = "true"

	return form
}

func (m *Manager) tokenRequest(form map[string]string) RequestBuilder {
	return NewRequestBuilder(m.oauthURL).
		Method(http.MethodPost).
		Path("/oauth2/token").
		Header("Accept", contentTypeJSON).
		FormBody(form)
}

func (m *Manager) loginRequestBuilder(action string) RequestBuilder {
	return NewRequestBuilder(m.loginURL).
		Method(http.MethodPost).
		Path("/wp-login.php").
		Query("action", action).
		Header("Accept", contentTypeJSON)
}

func (m *Manager) loginRequest(action string, form map[string]string) RequestBuilder {
	return m.loginRequestBuilder(action).FormBody(form)
}
