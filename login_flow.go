package wordpress

import (
	"context"
	"sync"
)

// AuthState is the position of a LoginFlow in the login process.
type AuthState int

const (
	AuthStateUnauthenticated AuthState = iota
	AuthStateAwaitingCredentialSubmission
	AuthStateAuthenticated
	AuthStateNeedsMultiFactor
	AuthStateNeedsSocialConnection
	AuthStateNeedsWebauthn
	AuthStateFailed
)

func (state AuthState) String() string {
	switch state {
	case AuthStateUnauthenticated:
		return "unauthenticated"

	case AuthStateAwaitingCredentialSubmission:
		return "awaiting credential submission"

	case AuthStateAuthenticated:
		return "authenticated"

	case AuthStateNeedsMultiFactor:
		return "needs multi factor"

	case AuthStateNeedsSocialConnection:
		return "needs social connection"

	case AuthStateNeedsWebauthn:
		return "needs webauthn"

	case AuthStateFailed:
		return "failed"

	default:
		return "invalid"
	}
}

// LoginFlow tracks a single login attempt: its state, the user being logged in and the nonces
// handed out by the server so far. Each step replaces consumed nonces with the refreshed ones.
// Steps are not checked for order; the server rejects steps it does not expect.
type LoginFlow struct {
	m *Manager

	state     AuthState
	userID    int64
	nonces    *NonceInfo
	challenge *WebauthnChallengeInfo
	token     string
	email     string
	lock      sync.Mutex
}

func (m *Manager) NewLoginFlow() *LoginFlow {
	return &LoginFlow{m: m}
}

func (f *LoginFlow) State() AuthState {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.state
}

func (f *LoginFlow) UserID() int64 {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.userID
}

// NonceInfo returns a copy of the nonces currently held by the flow, or nil if none were received.
func (f *LoginFlow) NonceInfo() *NonceInfo {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.nonces.clone()
}

// Token returns the bearer token once the flow is authenticated.
func (f *LoginFlow) Token() string {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.token
}

// Email returns the address of the existing account a social login must be connected to.
func (f *LoginFlow) Email() string {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.email
}

// SubmitCredentials logs in with a username and password.
func (f *LoginFlow) SubmitCredentials(ctx context.Context, username, password, multifactorCode string) Result[AuthenticationResult, AuthenticationFailure] {
	f.setState(AuthStateAwaitingCredentialSubmission)

	return f.handleAuthentication(f.m.Authenticate(ctx, username, password, multifactorCode), "")
}

// SubmitSocial logs in with a social provider's ID token.
func (f *LoginFlow) SubmitSocial(ctx context.Context, idToken, service string) Result[AuthenticationResult, AuthenticationFailure] {
	f.setState(AuthStateAwaitingCredentialSubmission)

	return f.handleAuthentication(f.m.AuthenticateSocial(ctx, idToken, service), "")
}

// RequestSMSCode asks for a two step code by SMS and stores the refreshed SMS nonce.
func (f *LoginFlow) RequestSMSCode(ctx context.Context) Result[string, AuthenticationFailure] {
	userID, nonce := f.nonceFor(AuthTypeSMS)

	res := f.m.RequestSocial2FACode(ctx, userID, nonce)

	f.lock.Lock()
	defer f.lock.Unlock()

	if nonce, err := res.Get(); err == nil {
		f.refreshNonce(AuthTypeSMS, nonce)
	} else {
		f.handleStepFailure(AuthTypeSMS, res.Err())
	}

	return res
}

// SubmitCode submits a second factor code of the given type.
func (f *LoginFlow) SubmitCode(ctx context.Context, authType AuthType, code string) Result[AuthenticationResult, AuthenticationFailure] {
	userID, nonce := f.nonceFor(authType)

	return f.handleAuthentication(f.m.AuthenticateSocial2FA(ctx, userID, authType, code, nonce), authType)
}

// RequestWebauthnChallenge fetches a security key challenge and moves the flow to AuthStateNeedsWebauthn.
func (f *LoginFlow) RequestWebauthnChallenge(ctx context.Context) Result[WebauthnChallengeInfo, AuthenticationFailure] {
	userID, nonce := f.nonceFor(AuthTypeWebauthn)

	res := f.m.RequestWebauthnChallenge(ctx, userID, nonce)

	f.lock.Lock()
	defer f.lock.Unlock()

	if challenge, err := res.Get(); err == nil {
		f.challenge = &challenge
		f.refreshNonce(AuthTypeWebauthn, challenge.TwoStepNonce)
		f.state = AuthStateNeedsWebauthn
	} else {
		f.handleStepFailure(AuthTypeWebauthn, res.Err())
	}

	return res
}

// SubmitWebauthnAssertion submits the signed challenge obtained after RequestWebauthnChallenge.
// Without a prior challenge, the current webauthn nonce is sent and the server decides.
func (f *LoginFlow) SubmitWebauthnAssertion(ctx context.Context, assertion WebauthnAssertion) Result[AuthenticationResult, AuthenticationFailure] {
	f.lock.Lock()
	userID := f.userID
	challenge := WebauthnChallengeInfo{TwoStepNonce: f.nonces.Nonce(AuthTypeWebauthn)}
	if f.challenge != nil {
		challenge = *f.challenge
	}
	f.lock.Unlock()

	return f.handleAuthentication(f.m.AuthenticateWebauthnSignature(ctx, userID, challenge, assertion), AuthTypeWebauthn)
}

func (f *LoginFlow) setState(state AuthState) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.state = state
}

func (f *LoginFlow) nonceFor(authType AuthType) (int64, string) {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.userID, f.nonces.Nonce(authType)
}

func (f *LoginFlow) handleAuthentication(
	res Result[AuthenticationResult, AuthenticationFailure],
	step AuthType,
) Result[AuthenticationResult, AuthenticationFailure] {
	f.lock.Lock()
	defer f.lock.Unlock()

	val, err := res.Get()
	if err != nil {
		if step == "" {
			f.state = AuthStateFailed
		} else {
			f.handleStepFailure(step, res.Err())
		}

		return res
	}

	switch val.State {
	case StateAuthenticated:
		f.state = AuthStateAuthenticated
		f.token = val.Token
		f.challenge = nil

		if val.UserID != 0 {
			f.userID = val.UserID
		}

	case StateNeedsMultiFactor:
		f.state = AuthStateNeedsMultiFactor
		f.userID = val.UserID
		f.nonces = val.NonceInfo.clone()

	case StateExistingUserNeedsConnection:
		f.state = AuthStateNeedsSocialConnection
		f.email = val.Email
	}

	return res
}

// handleStepFailure keeps the flow in its second factor state when the server handed out a fresh
// nonce, so the step can be retried. Any other failure ends the flow.
func (f *LoginFlow) handleStepFailure(step AuthType, err *APIError[AuthenticationFailure]) {
	if failure, ok := err.Endpoint(); ok && failure.NewNonce != "" {
		f.refreshNonce(step, failure.NewNonce)

		if step == AuthTypeWebauthn {
			f.challenge = nil
		}

		f.state = AuthStateNeedsMultiFactor

		return
	}

	f.state = AuthStateFailed
}

func (f *LoginFlow) refreshNonce(authType AuthType, nonce string) {
	if f.nonces == nil {
		f.nonces = &NonceInfo{}
	}

	f.nonces.SetNonce(authType, nonce)
}
