package backend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/google/uuid"
)

// PasswordLogin checks a username and password. Accounts with a second factor need the
// one time code in otp; without it, a needs_2fa error carrying a second factor challenge is returned.
// With resend set, an SMS code is sent instead and needs_2fa is returned as confirmation.
func (b *Backend) PasswordLogin(username, password, otp string, resend bool) (Login, error) {
	return withLock(b, func() (Login, error) {
		acc, ok := b.findAccount(username)
		if !ok || !acc.checkPassword(password) {
			return Login{}, errIncorrectPassword()
		}

		if acc.twoStep == nil {
			return Login{UserID: acc.userID, Token: b.newToken(acc.userID)}, nil
		}

		if resend {
			if acc.twoStep.PhoneNumber == "" {
				return Login{}, newError(http.StatusBadRequest, "invalid_request", "SMS is not enabled for this account.")
			}

			b.sendSMS(acc)

			return Login{}, newError(http.StatusBadRequest, "needs_2fa", "Please enter the verification code sent to your phone.")
		}

		if otp == "" {
			err := newError(http.StatusBadRequest, "needs_2fa", "Please enter the verification code generated by your authenticator app.")
			err.Challenge = b.newChallenge(acc)

			return Login{}, err
		}

		for _, authType := range []string{AuthTypeAuthenticator, AuthTypeSMS, AuthTypeBackup} {
			if acc.checkCode(authType, otp) {
				return Login{UserID: acc.userID, Token: b.newToken(acc.userID)}, nil
			}
		}

		return Login{}, newError(http.StatusBadRequest, "invalid_otp", "Invalid verification code.")
	})
}

// SocialLogin logs in with a social provider identity.
func (b *Backend) SocialLogin(service, idToken string) (Login, error) {
	return withLock(b, func() (Login, error) {
		id := identity{service: service, token: idToken}

		if userID, ok := b.social[id]; ok {
			acc := b.accounts[userID]

			if acc.twoStep != nil {
				return Login{UserID: userID, Challenge: b.newChallenge(acc)}, nil
			}

			return Login{UserID: userID, Token: b.newToken(userID)}, nil
		}

		if email, ok := b.unconnected[id]; ok {
			if _, ok := b.findAccount(email); ok {
				err := newError(http.StatusBadRequest, "user_exists", "An account with this email already exists. Log in to connect it.")
				err.Email = email

				return Login{}, err
			}
		}

		return Login{}, newError(http.StatusBadRequest, "unknown_user", "There is no account for this identity.")
	})
}

// SendSMSCode sends a code by SMS and returns a fresh SMS nonce.
func (b *Backend) SendSMSCode(userID int64, nonce string) (string, error) {
	return withLock(b, func() (string, error) {
		acc, err := b.consumeNonce(userID, AuthTypeSMS, nonce)
		if err != nil {
			return "", err
		}

		if acc.twoStep.PhoneNumber == "" {
			err := newError(http.StatusBadRequest, "no_phone_number", "SMS is not enabled for this account.")
			err.NewNonce = b.newNonce(userID, AuthTypeSMS)

			return "", err
		}

		b.sendSMS(acc)

		return b.newNonce(userID, AuthTypeSMS), nil
	})
}

// TwoStep verifies a second factor code. A wrong code consumes the nonce and hands out a new one.
func (b *Backend) TwoStep(userID int64, authType, code, nonce string) (Login, error) {
	return withLock(b, func() (Login, error) {
		acc, err := b.consumeNonce(userID, authType, nonce)
		if err != nil {
			return Login{}, err
		}

		if !acc.checkCode(authType, code) {
			err := newError(http.StatusBadRequest, "invalid_two_step_code", "Invalid verification code.")
			err.NewNonce = b.newNonce(userID, authType)

			return Login{}, err
		}

		return Login{UserID: userID, Token: b.newToken(userID)}, nil
	})
}

// WebauthnChallenge returns a challenge for the user's security keys, bound to a fresh webauthn nonce.
func (b *Backend) WebauthnChallenge(userID int64, nonce, relyingPartyID string) (WebauthnChallenge, error) {
	return withLock(b, func() (WebauthnChallenge, error) {
		acc, err := b.consumeNonce(userID, AuthTypeWebauthn, nonce)
		if err != nil {
			return WebauthnChallenge{}, err
		}

		if len(acc.twoStep.WebauthnCredentials) == 0 {
			err := newError(http.StatusBadRequest, "no_webauthn_credentials", "No security keys are registered.")
			err.NewNonce = b.newNonce(userID, AuthTypeWebauthn)

			return WebauthnChallenge{}, err
		}

		challenge := uuid.New()
		newNonce := b.newNonce(userID, AuthTypeWebauthn)

		b.challenges[newNonce] = base64.RawURLEncoding.EncodeToString(challenge[:])

		return WebauthnChallenge{
			Challenge:      b.challenges[newNonce],
			RelyingPartyID: relyingPartyID,
			Nonce:          newNonce,
			CredentialIDs:  acc.credentialIDs(),
		}, nil
	})
}

// WebauthnVerify checks a security key assertion against the challenge bound to the nonce.
// Signatures are not verified: the assertion must name a registered credential and echo the challenge.
func (b *Backend) WebauthnVerify(userID int64, nonce string, clientData []byte) (Login, error) {
	return withLock(b, func() (Login, error) {
		challenge := b.challenges[nonce]
		delete(b.challenges, nonce)

		acc, err := b.consumeNonce(userID, AuthTypeWebauthn, nonce)
		if err != nil {
			return Login{}, err
		}

		if challenge == "" || !verifyAssertion(clientData, challenge, acc.credentialIDs()) {
			err := newError(http.StatusBadRequest, "invalid_two_step_code", "The security key could not be verified.")
			err.NewNonce = b.newNonce(userID, AuthTypeWebauthn)

			return Login{}, err
		}

		return Login{UserID: userID, Token: b.newToken(userID)}, nil
	})
}

// VerifyToken returns the user a bearer token belongs to.
func (b *Backend) VerifyToken(tok string) (int64, error) {
	return withLock(b, func() (int64, error) {
		t, ok := b.tokens[tok]
		if !ok {
			return 0, fmt.Errorf("unknown token")
		}

		if time.Since(t.created) > b.authLife {
			delete(b.tokens, tok)
			return 0, fmt.Errorf("token expired")
		}

		return t.userID, nil
	})
}

// RevokeTokens invalidates every bearer token of the user.
func (b *Backend) RevokeTokens(userID int64) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for tok, t := range b.tokens {
		if t.userID == userID {
			delete(b.tokens, tok)
		}
	}
}

func verifyAssertion(clientData []byte, challenge string, credentialIDs []string) bool {
	var assertion struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Response struct {
			ClientDataJSON string `json:"clientDataJSON"`
		} `json:"response"`
	}

	if err := json.Unmarshal(clientData, &assertion); err != nil {
		return false
	}

	if assertion.Type != "public-key" || xslices.Index(credentialIDs, assertion.ID) < 0 {
		return false
	}

	raw, err := base64.RawURLEncoding.DecodeString(assertion.Response.ClientDataJSON)
	if err != nil {
		return false
	}

	var data struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}

	if err := json.Unmarshal(raw, &data); err != nil {
		return false
	}

	return data.Type == "webauthn.get" && data.Challenge == challenge
}

// The helpers below must be called with the lock held.

func (b *Backend) findAccount(usernameOrEmail string) (*account, bool) {
	for _, acc := range b.accounts {
		if acc.username == usernameOrEmail || acc.email == usernameOrEmail {
			return acc, true
		}
	}

	return nil, false
}

func (b *Backend) newToken(userID int64) string {
	tok := uuid.NewString()

	b.tokens[tok] = token{userID: userID, created: time.Now()}

	return tok
}

func (b *Backend) newNonce(userID int64, authType string) string {
	n := uuid.NewString()

	b.nonces[n] = nonce{userID: userID, authType: authType}

	return n
}

func (b *Backend) newChallenge(acc *account) *Challenge {
	challenge := &Challenge{
		UserID:             acc.userID,
		SupportedAuthTypes: acc.supportedAuthTypes(),
		PhoneNumber:        maskPhoneNumber(acc.twoStep.PhoneNumber),
	}

	for _, authType := range challenge.SupportedAuthTypes {
		n := b.newNonce(acc.userID, authType)

		switch authType {
		case AuthTypeAuthenticator:
			challenge.Authenticator = n

		case AuthTypeSMS:
			challenge.SMS = n

		case AuthTypeBackup:
			challenge.Backup = n

		case AuthTypeWebauthn:
			challenge.Webauthn = n
		}
	}

	return challenge
}

// consumeNonce checks that the nonce was issued to the user for the auth type and invalidates it.
func (b *Backend) consumeNonce(userID int64, authType, n string) (*account, error) {
	issued, ok := b.nonces[n]
	if !ok || issued.userID != userID || issued.authType != authType {
		return nil, newError(http.StatusForbidden, "invalid_two_step_nonce", "Invalid two step nonce.")
	}

	delete(b.nonces, n)

	acc, ok := b.accounts[userID]
	if !ok || acc.twoStep == nil {
		return nil, newError(http.StatusBadRequest, "unknown_user", "Unknown user.")
	}

	return acc, nil
}

func (b *Backend) sendSMS(acc *account) {
	acc.smsCode = fmt.Sprintf("%06d", rand.Intn(1_000_000)) //nolint:gosec

	log.WithField("userID", acc.userID).Debug("Sent SMS code")
}

func maskPhoneNumber(number string) string {
	if len(number) <= 2 {
		return number
	}

	masked := []byte(number)

	for i := 0; i < len(masked)-2; i++ {
		if masked[i] >= '0' && masked[i] <= '9' {
			masked[i] = '*'
		}
	}

	return string(masked)
}
