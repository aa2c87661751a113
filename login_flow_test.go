package wordpress_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	wordpress "github.com/wordpress-mobile/go-wordpress-api"
	"github.com/wordpress-mobile/go-wordpress-api/server"
)

func TestLoginFlow_Password(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	createTestUser(t, s)

	flow := m.NewLoginFlow()
	require.Equal(t, wordpress.AuthStateUnauthenticated, flow.State())

	_, err := flow.SubmitCredentials(context.Background(), testUsername, testPassword, "").Get()
	require.NoError(t, err)

	require.Equal(t, wordpress.AuthStateAuthenticated, flow.State())
	require.NotEmpty(t, flow.Token())
	require.Nil(t, flow.NonceInfo())
}

func TestLoginFlow_WrongPassword(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	createTestUser(t, s)

	flow := m.NewLoginFlow()

	_, err := flow.SubmitCredentials(context.Background(), testUsername, "wrong", "").Get()
	require.Error(t, err)

	require.Equal(t, wordpress.AuthStateFailed, flow.State())
	require.Empty(t, flow.Token())
}

func TestLoginFlow_MultiFactor(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	userID := createTestUser(t, s)

	require.NoError(t, s.EnableTwoStep(userID, server.TwoStep{AuthenticatorCode: "123456"}))

	flow := m.NewLoginFlow()

	_, err := flow.SubmitCredentials(context.Background(), testUsername, testPassword, "").Get()
	require.NoError(t, err)

	require.Equal(t, wordpress.AuthStateNeedsMultiFactor, flow.State())
	require.Equal(t, userID, flow.UserID())

	initial := flow.NonceInfo()
	require.NotEmpty(t, initial.NonceAuthenticator)

	// A wrong code keeps the flow waiting for a second factor with a refreshed nonce.
	_, err = flow.SubmitCode(context.Background(), wordpress.AuthTypeAuthenticator, "000000").Get()
	require.Error(t, err)

	require.Equal(t, wordpress.AuthStateNeedsMultiFactor, flow.State())
	require.NotEqual(t, initial.NonceAuthenticator, flow.NonceInfo().NonceAuthenticator)

	// The right code completes the login.
	_, err = flow.SubmitCode(context.Background(), wordpress.AuthTypeAuthenticator, "123456").Get()
	require.NoError(t, err)

	require.Equal(t, wordpress.AuthStateAuthenticated, flow.State())
	require.NotEmpty(t, flow.Token())
	require.Equal(t, userID, flow.UserID())
}

func TestLoginFlow_NonceInfoIsCopied(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	userID := createTestUser(t, s)

	require.NoError(t, s.EnableTwoStep(userID, server.TwoStep{AuthenticatorCode: "123456"}))

	flow := m.NewLoginFlow()

	_, err := flow.SubmitCredentials(context.Background(), testUsername, testPassword, "").Get()
	require.NoError(t, err)

	nonces := flow.NonceInfo()
	nonces.SetNonce(wordpress.AuthTypeAuthenticator, "tampered")

	require.NotEqual(t, "tampered", flow.NonceInfo().NonceAuthenticator)
}

func TestLoginFlow_SMS(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	userID := createTestUser(t, s)

	require.NoError(t, s.EnableTwoStep(userID, server.TwoStep{AuthenticatorCode: "123456", PhoneNumber: "+15555550100"}))

	flow := m.NewLoginFlow()

	_, err := flow.SubmitCredentials(context.Background(), testUsername, testPassword, "").Get()
	require.NoError(t, err)

	initial := flow.NonceInfo().NonceSMS

	nonce, err := flow.RequestSMSCode(context.Background()).Get()
	require.NoError(t, err)
	require.NotEqual(t, initial, nonce)
	require.Equal(t, nonce, flow.NonceInfo().NonceSMS)

	code, ok := s.GetSentSMSCode(userID)
	require.True(t, ok)

	_, err = flow.SubmitCode(context.Background(), wordpress.AuthTypeSMS, code).Get()
	require.NoError(t, err)
	require.Equal(t, wordpress.AuthStateAuthenticated, flow.State())
}

func TestLoginFlow_Webauthn(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	userID := createTestUser(t, s)

	credentialID := []byte("key-1")

	require.NoError(t, s.EnableTwoStep(userID, server.TwoStep{AuthenticatorCode: "123456", WebauthnCredentials: [][]byte{credentialID}}))

	flow := m.NewLoginFlow()

	_, err := flow.SubmitCredentials(context.Background(), testUsername, testPassword, "").Get()
	require.NoError(t, err)

	challenge, err := flow.RequestWebauthnChallenge(context.Background()).Get()
	require.NoError(t, err)

	require.Equal(t, wordpress.AuthStateNeedsWebauthn, flow.State())
	require.Equal(t, challenge.TwoStepNonce, flow.NonceInfo().NonceWebauthn)

	_, err = flow.SubmitWebauthnAssertion(context.Background(), signChallenge(t, credentialID, challenge)).Get()
	require.NoError(t, err)

	require.Equal(t, wordpress.AuthStateAuthenticated, flow.State())
	require.NotEmpty(t, flow.Token())
}

func TestLoginFlow_WebauthnRetry(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	userID := createTestUser(t, s)

	credentialID := []byte("key-1")

	require.NoError(t, s.EnableTwoStep(userID, server.TwoStep{AuthenticatorCode: "123456", WebauthnCredentials: [][]byte{credentialID}}))

	flow := m.NewLoginFlow()

	_, err := flow.SubmitCredentials(context.Background(), testUsername, testPassword, "").Get()
	require.NoError(t, err)

	challenge, err := flow.RequestWebauthnChallenge(context.Background()).Get()
	require.NoError(t, err)

	// An assertion from an unknown key is rejected; the flow goes back to choosing a second factor.
	_, err = flow.SubmitWebauthnAssertion(context.Background(), signChallenge(t, []byte("other-key"), challenge)).Get()
	require.Error(t, err)
	require.Equal(t, wordpress.AuthStateNeedsMultiFactor, flow.State())

	// A new challenge can be requested with the refreshed nonce.
	challenge, err = flow.RequestWebauthnChallenge(context.Background()).Get()
	require.NoError(t, err)

	_, err = flow.SubmitWebauthnAssertion(context.Background(), signChallenge(t, credentialID, challenge)).Get()
	require.NoError(t, err)
	require.Equal(t, wordpress.AuthStateAuthenticated, flow.State())
}

func TestLoginFlow_Social(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	userID := createTestUser(t, s)

	require.NoError(t, s.ConnectSocial(userID, "google", "google-id-token"))

	flow := m.NewLoginFlow()

	_, err := flow.SubmitSocial(context.Background(), "google-id-token", "google").Get()
	require.NoError(t, err)

	require.Equal(t, wordpress.AuthStateAuthenticated, flow.State())
	require.Equal(t, userID, flow.UserID())
}

func TestLoginFlow_SocialNeedsConnection(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	createTestUser(t, s)

	s.AddSocialIdentity("google", "google-id-token", testEmail)

	flow := m.NewLoginFlow()

	_, err := flow.SubmitSocial(context.Background(), "google-id-token", "google").Get()
	require.NoError(t, err)

	require.Equal(t, wordpress.AuthStateNeedsSocialConnection, flow.State())
	require.Equal(t, testEmail, flow.Email())
	require.Empty(t, flow.Token())
}

func TestLoginFlow_InvalidNonceFails(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	createTestUser(t, s)

	flow := m.NewLoginFlow()

	_, err := flow.SubmitCredentials(context.Background(), testUsername, testPassword, "").Get()
	require.NoError(t, err)

	// No second factor was asked for, so there is no nonce to send and the server rejects the step.
	_, err = flow.SubmitCode(context.Background(), wordpress.AuthTypeAuthenticator, "123456").Get()
	require.Error(t, err)
	require.Equal(t, wordpress.AuthStateFailed, flow.State())
}

func TestAuthState_String(t *testing.T) {
	require.Equal(t, "needs webauthn", wordpress.AuthStateNeedsWebauthn.String())
	require.Equal(t, "invalid", wordpress.AuthState(100).String())
}
