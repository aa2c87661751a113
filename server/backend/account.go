package backend

import (
	"crypto/subtle"
	"encoding/base64"

	"github.com/bradenaw/juniper/xslices"
)

type account struct {
	userID   int64
	username string
	email    string
	password string

	displayName string
	primaryBlog int64

	twoStep *TwoStep

	// smsCode is the last code sent by SMS.
	smsCode string
}

func newAccount(userID int64, username, email, password string, primaryBlog int64) *account {
	return &account{
		userID:      userID,
		username:    username,
		email:       email,
		password:    password,
		displayName: username,
		primaryBlog: primaryBlog,
	}
}

func (acc *account) checkPassword(password string) bool {
	return subtle.ConstantTimeCompare([]byte(acc.password), []byte(password)) == 1
}

func (acc *account) supportedAuthTypes() []string {
	if acc.twoStep == nil {
		return nil
	}

	types := []string{AuthTypeAuthenticator}

	if acc.twoStep.PhoneNumber != "" {
		types = append(types, AuthTypeSMS)
	}

	if acc.twoStep.BackupCode != "" {
		types = append(types, AuthTypeBackup)
	}

	if len(acc.twoStep.WebauthnCredentials) > 0 {
		types = append(types, AuthTypeWebauthn)
	}

	return types
}

// checkCode verifies a second factor code of the given type.
func (acc *account) checkCode(authType, code string) bool {
	if acc.twoStep == nil || code == "" {
		return false
	}

	var want string

	switch authType {
	case AuthTypeAuthenticator:
		want = acc.twoStep.AuthenticatorCode

	case AuthTypeSMS:
		want = acc.smsCode

	case AuthTypeBackup:
		want = acc.twoStep.BackupCode
	}

	return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1
}

func (acc *account) credentialIDs() []string {
	if acc.twoStep == nil {
		return nil
	}

	return xslices.Map(acc.twoStep.WebauthnCredentials, func(id []byte) string {
		return base64.RawURLEncoding.EncodeToString(id)
	})
}

func (acc *account) toUser() User {
	return User{
		ID:          acc.userID,
		Username:    acc.username,
		Email:       acc.email,
		DisplayName: acc.displayName,
		PrimaryBlog: acc.primaryBlog,
	}
}
