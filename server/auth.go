package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wordpress-mobile/go-wordpress-api/server/backend"
)

func (s *Server) handlePostOAuth2Token() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.checkClient(c); err != nil {
			writeOAuthError(c, asBackendError(err))
			return
		}

		if grantType := c.PostForm("grant_type"); grantType != "password" {
			writeOAuthError(c, &backend.Error{
				Status:  http.StatusBadRequest,
				Code:    "unsupported_grant_type",
				Message: "Unsupported grant_type: " + grantType,
			})

			return
		}

		username, password := c.PostForm("username"), c.PostForm("password")

		if username == "" || password == "" {
			writeOAuthError(c, &backend.Error{
				Status:  http.StatusBadRequest,
				Code:    "invalid_request",
				Message: "The username and password are required.",
			})

			return
		}

		login, err := s.b.PasswordLogin(username, password, c.PostForm("wpcom_otp"), c.PostForm("wpcom_resend_otp") == "true")
		if err != nil {
			writeOAuthError(c, asBackendError(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token": login.Token,
			"token_type":   "bearer",
			"blog_id":      "0",
			"blog_url":     nil,
			"scope":        "global",
		})
	}
}

// handlePostWPLogin dispatches the wp-login.php endpoints on their action query parameter.
func (s *Server) handlePostWPLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.checkClient(c); err != nil {
			writeLoginError(c, asBackendError(err))
			return
		}

		switch c.Query("action") {
		case "social-login-endpoint":
			s.handleSocialLogin(c)

		case "send-sms-code-endpoint":
			s.handleSendSMSCode(c)

		case "two-step-authentication-endpoint":
			s.handleTwoStep(c)

		case "webauthn-challenge-endpoint":
			s.handleWebauthnChallenge(c)

		case "webauthn-authentication-endpoint":
			s.handleWebauthnAuthentication(c)

		default:
			s.handleNotFound()(c)
		}
	}
}

func (s *Server) handleSocialLogin(c *gin.Context) {
	login, err := s.b.SocialLogin(c.PostForm("service"), c.PostForm("token"))
	if err != nil {
		writeLoginError(c, asBackendError(err))
		return
	}

	if login.Challenge != nil {
		writeLoginSuccess(c, challengeData(login.Challenge))
		return
	}

	writeLoginSuccess(c, gin.H{
		"bearer_token": login.Token,
		"user_id":      login.UserID,
	})
}

func (s *Server) handleSendSMSCode(c *gin.Context) {
	userID, ok := formUserID(c)
	if !ok {
		return
	}

	nonce, err := s.b.SendSMSCode(userID, c.PostForm("two_step_nonce"))
	if err != nil {
		writeLoginError(c, asBackendError(err))
		return
	}

	writeLoginSuccess(c, gin.H{
		"two_step_nonce": nonce,
	})
}

func (s *Server) handleTwoStep(c *gin.Context) {
	userID, ok := formUserID(c)
	if !ok {
		return
	}

	login, err := s.b.TwoStep(userID, c.PostForm("auth_type"), c.PostForm("two_step_code"), c.PostForm("two_step_nonce"))
	if err != nil {
		writeLoginError(c, asBackendError(err))
		return
	}

	writeLoginSuccess(c, gin.H{
		"bearer_token": login.Token,
		"user_id":      login.UserID,
	})
}

func (s *Server) handleWebauthnChallenge(c *gin.Context) {
	userID, ok := formUserID(c)
	if !ok {
		return
	}

	challenge, err := s.b.WebauthnChallenge(userID, c.PostForm("two_step_nonce"), s.relyingPartyID)
	if err != nil {
		writeLoginError(c, asBackendError(err))
		return
	}

	allowed := make([]gin.H, 0, len(challenge.CredentialIDs))

	for _, id := range challenge.CredentialIDs {
		allowed = append(allowed, gin.H{"type": "public-key", "id": id, "transports": []string{"usb", "nfc", "ble", "internal"}})
	}

	writeLoginSuccess(c, gin.H{
		"challenge":        challenge.Challenge,
		"rpId":             challenge.RelyingPartyID,
		"two_step_nonce":   challenge.Nonce,
		"allowCredentials": allowed,
		"timeout":          60000,
		"userVerification": "discouraged",
	})
}

func (s *Server) handleWebauthnAuthentication(c *gin.Context) {
	userID, ok := formUserID(c)
	if !ok {
		return
	}

	login, err := s.b.WebauthnVerify(userID, c.PostForm("two_step_nonce"), []byte(c.PostForm("client_data")))
	if err != nil {
		writeLoginError(c, asBackendError(err))
		return
	}

	writeLoginSuccess(c, gin.H{
		"bearer_token": login.Token,
		"user_id":      login.UserID,
	})
}

func formUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil {
		writeLoginError(c, &backend.Error{Status: http.StatusBadRequest, Code: "invalid_user_id", Message: "A valid user_id is required."})
		return 0, false
	}

	return userID, true
}

func challengeData(challenge *backend.Challenge) gin.H {
	return gin.H{
		"user_id":                       challenge.UserID,
		"two_step_nonce_authenticator":  challenge.Authenticator,
		"two_step_nonce_sms":            challenge.SMS,
		"two_step_nonce_backup":         challenge.Backup,
		"two_step_nonce_webauthn":       challenge.Webauthn,
		"two_step_supported_auth_types": challenge.SupportedAuthTypes,
		"phone_number":                  challenge.PhoneNumber,
	}
}

// writeOAuthError writes an error in the shape of the /oauth2/token endpoint.
func writeOAuthError(c *gin.Context, err *backend.Error) {
	body := gin.H{
		"error":             err.Code,
		"error_description": err.Message,
	}

	if err.Challenge != nil {
		body["data"] = challengeData(err.Challenge)
	}

	c.AbortWithStatusJSON(err.Status, body)
}

// writeLoginError writes an error in the shape of the wp-login.php endpoints.
func writeLoginError(c *gin.Context, err *backend.Error) {
	data := gin.H{
		"errors": []gin.H{{"code": err.Code, "message": err.Message}},
	}

	if err.NewNonce != "" {
		data["two_step_nonce"] = err.NewNonce
	}

	if err.Email != "" {
		data["email"] = err.Email
	}

	c.AbortWithStatusJSON(err.Status, gin.H{
		"success": false,
		"data":    data,
	})
}

func writeLoginSuccess(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
