package wordpress

import (
	"context"
)

// Me is the account of the authenticated user.
type Me struct {
	ID            int64  `json:"ID"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	PrimaryBlog   int64  `json:"primary_blog"`
	Language      string `json:"language"`
}

func (c *Client) GetMe(ctx context.Context) (Me, error) {
	return GetJSON[Me](ctx, c, c.Path("me", "1.1"), nil).Get()
}
