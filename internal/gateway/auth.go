package gateway

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
)

const pathLogin = "/api/auth/login"

// User is the account returned at sign-in.
type User struct {
	ID       string
	Email    string
	FullName string
	Role     string
}

// Session is a successful sign-in.
type Session struct {
	Token string
	User  User
}

// Login exchanges email and password for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, apperr.New(apperr.CodeInvalidInput, "email and password are required")
	}
	var res gjson.Result
	err := c.Post(ctx, pathLogin, map[string]string{"email": email, "password": password}, &res)
	if err != nil {
		if st := apperr.StatusOf(err); st == http.StatusUnauthorized || st == http.StatusBadRequest {
			return Session{}, apperr.Wrap(err, apperr.CodeAuthMissing, "login").
				WithStatus(st).
				WithUserMessage(apperr.UserMessage(err))
		}
		return Session{}, err
	}

	token := res.Get("token").String()
	if token == "" {
		return Session{}, apperr.New(apperr.CodeAuthMissing, "login response carried no token")
	}
	u := res.Get("user")
	return Session{
		Token: token,
		User: User{
			ID:       u.Get("id").String(),
			Email:    u.Get("email").String(),
			FullName: first(u, "fullName", "full_name"),
			Role:     u.Get("role").String(),
		},
	}, nil
}

func first(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k).String(); s != "" {
			return s
		}
	}
	return ""
}
