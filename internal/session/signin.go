package session

import (
	"context"
	"net/url"

	"github.com/cenkalti/backoff/v4"

	"tunet/internal/transport"
)

// Literal replies of the portal sign-in endpoint
const (
	signInOK            = "ok"
	signInNoSuchUser    = "用户不存在"
	signInWrongPassword = "密码错误"
)

func classifySignIn(body string) error {
	switch body {
	case signInOK:
		return nil
	case signInNoSuchUser:
		return &Error{Kind: KindUserName}
	case signInWrongPassword:
		return &Error{Kind: KindPassword}
	default:
		return &Error{Kind: KindUnknown, Body: body}
	}
}

// signInSecondary establishes the portal session on h. An unrecognized reply
// is retried once after retryDelay; the second failure is returned as is.
func (s *Session) signInSecondary(ctx context.Context, h *transport.Handle) error {
	form := url.Values{
		"action":          {"login"},
		"user_login_name": {s.username},
		"user_password":   {s.passwordMD5},
	}

	attempt := func() error {
		body, err := h.PostForm(ctx, s.endpoints.SignIn, form)
		if err != nil {
			return backoff.Permanent(failure(ctx, err))
		}
		err = classifySignIn(body)
		if err != nil && KindOf(err) != KindUnknown {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), 1),
		ctx,
	)
	err := backoff.Retry(attempt, policy)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
