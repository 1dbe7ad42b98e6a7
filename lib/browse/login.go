package browse

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

var ErrLoginFailed = fmt.Errorf("failed to login to your account")

// LoginUsernamePassword performs a form-based login: it fetches the login
// page, locates the first form carrying a password input, fills in the
// credentials alongside any hidden anti-forgery inputs and submits it.
// The session cookies afterwards hold the authenticated state.
func (s *Session) LoginUsernamePassword(ctx context.Context, loginUrl, username, password string) error {
	ctx, span := tracer.Start(ctx, "session:LoginUsernamePassword")
	defer span.End()

	page, err := s.Navigate(ctx, loginUrl)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}

	form := page.Doc.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
		return f.Find("input[type=password]").Length() > 0
	}).First()
	if form.Length() == 0 {
		span.SetStatus(codes.Error, "no login form found")
		return fmt.Errorf("no login form found at %s", page.Url)
	}

	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		typ := strings.ToLower(input.AttrOr("type", "text"))
		switch typ {
		case "password":
			values.Set(name, password)
		case "text", "email":
			values.Set(name, username)
		case "hidden":
			values.Set(name, input.AttrOr("value", ""))
		}
	})

	action := form.AttrOr("action", page.Url.String())
	method := strings.ToLower(form.AttrOr("method", "post"))
	after, err := s.SubmitForm(ctx, action, method, values)
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit login form")
		return err
	}

	// still on a page asking for a password means the credentials bounced
	if after.Doc.Find("input[type=password]").Length() > 0 {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return ErrLoginFailed
	}
	return nil
}
