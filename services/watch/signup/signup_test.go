package signup

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"dropwatch/lib/browse"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, baseUrl string) *browse.Session {
	t.Helper()
	session, err := browse.NewSession(context.Background(), browse.Options{BaseUrl: baseUrl})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(session.Close)
	return session
}

func TestAttemptHappyPath(t *testing.T) {
	var confirmed atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/event/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h1>Volleyball Pickup</h1>
			<a href="/event/1/register">Register</a>
		</body></html>`)
	})
	mux.HandleFunc("/event/1/register", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<p>You're almost in.</p>
			<form method="post" action="/event/1/confirm">
				<input type="hidden" name="csrf" value="tok">
				<button type="submit">Confirm spot</button>
			</form>
		</body></html>`)
	})
	mux.HandleFunc("/event/1/confirm", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		r.ParseForm()
		require.Equal(t, "tok", r.FormValue("csrf"))
		confirmed.Add(1)
		fmt.Fprint(w, `<html><body>You are registered.</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := newSession(t, server.URL)
	result, ok := Attempt(context.Background(), session, Target{
		Summary: "Volleyball Pickup",
		Url:     server.URL + "/event/1",
	})
	require.True(t, ok)
	require.Equal(t, StateDone, result.State)
	require.Equal(t, "Register", result.Clicked)
	require.Equal(t, int32(1), confirmed.Load())
}

func TestAttemptRiskAbort(t *testing.T) {
	var confirmed atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/event/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/event/2/register">Join</a></body></html>`)
	})
	mux.HandleFunc("/event/2/register", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<p>Please solve this CAPTCHA to continue.</p>
			<form action="/event/2/confirm"><button>Submit</button></form>
		</body></html>`)
	})
	mux.HandleFunc("/event/2/confirm", func(w http.ResponseWriter, r *http.Request) {
		confirmed.Add(1)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := newSession(t, server.URL)
	result, ok := Attempt(context.Background(), session, Target{Url: server.URL + "/event/2"})
	require.False(t, ok)
	require.Equal(t, StateRiskDetected, result.State)
	require.Equal(t, int32(0), confirmed.Load(), "confirmation must never be clicked after a risk marker")
}

func TestAttemptConfirmClickFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/event/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/event/5/register">Register</a></body></html>`)
	})
	mux.HandleFunc("/event/5/register", func(w http.ResponseWriter, r *http.Request) {
		// confirm posts to a closed port, so the click itself errors
		fmt.Fprint(w, `<html><body>
			<form method="post" action="http://127.0.0.1:1/confirm">
				<button type="submit">Confirm spot</button>
			</form>
		</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := newSession(t, server.URL)
	result, ok := Attempt(context.Background(), session, Target{Url: server.URL + "/event/5"})
	require.False(t, ok, "a failed confirmation click must not count as success")
	require.Equal(t, StateButtonFound, result.State)
	require.Equal(t, "Register", result.Clicked)
}

func TestLooksLikeLoginBoundaries(t *testing.T) {
	loginish := []string{
		"https://example.com/login",
		"https://example.com/account/signin?next=/event/1",
		"https://example.com/sign-in",
		"https://auth.example.com/session/new",
	}
	for _, raw := range loginish {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		require.True(t, looksLikeLogin(u), raw)
	}

	regular := []string{
		"https://example.com/designing-your-league",
		"https://example.com/authors/jane",
		"https://example.com/event/1",
	}
	for _, raw := range regular {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		require.False(t, looksLikeLogin(u), raw)
	}
}

func TestAttemptLoginExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/event/3", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?next=/event/3", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><form><input type="password" name="p"></form></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := newSession(t, server.URL)
	result, ok := Attempt(context.Background(), session, Target{Url: server.URL + "/event/3"})
	require.False(t, ok)
	require.Equal(t, StateLoginExpired, result.State)
}

func TestAttemptNoButton(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>Session details.</p><a href="/about">About us</a></body></html>`)
	}))
	defer server.Close()

	session := newSession(t, server.URL)
	result, ok := Attempt(context.Background(), session, Target{Url: server.URL + "/event/4"})
	require.False(t, ok)
	require.Equal(t, StateNoButton, result.State)
}

func TestAttemptWithoutSession(t *testing.T) {
	result, ok := Attempt(context.Background(), nil, Target{Url: "https://example.com"})
	require.False(t, ok)
	require.Equal(t, StateNoButton, result.State)
}

func TestFindControlPrefersButtonsAndLabelOrder(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<a href="/join">Join now</a>
		<form><button>Register here</button></form>
	</body></html>`)

	// "register" is earlier in the label list and buttons are scanned
	// before links, so the button wins even though the link also matches
	ctl, found := findControl(doc, registerLabels)
	require.True(t, found)
	require.Equal(t, "Register here", ctl.label)
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}
