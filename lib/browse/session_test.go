package browse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNavigateCapturesResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Discover</h1></body></html>`)
	}))
	defer server.Close()

	ctx := context.Background()
	session, err := NewSession(ctx, Options{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	page, err := session.Navigate(ctx, server.URL)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "Discover", page.Doc.Find("h1").Text())

	captured := session.DrainResponses()
	require.Len(t, captured, 1)
	require.Equal(t, 200, captured[0].Status)
	require.Contains(t, string(captured[0].Body), "Discover")

	// drained means drained
	require.Len(t, session.DrainResponses(), 0)
}

func TestStorageStateRoundTrip(t *testing.T) {
	state := &StorageState{
		Cookies: []Cookie{
			{Name: "session", Value: "abc123", Domain: "example.com", Path: "/"},
		},
		Origins: []Origin{
			{Origin: "https://example.com", LocalStorage: []LocalStorageItem{{Name: "k", Value: "v"}}},
		},
	}

	b64, err := state.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeStorageState(b64)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, state.Cookies, decoded.Cookies)
	require.Equal(t, state.Origins, decoded.Origins)
}

func TestDecodeStorageStateRejectsGarbage(t *testing.T) {
	_, err := DecodeStorageState("%%%not-base64%%%")
	require.Error(t, err)

	_, err = DecodeStorageState("bm90IGpzb24=")
	require.Error(t, err)
}

func TestSessionSendsSnapshotCookies(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err == nil {
			gotCookie = c.Value
		}
		fmt.Fprint(w, "<html></html>")
	}))
	defer server.Close()

	ctx := context.Background()
	session, err := NewSession(ctx, Options{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	session.SetStorageState(&StorageState{
		Cookies: []Cookie{{Name: "session", Value: "tok-1", Domain: session.BaseUrl.Hostname(), Path: "/"}},
	})

	_, err = session.Navigate(ctx, server.URL)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "tok-1", gotCookie)
}

func TestLoginUsernamePassword(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			r.ParseForm()
			if r.FormValue("username") == "user" && r.FormValue("password") == "hunter2" &&
				r.FormValue("logintoken") == "tok" {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok"})
				fmt.Fprint(w, `<html><body>Welcome back</body></html>`)
				return
			}
			fmt.Fprint(w, `<html><form method="post" action="/login">
				<input type="hidden" name="logintoken" value="tok">
				<input type="text" name="username">
				<input type="password" name="password">
			</form></html>`)
			return
		}
		fmt.Fprint(w, `<html><form method="post" action="/login">
			<input type="hidden" name="logintoken" value="tok">
			<input type="text" name="username">
			<input type="password" name="password">
		</form></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	session, err := NewSession(ctx, Options{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	err = session.LoginUsernamePassword(ctx, server.URL+"/login", "user", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	state := session.ExportStorageState()
	require.Len(t, state.Cookies, 1)
	require.Equal(t, "session", state.Cookies[0].Name)

	err = session.LoginUsernamePassword(ctx, server.URL+"/login", "user", "wrong")
	require.ErrorIs(t, err, ErrLoginFailed)
}
