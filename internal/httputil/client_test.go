package httputil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestSessionClientSendsCredentialsOnlyToLoginHost(t *testing.T) {
	var loginAuth, cookieSeen bool

	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		loginAuth = ok && user == "alice" && pass == "secret"
		http.Redirect(w, r, r.URL.Query().Get("back")+"?code=1", http.StatusFound)
	}))
	defer login.Close()

	var data *httptest.Server
	data = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") != "" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			http.Redirect(w, r, "/file", http.StatusFound)
			return
		}
		if c, err := r.Cookie("session"); err == nil && c.Value == "abc" {
			cookieSeen = true
			w.Write([]byte("ok"))
			return
		}
		back := url.QueryEscape(data.URL + "/callback")
		http.Redirect(w, r, login.URL+"/oauth?back="+back, http.StatusFound)
	}))
	defer data.Close()

	loginURL, _ := url.Parse(login.URL)
	client, err := NewSessionClient(loginURL.Hostname(), "alice", "secret")
	if err != nil {
		t.Fatalf("NewSessionClient: %v", err)
	}

	resp, err := client.Get(data.URL + "/file")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !loginAuth {
		t.Error("login host did not receive credentials")
	}
	if !cookieSeen {
		t.Error("session cookie was not replayed")
	}
}
