package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scrapeflow/internal/pkg/config"
	"scrapeflow/internal/pkg/errorsx"
	"scrapeflow/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		UserAgent:      "scrapeflow-test",
		RequestTimeout: 5 * time.Second,
		RateLimit:      100,
		RateBurst:      100,
	}
}

func TestHTTPSessionNavigateAndExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "scrapeflow-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `<html><body>
			<div class="item" data-id="1">First</div>
			<div class="item" data-id="2">Second</div>
			<a class="next" href="/page2">Next</a>
		</body></html>`)
	}))
	defer srv.Close()

	s := NewHTTPSession(testBrowserConfig(), logger.NewNop())
	defer s.Close()

	require.NoError(t, s.Navigate(context.Background(), srv.URL))

	current, err := s.CurrentURL()
	require.NoError(t, err)
	assert.Equal(t, srv.URL, current)

	items, err := s.FindElements(".item")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "First", items[0].Text())
	id, ok := items[0].Attr("data-id")
	require.True(t, ok)
	assert.Equal(t, "1", id)

	_, err = s.FindElement(".missing")
	require.Error(t, err)
	assert.Equal(t, errorsx.KindStaleElement, errorsx.KindOf(err))
	assert.True(t, errorsx.IsRecoverable(err))
}

func TestHTTPSessionClickFollowsLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a class="next" href="/page2">Next</a></body></html>`)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Page 2</h1></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewHTTPSession(testBrowserConfig(), logger.NewNop())
	defer s.Close()

	require.NoError(t, s.Navigate(context.Background(), srv.URL))
	require.NoError(t, s.Click(context.Background(), "a.next"))

	current, err := s.CurrentURL()
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/page2", current)
}

func TestHTTPSessionErrorClassification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewHTTPSession(testBrowserConfig(), logger.NewNop())
	defer s.Close()

	err := s.Navigate(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.True(t, errorsx.IsPermanent(err), "4xx must not be retried")

	err = s.Navigate(context.Background(), srv.URL+"/broken")
	require.Error(t, err)
	assert.True(t, errorsx.IsRecoverable(err), "5xx may heal on retry")
}

func TestHTTPSessionSubmitForm(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><form id="login" action="/session" method="post">
			<input type="hidden" name="csrf" value="tok123">
			<input name="username">
			<input name="password" type="password">
		</form></body></html>`)
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok123", r.PostFormValue("csrf"))
		assert.Equal(t, "alice", r.PostFormValue("username"))
		assert.Equal(t, "secret", r.PostFormValue("password"))
		fmt.Fprint(w, `<html><body><h1>Welcome</h1></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewHTTPSession(testBrowserConfig(), logger.NewNop())
	defer s.Close()

	require.NoError(t, s.Navigate(context.Background(), srv.URL))
	require.NoError(t, s.FillInput("input[name=username]", "alice"))
	require.NoError(t, s.FillInput("input[name=password]", "secret"))
	require.NoError(t, s.SubmitForm(context.Background(), "form#login"))

	el, err := s.FindElement("h1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", el.Text())
}

func TestHTTPSessionSubmitFormAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><form id="login" action="/session"></form></body></html>`)
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewHTTPSession(testBrowserConfig(), logger.NewNop())
	defer s.Close()

	require.NoError(t, s.Navigate(context.Background(), srv.URL))
	err := s.SubmitForm(context.Background(), "form#login")
	require.Error(t, err)
	assert.Equal(t, errorsx.KindAuth, errorsx.KindOf(err))
	assert.True(t, errorsx.IsPermanent(err))
}

func TestHTTPSessionDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "file-contents")
	}))
	defer srv.Close()

	s := NewHTTPSession(testBrowserConfig(), logger.NewNop())
	defer s.Close()

	dest := filepath.Join(t.TempDir(), "sub", "report.txt")
	result, err := s.DownloadFile(context.Background(), srv.URL+"/report.txt", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("file-contents")), result.Bytes)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "file-contents", string(data))
}

func TestHTTPSessionClosed(t *testing.T) {
	s := NewHTTPSession(testBrowserConfig(), logger.NewNop())
	require.NoError(t, s.Close())

	err := s.Navigate(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Equal(t, errorsx.KindSession, errorsx.KindOf(err))
}
