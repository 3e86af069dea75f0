package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-vast/pkg/domain"
)

const vastDoc = `<VAST version="4.0"><Ad id="1"/></VAST>`

func defaultOpts() domain.FetchOptions {
	return domain.FetchOptions{Timeout: 2 * time.Second}
}

func TestHTTPGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "polis-vast-test", r.UserAgent())
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(vastDoc))
	}))
	defer server.Close()

	tr := NewHTTP(WithUserAgent("polis-vast-test"))
	result := tr.Get(context.Background(), server.URL+"/tag.xml", defaultOpts())

	require.NoError(t, result.Err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, vastDoc, result.Document)
	require.NotNil(t, result.Details)
	assert.Equal(t, int64(len(vastDoc)), result.Details.ByteLength)
	assert.GreaterOrEqual(t, result.Details.RequestDuration, time.Duration(0))
	assert.Equal(t, "application/xml", result.Details.Extra["contentType"])
}

func TestHTTPGetNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	result := NewHTTP().Get(context.Background(), server.URL, defaultOpts())

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, ErrHTTPStatus)
	var statusErr *StatusError
	require.ErrorAs(t, result.Err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
	assert.Empty(t, result.Document)
	require.NotNil(t, result.Details)
	assert.Positive(t, result.Details.ByteLength)
}

func TestHTTPGetTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	result := NewHTTP().Get(context.Background(), server.URL, domain.FetchOptions{Timeout: 50 * time.Millisecond})

	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, domain.ErrTimeout)
	assert.Zero(t, result.StatusCode)
	assert.Nil(t, result.Details)
}

func TestHTTPGetBodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	result := NewHTTP(WithMaxBodyBytes(16)).Get(context.Background(), server.URL, defaultOpts())

	assert.ErrorIs(t, result.Err, ErrBodyTooLarge)
	assert.Empty(t, result.Document)
	assert.Equal(t, int64(16), result.Details.ByteLength)
}

func TestHTTPGetInvalidURL(t *testing.T) {
	result := NewHTTP().Get(context.Background(), "://bad", defaultOpts())
	require.Error(t, result.Err)
	assert.Zero(t, result.StatusCode)
}

func TestHTTPGetSendCredentials(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("uid"); err == nil {
			seen = append(seen, c.Value)
		} else {
			seen = append(seen, "")
		}
		http.SetCookie(w, &http.Cookie{Name: "uid", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(vastDoc))
	}))
	defer server.Close()

	tr := NewHTTP()
	withCreds := domain.FetchOptions{Timeout: time.Second, SendCredentials: true}
	withoutCreds := domain.FetchOptions{Timeout: time.Second}

	require.NoError(t, tr.Get(context.Background(), server.URL, withCreds).Err)
	require.NoError(t, tr.Get(context.Background(), server.URL, withCreds).Err)
	require.NoError(t, tr.Get(context.Background(), server.URL, withoutCreds).Err)

	assert.Equal(t, []string{"", "abc", ""}, seen)
}
