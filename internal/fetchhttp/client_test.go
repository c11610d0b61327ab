package fetchhttp

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(retries int) *Client {
	return New(&http.Client{Timeout: 5 * time.Second}, "test", Options{
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
	})
}

func TestGet_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	body, err := newTestClient(2).Get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 3, attempts)
}

func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(2).Get(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx answers are final")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestGet_ExhaustsRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(2).Get(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
}

func TestGet_SendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	_, err := newTestClient(0).Get(context.Background(), server.URL, map[string]string{
		"Authorization": "Bearer secret",
	})
	require.NoError(t, err)
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"isere"}`))
	}))
	defer server.Close()

	var out struct {
		Name string `json:"name"`
	}
	err := newTestClient(0).GetJSON(context.Background(), server.URL, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "isere", out.Name)
}

func TestGetJSON_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	var out map[string]any
	err := newTestClient(0).GetJSON(context.Background(), server.URL, nil, &out)
	assert.Error(t, err)
}

func TestGetWithHeaders_ExposesResponseHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "mfsession=abc; Path=/")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	_, header, err := newTestClient(0).GetWithHeaders(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Contains(t, header.Get("Set-Cookie"), "mfsession=abc")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(&StatusError{StatusCode: 429}))
	assert.True(t, Retryable(&StatusError{StatusCode: 503}))
	assert.False(t, Retryable(&StatusError{StatusCode: 404}))
	assert.False(t, Retryable(&StatusError{StatusCode: 418}))
	assert.False(t, Retryable(&net.DNSError{Err: "no such host", IsNotFound: true}))
	assert.True(t, Retryable(net.Error(timeoutErr{})))
	assert.True(t, Retryable(&net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}))
	assert.True(t, Retryable(io.ErrUnexpectedEOF))
}
