package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_SetsUserAgent(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	client := NewClient(time.Second, "GenieOps-Test/1.0")
	assert.Equal(t, time.Second, client.Timeout)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"GenieOps-Test/1.0", "custom"}, seen)
	assert.Equal(t, "custom", req.Header.Get("User-Agent"))
}

func TestNewClient_NoUserAgentKeepsDefaultTransport(t *testing.T) {
	client := NewClient(0, "")
	assert.Nil(t, client.Transport)
	assert.Zero(t, client.Timeout)
}
