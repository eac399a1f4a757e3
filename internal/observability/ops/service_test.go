package ops

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/require"

	logx "newsbot/pkg/logx"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestServesMetricsWithToken(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "newsbot_test_total", Help: "test"}).Inc()

	s := New(reg, logx.Nop())
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "secret"}))
	defer s.Stop(ctx)
	base := "http://" + s.Addr()

	code, _ := get(t, base+"/metrics", "")
	require.Equal(t, http.StatusUnauthorized, code)

	code, body := get(t, base+"/metrics", "secret")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "newsbot_test_total 1")

	code, _ = get(t, base+"/debug/pprof/?token=secret", "")
	require.Equal(t, http.StatusOK, code)

	code, body = get(t, base+"/healthz", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(nil, logx.Nop())
	err := s.Start(context.Background(), Config{Enabled: true, Addr: "0.0.0.0:0"})
	require.ErrorIs(t, err, ErrInsecureBind)
	require.Empty(t, s.Addr())
}

func TestReconfigure(t *testing.T) {
	s := New(prometheus.NewRegistry(), logx.Nop())
	ctx := context.Background()

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	first := s.Addr()
	require.NotEmpty(t, first)

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	require.Equal(t, first, s.Addr(), "unchanged config keeps the server")

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t"}))
	code, _ := get(t, "http://"+s.Addr()+"/metrics", "")
	require.Equal(t, http.StatusUnauthorized, code)

	require.NoError(t, s.Reconfigure(ctx, Config{}))
	require.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	require.True(t, isLoopbackAddr("127.0.0.1:9090"))
	require.True(t, isLoopbackAddr("localhost:1"))
	require.True(t, isLoopbackAddr("[::1]:1"))
	require.False(t, isLoopbackAddr(":9090"))
	require.False(t, isLoopbackAddr("10.0.0.1:1"))
}
