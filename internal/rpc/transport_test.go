package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransportCallDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rpc/Ping", r.URL.Path)
		env, err := OK(PingResponse{ServerID: 4})
		require.NoError(t, err)
		json.NewEncoder(w).Encode(env)
	}))
	defer srv.Close()

	m := NewMembership([]string{srv.Listener.Addr().String()})
	tr := NewTransport(0, m, 3)

	env, err := tr.Call(context.Background(), "Ping", PingRequest{})
	require.NoError(t, err)
	require.Nil(t, env.Error)

	var resp PingResponse
	require.NoError(t, env.Decode(&resp))
	require.Equal(t, int16(4), resp.ServerID)
}

func TestTransportCallSurfacesRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Redirected([]byte("encoded-index")))
	}))
	defer srv.Close()

	m := NewMembership([]string{srv.Listener.Addr().String()})
	tr := NewTransport(0, m, 1)

	env, err := tr.Call(context.Background(), "Mknod", MknodRequest{})
	require.NoError(t, err)
	require.Equal(t, []byte("encoded-index"), env.Redirect)
}

func TestTransportCallFailsAfterUnreachable(t *testing.T) {
	m := NewMembership([]string{"127.0.0.1:1"})
	tr := NewTransport(0, m, 2)

	_, err := tr.Call(context.Background(), "Ping", PingRequest{})
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, KindIOError, rpcErr.Kind)
}

func TestPoolReusesTransportPerServer(t *testing.T) {
	m := NewMembership([]string{"a:1", "b:2"})
	p := NewPool(m, 1)
	t1 := p.Get(0)
	t2 := p.Get(0)
	require.Same(t, t1, t2)
	t3 := p.Get(1)
	require.NotSame(t, t1, t3)
}
