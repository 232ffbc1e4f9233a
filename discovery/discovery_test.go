package discovery

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatRegisters(t *testing.T) {
	got := make(chan RegisterRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/register", r.URL.Path)
		var req RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		select {
		case got <- req:
		default:
		}
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: req.Id, Success: true})
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	RegServerCfg.SetAddress(host, port)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go Heartbeat("10.0.0.5", 8908, CudaInstance, ctx, &wg)

	select {
	case req := <-got:
		assert.Equal(t, "10.0.0.5", req.IP)
		assert.Equal(t, 8908, req.Port)
		assert.Equal(t, CudaInstance, req.InstanceClass)
		_, err := uuid.Parse(req.Id)
		assert.NoError(t, err, "heartbeat id should be a uuid")
		assert.InDelta(t, time.Now().Unix(), req.TimeStamp, 5)
	case <-time.After(3 * time.Second):
		t.Fatal("no heartbeat received")
	}

	cancel()
	wg.Wait()
}
