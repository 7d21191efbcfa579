package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnd-apparel/storefront-backend/pkg/logger"
)

func TestCloseRunsInReverseAndCollectsErrors(t *testing.T) {
	var buf bytes.Buffer
	rt := &Runtime{Logger: logger.New(logger.Options{ServiceName: "test", Output: &buf})}

	var order []string
	rt.OnClose("database", func() error { order = append(order, "database"); return nil })
	rt.OnClose("redis", func() error { order = append(order, "redis"); return errors.New("conn reset") })
	rt.OnClose("pubsub", func() error { order = append(order, "pubsub"); return nil })

	err := rt.Close(context.Background())
	assert.Equal(t, []string{"pubsub", "redis", "database"}, order)
	assert.EqualError(t, err, "close redis: conn reset")
	assert.Contains(t, buf.String(), `"resource":"redis"`)

	require.NoError(t, rt.Close(context.Background()))
	assert.Len(t, order, 3)
}

func TestServeShutsDownWhenContextEnds(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, time.Second) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &http.Server{Addr: ln.Addr().String()}
	err = Serve(context.Background(), srv, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serve "+ln.Addr().String())
}
