package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestServerShutdownStopsStart(t *testing.T) {
	srv := New(0, http.NotFoundHandler(), time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewDefaultsWriteTimeout(t *testing.T) {
	srv := New(8080, http.NotFoundHandler(), 0)
	if srv.inner.WriteTimeout != 30*time.Second {
		t.Fatalf("expected default write timeout, got %v", srv.inner.WriteTimeout)
	}
	if srv.inner.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", srv.inner.Addr)
	}
}
