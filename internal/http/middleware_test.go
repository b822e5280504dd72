package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWaitForInFlightDrains(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	})))
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Errorf("GET: %v", err)
			return
		}
		resp.Body.Close()
	}()
	<-started

	if got := InFlightCount(); got != 1 {
		t.Fatalf("InFlightCount = %d, want 1 while the handler is blocked", got)
	}

	// With a request still being served, the drain must time out.
	busyCtx, busyCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer busyCancel()
	if err := WaitForInFlight(busyCtx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForInFlight while busy = %v, want deadline exceeded", err)
	}

	close(release)
	<-done

	idleCtx, idleCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer idleCancel()
	if err := WaitForInFlight(idleCtx, 5*time.Millisecond); err != nil {
		t.Errorf("WaitForInFlight after drain = %v, want nil", err)
	}
}
