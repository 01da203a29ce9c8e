package vmpool

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/felixge/fgprof"
)

// ServeDebug starts an HTTP listener on addr serving fgprof's sampling
// profile at /debug/fgprof/profile, for visibility into workers blocked
// in the queue-pop sleep/mutex wait rather than on-CPU (§ "Profiling":
// fgprof's value over pprof is specifically goroutines blocked in
// channel/mutex waits, exactly this pool's worker loop). It runs until
// ctx is cancelled and always returns a non-nil error from
// http.Server.ListenAndServe, except http.ErrServerClosed.
func (p *VmPool) ServeDebug(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/debug/fgprof/profile", fgprof.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("vmpool: debug listener: %w", err)
	}

	return nil
}
