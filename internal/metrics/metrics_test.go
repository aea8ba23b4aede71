package metrics

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlaylake_Metrics_Serve(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	t.Run("stops_when_context_done", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- Serve(ctx, log, "127.0.0.1:0") }()
		cancel()

		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("metrics server did not stop")
		}
	})

	t.Run("invalid_address", func(t *testing.T) {
		t.Parallel()
		require.Error(t, Serve(context.Background(), log, "127.0.0.1:not-a-port"))
	})
}
