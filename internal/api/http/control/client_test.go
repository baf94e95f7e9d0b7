package control

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/service/common"
)

// TestNewClient_Address validates the address.
func TestNewClient_Address(t *testing.T) {
	t.Parallel()

	_, err := NewClient("  ")
	require.ErrorIs(t, err, errAddressRequired)

	_, err = NewClient("localhost")
	require.Error(t, err)

	client, err := NewClient("127.0.0.1:7420", WithCallTimeout(time.Second))
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:7420", client.baseURL)
	require.Equal(t, time.Second, client.callTimeout)

	client, err = NewClient("http://localhost:9000/")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9000", client.baseURL)
}

// TestClient_Roundtrip drives a build through the HTTP API.
func TestClient_Roundtrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, client.Health(ctx))

	command, err := client.Command(ctx, CommandFlash)
	require.NoError(t, err)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "nrf52840dk_nrf52840", status.Workspace.Board)

	close(f.runner.release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := client.WaitBatch(waitCtx, command.BatchID, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSucceeded, result.Status)
	require.Equal(t, command.BatchID, result.BatchID)

	queueStatus, err := client.Cancel(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, queueStatus.Pending)
}

// TestClient_APIError decodes error bodies.
func TestClient_APIError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.service.err = common.ErrNotSetup

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Command(context.Background(), CommandBuild)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, CodePreconditionFailed, apiErr.Code)

	_, err = client.Command(context.Background(), "erase")
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, CodeUnknownCommand, apiErr.Code)
}

// TestServe_StopsOnCancel shuts the listener down with the context.
func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	lis, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- serveListener(ctx, lis, f.server.Handler())
	}()

	client, err := NewClient(lis.Addr().String())
	require.NoError(t, err)
	require.NoError(t, client.Health(context.Background()))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
