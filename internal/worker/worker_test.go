package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegraph/stagegraph/internal/client"
)

func TestUnpackArgumentsRoundTripsTypedShape(t *testing.T) {
	raw := client.CallArguments{Args: []any{1, "two"}, Kwargs: map[string]any{"k": "v"}}
	args, kwargs := unpackArguments(raw)
	assert.Equal(t, []any{float64(1), "two"}, args)
	assert.Equal(t, map[string]any{"k": "v"}, kwargs)
}

func TestUnpackArgumentsNilIsEmpty(t *testing.T) {
	args, kwargs := unpackArguments(nil)
	assert.Nil(t, args)
	assert.Nil(t, kwargs)
}

func newWorkerAgainstFakeControlPlane(t *testing.T) (*Worker, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	w := New(Config{ServerURL: srv.URL, WorkerID: "test-worker"}, NewRegistry())
	return w, srv
}

func TestExecuteReturnsErrNotRegisteredForUnboundStage(t *testing.T) {
	w, _ := newWorkerAgainstFakeControlPlane(t)
	ctx := context.Background()

	_, err := w.execute(ctx, client.CallState{
		InvocationID: "run-1", WorkflowFile: "w.py", FunctionName: "missing",
	})
	require.Error(t, err)
	var notRegistered *ErrNotRegistered
	require.ErrorAs(t, err, &notRegistered)
}

func TestExecuteRunsRegisteredStageFunction(t *testing.T) {
	w, _ := newWorkerAgainstFakeControlPlane(t)
	w.registry.Register("w.py", "build", func(ctx context.Context, sc *StageContext, args []any, kwargs map[string]any) (any, error) {
		return "done", nil
	})

	result, err := w.execute(context.Background(), client.CallState{
		InvocationID: "run-1", WorkflowFile: "w.py", FunctionName: "build",
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestExecuteRecoversStageFunctionPanic(t *testing.T) {
	w, _ := newWorkerAgainstFakeControlPlane(t)
	w.registry.Register("w.py", "build", func(ctx context.Context, sc *StageContext, args []any, kwargs map[string]any) (any, error) {
		panic("boom")
	})

	_, err := w.execute(context.Background(), client.CallState{
		InvocationID: "run-1", WorkflowFile: "w.py", FunctionName: "build",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestConfigWithDefaultsFillsUnsetFields(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.NotEmpty(t, cfg.WorkerID)
	assert.Greater(t, cfg.PollInterval.Seconds(), 0.0)
	assert.Greater(t, cfg.Concurrency, int64(0))
}
