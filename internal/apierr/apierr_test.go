package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapsEachKind(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:                http.StatusNotFound,
		KindPathNotFound:            http.StatusNotFound,
		KindAlreadyExists:           http.StatusConflict,
		KindInvalidTransition:       http.StatusConflict,
		KindPullRequestNotMergeable: http.StatusConflict,
		KindInvalidInput:            http.StatusBadRequest,
		KindStorageError:            http.StatusInternalServerError,
		KindWorkflowExecutionError:  http.StatusInternalServerError,
		KindDependencyUnavailable:   http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), "kind %s", kind)
	}
}

func TestWrapPreservesUnderlyingErrorInChain(t *testing.T) {
	root := errors.New("disk full")
	err := Wrap(KindStorageError, root, "writing blob %s", "abc123")

	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "writing blob abc123")
	assert.Contains(t, err.Error(), "disk full")
}

func TestAsExtractsErrorFromWrappedChain(t *testing.T) {
	inner := New(KindNotFound, "no such commit")
	wrapped := fmt.Errorf("resolving ref: %w", inner)

	got, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindNotFound, got.Kind)
}

func TestAsReturnsFalseForUnrelatedError(t *testing.T) {
	_, ok := As(errors.New("plain error"))
	assert.False(t, ok)
}
