package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/identity"
)

func TestFromIdentity(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		notFoundStatus int
		expectedStatus int
	}{
		{"invalid request", identity.ErrInvalidRequest, http.StatusInternalServerError, http.StatusBadRequest},
		{"not found while identifying", identity.NotFound(4), http.StatusInternalServerError, http.StatusInternalServerError},
		{"not found on lookup", identity.NotFound(4), http.StatusNotFound, http.StatusNotFound},
		{"corrupt chain on lookup", fmt.Errorf("%w: cycle", identity.ErrCorruptChain), http.StatusNotFound, http.StatusInternalServerError},
		{"conflict", fmt.Errorf("%w: retries exhausted", identity.ErrConflict), http.StatusInternalServerError, http.StatusConflict},
		{"transient", errors.Join(identity.ErrTransient, errors.New("dial tcp")), http.StatusInternalServerError, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromIdentity(tt.err, tt.notFoundStatus)
			assert.True(t, httperror.IsHTTPError(err))
			assert.Equal(t, tt.expectedStatus, httperror.GetStatusCode(err))
		})
	}

	assert.NoError(t, FromIdentity(nil, http.StatusNotFound))
}
