// Package apierror maps identity error kinds onto HTTP errors.
package apierror

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/identity"
)

// FromIdentity converts err into an httperror. notFoundStatus is the status for
// a plain ErrNotFound: a missing row is a client error on lookups but an
// internal consistency fault while identifying.
func FromIdentity(err error, notFoundStatus int) error {
	if err == nil {
		return nil
	}
	if httperror.IsHTTPError(err) {
		return err
	}

	switch {
	case errors.Is(err, identity.ErrInvalidRequest):
		return httperror.NewHTTPError(http.StatusBadRequest, identity.ErrInvalidRequest.Error())
	case errors.Is(err, identity.ErrCorruptChain):
		return httperror.NewHTTPError(http.StatusInternalServerError, "contact link chain is inconsistent")
	case errors.Is(err, identity.ErrNotFound):
		if notFoundStatus == http.StatusNotFound {
			return httperror.NewHTTPError(http.StatusNotFound, "contact not found")
		}
		return httperror.NewHTTPError(notFoundStatus, "contact link chain is inconsistent")
	case errors.Is(err, identity.ErrConflict):
		return httperror.NewHTTPError(http.StatusConflict, "concurrent update conflict, retry the request")
	case errors.Is(err, identity.ErrTransient):
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "contact store unavailable")
	default:
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to process contact")
	}
}
