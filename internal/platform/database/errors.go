package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
	codeTooManyConnections   = "53300"
)

// IsNoRows reports whether err is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsSerializationFailure reports whether postgres aborted the transaction
// because of a concurrent conflicting transaction. Such transactions are safe
// to retry from the start.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
	}
	return false
}

// IsTransient reports whether err is a connectivity or timeout failure from
// the database rather than a statement error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception
		if strings.HasPrefix(string(pqErr.Code), "08") {
			return true
		}
		switch pqErr.Code {
		case codeAdminShutdown, codeCannotConnectNow, codeTooManyConnections:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
