package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
)

// SQLSTATE classes that mean the server side was unreachable or unable to
// serve, as opposed to refusing the request.
var transportClasses = map[string]bool{
	"08": true, // connection exception
	"53": true, // insufficient resources
	"57": true, // operator intervention (shutdown, cancel)
	"58": true, // system error (I/O)
}

// classify maps a driver error onto the engine's taxonomy. Transport-class
// errors flip the capability flag; rejection-class errors are permanent and
// surface to the caller. Anything unidentifiable counts as transport: the
// conservative reading keeps the caller on the local-fallback path instead
// of discarding the write.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 && transportClasses[pgErr.Code[:2]] {
			return fmt.Errorf("%w: %s: %v", common.ErrTransportUnavailable, op, err)
		}
		return fmt.Errorf("%w: %s: %v", common.ErrClientRejected, op, err)
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s: %v", common.ErrTransportUnavailable, op, err)
	}

	return fmt.Errorf("%w: %s: %v", common.ErrTransportUnavailable, op, err)
}
