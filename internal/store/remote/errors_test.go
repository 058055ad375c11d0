package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil passes through", nil, nil},
		{"no rows is not found", sql.ErrNoRows, common.ErrNotFound},
		{"connection exception is transport", &pgconn.PgError{Code: "08006"}, common.ErrTransportUnavailable},
		{"insufficient resources is transport", &pgconn.PgError{Code: "53300"}, common.ErrTransportUnavailable},
		{"shutdown is transport", &pgconn.PgError{Code: "57P01"}, common.ErrTransportUnavailable},
		{"constraint violation is rejection", &pgconn.PgError{Code: "23505"}, common.ErrClientRejected},
		{"undefined table is rejection", &pgconn.PgError{Code: "42P01"}, common.ErrClientRejected},
		{"permission denied is rejection", &pgconn.PgError{Code: "42501"}, common.ErrClientRejected},
		{"net timeout is transport", &net.DNSError{IsTimeout: true}, common.ErrTransportUnavailable},
		{"bad conn is transport", driver.ErrBadConn, common.ErrTransportUnavailable},
		{"deadline is transport", context.DeadlineExceeded, common.ErrTransportUnavailable},
		{"unknown error defaults to transport", errors.New("weird"), common.ErrTransportUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("op", tc.err)
			if tc.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.want)
		})
	}
}
