package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// walletTxOptions pins wallet transactions to READ COMMITTED; per-wallet
// ordering comes from the SELECT ... FOR UPDATE row locks, not the level.
var walletTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.ReadCommitted,
	AccessMode: pgx.ReadWrite,
}

// Transactor implements ports.DBTransactor using pgxpool.Pool.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a new Transactor wrapping the connection pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin starts a read-write wallet transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.BeginTx(ctx, walletTxOptions)
}
