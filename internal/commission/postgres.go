package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"formtato/internal/commission/migrations"
)

// PostgresRepository persists commissions in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects using the DSN and applies pending migrations.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// RunMigrations applies the embedded goose migrations over the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Pool exposes the connection pool so other stores can share it.
func (p *PostgresRepository) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresRepository) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresRepository) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresRepository) Create(ctx context.Context, c Commission) (Commission, error) {
	row := p.pool.QueryRow(ctx, `
INSERT INTO commissions (name, twitter_username, tx_hash, inspiration_uri, wallet_address)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, finished, created_at
`, c.Name, c.TwitterUsername, c.TxHash, c.InspirationURI, c.WalletAddress)

	if err := row.Scan(&c.ID, &c.Finished, &c.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Commission{}, ErrDuplicateTx
		}
		return Commission{}, err
	}
	return c, nil
}

const uniqueViolation = "23505"

func (p *PostgresRepository) Get(ctx context.Context, id int64) (*Commission, error) {
	return p.getOne(ctx, `
SELECT id, name, twitter_username, tx_hash, inspiration_uri, wallet_address, finished, created_at
FROM commissions
WHERE id = $1
`, id)
}

func (p *PostgresRepository) GetByTxHash(ctx context.Context, txHash string) (*Commission, error) {
	return p.getOne(ctx, `
SELECT id, name, twitter_username, tx_hash, inspiration_uri, wallet_address, finished, created_at
FROM commissions
WHERE tx_hash = $1
ORDER BY id
LIMIT 1
`, txHash)
}

func (p *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*Commission, error) {
	row := p.pool.QueryRow(ctx, query, arg)

	var c Commission
	err := row.Scan(&c.ID, &c.Name, &c.TwitterUsername, &c.TxHash, &c.InspirationURI, &c.WalletAddress, &c.Finished, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (p *PostgresRepository) CountUnfinished(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM commissions WHERE NOT finished`).Scan(&n)
	return n, err
}

func (p *PostgresRepository) MarkFinished(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `UPDATE commissions SET finished = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
