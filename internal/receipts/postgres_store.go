package receipts

import (
	"context"
	"database/sql"
)

// PostgresStore persists receipt data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (
			id, tx_signature, resource, payer, recipient,
			lamports, payload_hash, signature, issued_at, expires_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`,
		r.ID, r.TxSignature, r.Resource, nullString(r.Payer), r.Recipient,
		int64(r.Lamports), r.PayloadHash, r.Signature, r.IssuedAt, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tx_signature, resource, payer, recipient,
		       lamports, payload_hash, signature, issued_at, expires_at, created_at
		FROM receipts WHERE id = $1`, id)

	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByPayer(ctx context.Context, payer string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tx_signature, resource, payer, recipient,
		       lamports, payload_hash, signature, issued_at, expires_at, created_at
		FROM receipts
		WHERE payer = $1
		ORDER BY created_at DESC
		LIMIT $2`, payer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReceipts(rows)
}

func (p *PostgresStore) ListBySignature(ctx context.Context, txSignature string) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tx_signature, resource, payer, recipient,
		       lamports, payload_hash, signature, issued_at, expires_at, created_at
		FROM receipts
		WHERE tx_signature = $1
		ORDER BY created_at DESC`, txSignature)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReceipts(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var r Receipt
	var payer sql.NullString
	var lamports int64
	err := row.Scan(
		&r.ID, &r.TxSignature, &r.Resource, &payer, &r.Recipient,
		&lamports, &r.PayloadHash, &r.Signature, &r.IssuedAt, &r.ExpiresAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Payer = payer.String
	r.Lamports = uint64(lamports)
	return &r, nil
}

func scanReceipts(rows *sql.Rows) ([]*Receipt, error) {
	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
