package tips

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/dbx"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// foreignKeyViolation is the SQLSTATE of a failed REFERENCES check.
const foreignKeyViolation = "23503"

const tipColumns = `id, post_id, tip_sender, amount_sats, comment, ln_payment_hash,
		 bolt11_invoice, forward_payment_hash, paid_in, paid_out, created_at`

// PostgresRepository implements tip storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTip(row rowScanner) (*models.Tip, error) {
	var tip models.Tip
	var sender, comment, fwdPayment sql.NullString

	err := row.Scan(&tip.ID, &tip.PostID, &sender, &tip.AmountSats, &comment, &tip.PaymentID,
		&tip.Invoice, &fwdPayment, &tip.Received, &tip.Forwarded, &tip.CreatedAt)
	if err != nil {
		return nil, err
	}

	tip.SenderID = sender.String
	tip.Comment = comment.String
	tip.ForwardPaymentID = fwdPayment.String
	return &tip, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*models.Tip, error) {
	tip, err := scanTip(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tip, nil
}

// Create inserts a new tip. The payment id must already be known: it is the
// only link between node events and the tip.
func (r *PostgresRepository) Create(ctx context.Context, tip *models.Tip) (*models.Tip, error) {
	query :=
		`INSERT INTO tip (id, post_id, tip_sender, amount_sats, comment, ln_payment_hash, bolt11_invoice)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		tip.ID, tip.PostID, nullable(tip.SenderID), tip.AmountSats, nullable(tip.Comment),
		tip.PaymentID, tip.Invoice).Scan(&tip.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			// unknown post
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return tip, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Tip, error) {
	return r.queryOne(ctx, `SELECT `+tipColumns+` FROM tip WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Tip, error) {
	return r.queryOne(ctx, `SELECT `+tipColumns+` FROM tip WHERE ln_payment_hash = $1`, paymentID)
}

// LockByID selects the tip and locks its row until the transaction ends.
func (r *PostgresRepository) LockByID(ctx context.Context, id string) (*models.Tip, error) {
	return r.queryOne(ctx, `SELECT `+tipColumns+` FROM tip WHERE id = $1 FOR UPDATE`, id)
}

// LockByPaymentID selects the tip owning paymentID and locks its row until
// the transaction ends.
func (r *PostgresRepository) LockByPaymentID(ctx context.Context, paymentID string) (*models.Tip, error) {
	return r.queryOne(ctx, `SELECT `+tipColumns+` FROM tip WHERE ln_payment_hash = $1 FOR UPDATE`, paymentID)
}

func exactlyOne(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrStateConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// MarkReceived sets paid_in. It matches only unpaid tips, so a second call
// returns common.ErrStateConflict instead of rewriting the row.
func (r *PostgresRepository) MarkReceived(ctx context.Context, id string) error {
	query := `UPDATE tip SET paid_in = TRUE WHERE id = $1 AND NOT paid_in`
	return exactlyOne(r.db.ExecContext(ctx, query, id))
}

// MarkForwarded sets paid_out together with the forwarding payment id. It
// matches only received, not yet forwarded tips.
func (r *PostgresRepository) MarkForwarded(ctx context.Context, id string, forwardPaymentID string) error {
	query := `UPDATE tip SET paid_out = TRUE, forward_payment_hash = $2
		 WHERE id = $1 AND paid_in AND NOT paid_out`
	return exactlyOne(r.db.ExecContext(ctx, query, id, forwardPaymentID))
}

// RecipientID returns the author of the post the tip is attached to.
func (r *PostgresRepository) RecipientID(ctx context.Context, tipID string) (string, error) {
	query := `SELECT p.author_id FROM tip t JOIN posts p ON p.id = t.post_id WHERE t.id = $1`

	var authorID string
	if err := r.db.QueryRowContext(ctx, query, tipID).Scan(&authorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return authorID, nil
}

// ListPendingForward returns received but not forwarded tips on posts
// written by recipientID, oldest first.
func (r *PostgresRepository) ListPendingForward(ctx context.Context, recipientID string) ([]*models.Tip, error) {
	query := `SELECT t.id, t.post_id, t.tip_sender, t.amount_sats, t.comment, t.ln_payment_hash,
		 t.bolt11_invoice, t.forward_payment_hash, t.paid_in, t.paid_out, t.created_at
		 FROM tip t JOIN posts p ON p.id = t.post_id
		 WHERE p.author_id = $1 AND t.paid_in AND NOT t.paid_out
		 ORDER BY t.created_at`

	rows, err := r.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to select tips: %w", err)
	}
	defer rows.Close()

	var result []*models.Tip
	for rows.Next() {
		tip, err := scanTip(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tip)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
