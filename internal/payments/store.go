package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sachanni/brand-influencer-sub001/internal/common/database"
	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
)

// PostgresStore implements Store using PostgreSQL. The one-non-failed-
// record-per-(proposal, stage) invariant is enforced by a partial unique
// index, not by application checks alone.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const proposalColumns = `
	id, campaign_id, brand_id, influencer_id,
	approval_status, payment_status,
	compensation_minor, currency, tax_region,
	upfront_bps, completion_bps, bonus_bps,
	content_published, deliverables,
	created_at, updated_at
`

// GetProposal retrieves a proposal by ID.
func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (*Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	row := s.db.QueryRow(ctx, query, proposalID)
	return scanProposal(row)
}

// CreateProposal inserts a proposal. Exposed for the application flow that
// accepts collaborations; the engine itself only reads and advances them.
func (s *PostgresStore) CreateProposal(ctx context.Context, p *Proposal) error {
	query := `
		INSERT INTO proposals (` + proposalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.db.Exec(ctx, query,
		p.ID, p.CampaignID, p.BrandID, p.InfluencerID,
		p.ApprovalStatus, p.PaymentStatus,
		p.Compensation.AmountMinor, p.Compensation.Currency, p.TaxRegion,
		p.Split.UpfrontBps, p.Split.CompletionBps, p.Split.BonusBps,
		p.ContentPublished, p.Deliverables,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("proposal %s: %w", p.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating proposal: %w", err)
	}
	return nil
}

// SetProposalPaymentStatus advances a proposal's payment status. The
// approval status is owned by the review workflow and never written here.
func (s *PostgresStore) SetProposalPaymentStatus(ctx context.Context, proposalID string, status PaymentStatus) error {
	query := `UPDATE proposals SET payment_status = $2, updated_at = $3 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, proposalID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s: %w", proposalID, database.ErrNotFound)
	}
	return nil
}

const stageColumns = `
	id, proposal_id, stage, status,
	gross_minor, commission_minor, net_minor, currency, stage_bps,
	due_at, gateway_order_id, gateway_confirmation_id,
	correction_note, failure_code, failure_message, correlation_id,
	completed_at, failed_at, created_at, updated_at
`

// GetActiveStagePayment returns the single non-failed record for
// (proposal, stage), or database.ErrNotFound.
func (s *PostgresStore) GetActiveStagePayment(ctx context.Context, proposalID string, stage Stage) (*StagePayment, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM payment_stages
		WHERE proposal_id = $1 AND stage = $2 AND status <> 'failed'
	`
	row := s.db.QueryRow(ctx, query, proposalID, stage)
	return scanStagePayment(row)
}

// GetStagePayment retrieves a stage payment by ID.
func (s *PostgresStore) GetStagePayment(ctx context.Context, id string) (*StagePayment, error) {
	query := `SELECT ` + stageColumns + ` FROM payment_stages WHERE id = $1`
	row := s.db.QueryRow(ctx, query, id)
	return scanStagePayment(row)
}

// GetStagePaymentByOrderID retrieves a stage payment by its gateway order.
func (s *PostgresStore) GetStagePaymentByOrderID(ctx context.Context, orderID string) (*StagePayment, error) {
	query := `SELECT ` + stageColumns + ` FROM payment_stages WHERE gateway_order_id = $1`
	row := s.db.QueryRow(ctx, query, orderID)
	return scanStagePayment(row)
}

// ListStagePayments lists all stage payments for a proposal, oldest first.
func (s *PostgresStore) ListStagePayments(ctx context.Context, proposalID string) ([]*StagePayment, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM payment_stages
		WHERE proposal_id = $1
		ORDER BY created_at ASC
	`
	return s.queryStagePayments(ctx, query, proposalID)
}

// ListCompletedStagePayments lists completed stage payments for a proposal.
func (s *PostgresStore) ListCompletedStagePayments(ctx context.Context, proposalID string) ([]*StagePayment, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM payment_stages
		WHERE proposal_id = $1 AND status = 'completed'
		ORDER BY created_at ASC
	`
	return s.queryStagePayments(ctx, query, proposalID)
}

func (s *PostgresStore) queryStagePayments(ctx context.Context, query string, args ...interface{}) ([]*StagePayment, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*StagePayment
	for rows.Next() {
		record, err := scanStagePaymentRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CreateStagePayment inserts a stage payment and its initial commission
// ledger entry in one transaction. A unique violation on the partial index
// surfaces as ErrDuplicateStage so the caller can re-fetch the winner.
func (s *PostgresStore) CreateStagePayment(ctx context.Context, record *StagePayment, entry *CommissionEntry) error {
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := insertStagePayment(ctx, tx, record); err != nil {
			return err
		}
		return insertCommissionEntry(ctx, tx, entry)
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("proposal %s stage %s: %w", record.ProposalID, record.Stage, ErrDuplicateStage)
		}
		return err
	}
	return nil
}

// CorrectStagePayment rewrites the amounts of a still-pending record and
// appends the corrective ledger entry transactionally. The status guard in
// the WHERE clause makes the update a no-op if the record moved past
// pending concurrently; that case returns ErrAmountMismatch.
func (s *PostgresStore) CorrectStagePayment(ctx context.Context, record *StagePayment, entry *CommissionEntry) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE payment_stages SET
				gross_minor = $2, commission_minor = $3, net_minor = $4,
				stage_bps = $5, correction_note = $6, updated_at = $7
			WHERE id = $1 AND status = 'pending'
		`
		tag, err := tx.Exec(ctx, query,
			record.ID, record.Gross.AmountMinor, record.Commission.AmountMinor,
			record.Net.AmountMinor, record.StageBps, nullStr(record.CorrectionNote),
			record.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("correcting stage payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("record %s is no longer pending: %w", record.ID, ErrAmountMismatch)
		}
		return insertCommissionEntry(ctx, tx, entry)
	})
}

// MarkProcessing moves a pending record to processing.
func (s *PostgresStore) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE payment_stages SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := s.db.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s not pending: %w", id, ErrAlreadyFinalized)
	}
	return nil
}

// SetGatewayOrder records the gateway order ID after a successful create.
func (s *PostgresStore) SetGatewayOrder(ctx context.Context, id, orderID string) error {
	query := `UPDATE payment_stages SET gateway_order_id = $2, updated_at = $3 WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id, orderID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting gateway order: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a pending or processing record. The status guard
// rejects duplicate confirmations at the SQL level so concurrent webhook
// deliveries cannot both finalize.
func (s *PostgresStore) MarkCompleted(ctx context.Context, id, confirmationID string, at time.Time) error {
	query := `
		UPDATE payment_stages SET
			status = 'completed', gateway_confirmation_id = $2,
			completed_at = $3, updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	tag, err := s.db.Exec(ctx, query, id, confirmationID, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", id, ErrAlreadyFinalized)
	}
	return nil
}

// MarkFailed finalizes a pending or processing record as failed.
func (s *PostgresStore) MarkFailed(ctx context.Context, id, code, message string) error {
	now := time.Now().UTC()
	query := `
		UPDATE payment_stages SET
			status = 'failed', failure_code = $2, failure_message = $3,
			failed_at = $4, updated_at = $5
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	tag, err := s.db.Exec(ctx, query, id, nullStr(code), nullStr(message), now, now)
	if err != nil {
		return fmt.Errorf("marking failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", id, ErrAlreadyFinalized)
	}
	return nil
}

// AppendTransaction records a confirmed financial movement.
func (s *PostgresStore) AppendTransaction(ctx context.Context, txn *Transaction) error {
	query := `
		INSERT INTO payment_transactions (
			id, stage_payment_id, proposal_id,
			amount_minor, currency,
			gateway_order_id, gateway_confirmation_id,
			occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.Exec(ctx, query,
		txn.ID, txn.StagePaymentID, txn.ProposalID,
		txn.Amount.AmountMinor, txn.Amount.Currency,
		nullStr(txn.GatewayOrderID), txn.GatewayConfirmationID,
		txn.OccurredAt, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending transaction: %w", err)
	}
	return nil
}

// ListCommissionEntries lists the ledger entries for a proposal, oldest
// first.
func (s *PostgresStore) ListCommissionEntries(ctx context.Context, proposalID string) ([]*CommissionEntry, error) {
	query := `
		SELECT id, proposal_id, stage_payment_id, stage, kind,
			   gross_minor, commission_minor, net_minor, currency,
			   tax_region, tax_rate_bps, commission_bps, correlation_id, created_at
		FROM commission_ledger
		WHERE proposal_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*CommissionEntry
	for rows.Next() {
		var e CommissionEntry
		var currency string
		err := rows.Scan(
			&e.ID, &e.ProposalID, &e.StagePaymentID, &e.Stage, &e.Kind,
			&e.Gross.AmountMinor, &e.Commission.AmountMinor, &e.Net.AmountMinor, &currency,
			&e.TaxRegion, &e.TaxRateBps, &e.CommissionBps, &e.CorrelationID, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.Gross.Currency = money.Currency(currency)
		e.Commission.Currency = e.Gross.Currency
		e.Net.Currency = e.Gross.Currency
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func insertStagePayment(ctx context.Context, tx pgx.Tx, record *StagePayment) error {
	query := `
		INSERT INTO payment_stages (` + stageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := tx.Exec(ctx, query,
		record.ID, record.ProposalID, record.Stage, record.Status,
		record.Gross.AmountMinor, record.Commission.AmountMinor, record.Net.AmountMinor,
		record.Gross.Currency, record.StageBps,
		record.DueAt, nullStr(record.GatewayOrderID), nullStr(record.GatewayConfirmationID),
		nullStr(record.CorrectionNote), nullStr(record.FailureCode), nullStr(record.FailureMessage),
		nullStr(record.CorrelationID),
		record.CompletedAt, record.FailedAt, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting stage payment: %w", err)
	}
	return nil
}

func insertCommissionEntry(ctx context.Context, tx pgx.Tx, entry *CommissionEntry) error {
	query := `
		INSERT INTO commission_ledger (
			id, proposal_id, stage_payment_id, stage, kind,
			gross_minor, commission_minor, net_minor, currency,
			tax_region, tax_rate_bps, commission_bps, correlation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := tx.Exec(ctx, query,
		entry.ID, entry.ProposalID, entry.StagePaymentID, entry.Stage, entry.Kind,
		entry.Gross.AmountMinor, entry.Commission.AmountMinor, entry.Net.AmountMinor,
		entry.Gross.Currency,
		entry.TaxRegion, entry.TaxRateBps, entry.CommissionBps,
		nullStr(entry.CorrelationID), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting commission entry: %w", err)
	}
	return nil
}

func scanProposal(row pgx.Row) (*Proposal, error) {
	var p Proposal
	var currency string
	err := row.Scan(
		&p.ID, &p.CampaignID, &p.BrandID, &p.InfluencerID,
		&p.ApprovalStatus, &p.PaymentStatus,
		&p.Compensation.AmountMinor, &currency, &p.TaxRegion,
		&p.Split.UpfrontBps, &p.Split.CompletionBps, &p.Split.BonusBps,
		&p.ContentPublished, &p.Deliverables,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("proposal: %w", database.ErrNotFound)
		}
		return nil, err
	}
	p.Compensation.Currency = money.Currency(currency)
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStagePayment(row pgx.Row) (*StagePayment, error) {
	record, err := scanStageFrom(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("stage payment: %w", database.ErrNotFound)
		}
		return nil, err
	}
	return record, nil
}

func scanStagePaymentRows(rows pgx.Rows) (*StagePayment, error) {
	return scanStageFrom(rows)
}

func scanStageFrom(row rowScanner) (*StagePayment, error) {
	var r StagePayment
	var currency string
	var orderID, confirmationID, note, failCode, failMsg, correlationID *string

	err := row.Scan(
		&r.ID, &r.ProposalID, &r.Stage, &r.Status,
		&r.Gross.AmountMinor, &r.Commission.AmountMinor, &r.Net.AmountMinor,
		&currency, &r.StageBps,
		&r.DueAt, &orderID, &confirmationID,
		&note, &failCode, &failMsg, &correlationID,
		&r.CompletedAt, &r.FailedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cur := money.Currency(currency)
	r.Gross.Currency = cur
	r.Commission.Currency = cur
	r.Net.Currency = cur

	if orderID != nil {
		r.GatewayOrderID = *orderID
	}
	if confirmationID != nil {
		r.GatewayConfirmationID = *confirmationID
	}
	if note != nil {
		r.CorrectionNote = *note
	}
	if failCode != nil {
		r.FailureCode = *failCode
	}
	if failMsg != nil {
		r.FailureMessage = *failMsg
	}
	if correlationID != nil {
		r.CorrelationID = *correlationID
	}

	return &r, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
