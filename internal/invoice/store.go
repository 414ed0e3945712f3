package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sachanni/brand-influencer-sub001/internal/common/database"
	"github.com/sachanni/brand-influencer-sub001/internal/common/money"
)

// PostgresStore implements Store using PostgreSQL. Once-only generation is
// backed by the unique constraint on invoices(proposal_id).
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateInvoice inserts the invoice and all its children in one
// transaction. A unique violation on proposal_id is returned as
// database.ErrAlreadyExists for the generation guard.
func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *Invoice, items []*LineItem, taxes []*TaxLine, milestones []*Milestone) error {
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO invoices (
				id, proposal_id, number, brand_id, influencer_id,
				subtotal_minor, tax_minor, total_minor, paid_minor, currency,
				tax_region, tax_rate_bps, status, issued_at, paid_at,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
					  $11, $12, $13, $14, $15, $16, $17)
		`
		if _, err := tx.Exec(ctx, query,
			inv.ID, inv.ProposalID, inv.Number, inv.BrandID, inv.InfluencerID,
			inv.Subtotal.AmountMinor, inv.Tax.AmountMinor, inv.Total.AmountMinor,
			inv.Paid.AmountMinor, inv.Total.Currency,
			inv.TaxRegion, inv.TaxRateBps, inv.Status, inv.IssuedAt, inv.PaidAt,
			inv.CreatedAt, inv.UpdatedAt,
		); err != nil {
			return err
		}

		for _, item := range items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO invoice_line_items (
					id, invoice_id, position, description, quantity,
					unit_amount_minor, amount_minor, currency
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`,
				item.ID, item.InvoiceID, item.Position, item.Description, item.Quantity,
				item.UnitAmount.AmountMinor, item.Amount.AmountMinor, item.Amount.Currency,
			); err != nil {
				return fmt.Errorf("inserting line item: %w", err)
			}
		}

		for _, line := range taxes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO invoice_tax_lines (
					id, invoice_id, jurisdiction, rate_bps, amount_minor, currency
				) VALUES ($1, $2, $3, $4, $5, $6)
			`,
				line.ID, line.InvoiceID, line.Jurisdiction, line.RateBps,
				line.Amount.AmountMinor, line.Amount.Currency,
			); err != nil {
				return fmt.Errorf("inserting tax line: %w", err)
			}
		}

		for _, m := range milestones {
			if _, err := tx.Exec(ctx, `
				INSERT INTO invoice_milestones (
					id, invoice_id, proposal_id, position, stage, share_bps,
					amount_minor, currency, status, paid_at, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			`,
				m.ID, m.InvoiceID, m.ProposalID, m.Position, m.Stage, m.ShareBps,
				m.Amount.AmountMinor, m.Amount.Currency, m.Status, m.PaidAt,
				m.CreatedAt, m.UpdatedAt,
			); err != nil {
				return fmt.Errorf("inserting milestone: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("invoice for proposal %s: %w", inv.ProposalID, database.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// GetByProposal retrieves the invoice for a proposal.
func (s *PostgresStore) GetByProposal(ctx context.Context, proposalID string) (*Invoice, error) {
	query := `
		SELECT id, proposal_id, number, brand_id, influencer_id,
			   subtotal_minor, tax_minor, total_minor, paid_minor, currency,
			   tax_region, tax_rate_bps, status, issued_at, paid_at,
			   created_at, updated_at
		FROM invoices
		WHERE proposal_id = $1
	`
	row := s.db.QueryRow(ctx, query, proposalID)

	var inv Invoice
	var currency string
	err := row.Scan(
		&inv.ID, &inv.ProposalID, &inv.Number, &inv.BrandID, &inv.InfluencerID,
		&inv.Subtotal.AmountMinor, &inv.Tax.AmountMinor, &inv.Total.AmountMinor,
		&inv.Paid.AmountMinor, &currency,
		&inv.TaxRegion, &inv.TaxRateBps, &inv.Status, &inv.IssuedAt, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("invoice: %w", database.ErrNotFound)
		}
		return nil, err
	}

	cur := money.Currency(currency)
	inv.Subtotal.Currency = cur
	inv.Tax.Currency = cur
	inv.Total.Currency = cur
	inv.Paid.Currency = cur

	return &inv, nil
}

// GetLineItems retrieves an invoice's line items in position order.
func (s *PostgresStore) GetLineItems(ctx context.Context, invoiceID string) ([]*LineItem, error) {
	query := `
		SELECT id, invoice_id, position, description, quantity,
			   unit_amount_minor, amount_minor, currency
		FROM invoice_line_items
		WHERE invoice_id = $1
		ORDER BY position ASC
	`
	rows, err := s.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LineItem
	for rows.Next() {
		var item LineItem
		var currency string
		if err := rows.Scan(
			&item.ID, &item.InvoiceID, &item.Position, &item.Description, &item.Quantity,
			&item.UnitAmount.AmountMinor, &item.Amount.AmountMinor, &currency,
		); err != nil {
			return nil, err
		}
		cur := money.Currency(currency)
		item.UnitAmount.Currency = cur
		item.Amount.Currency = cur
		items = append(items, &item)
	}
	return items, rows.Err()
}

// GetTaxLines retrieves an invoice's tax lines.
func (s *PostgresStore) GetTaxLines(ctx context.Context, invoiceID string) ([]*TaxLine, error) {
	query := `
		SELECT id, invoice_id, jurisdiction, rate_bps, amount_minor, currency
		FROM invoice_tax_lines
		WHERE invoice_id = $1
	`
	rows, err := s.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*TaxLine
	for rows.Next() {
		var line TaxLine
		var currency string
		if err := rows.Scan(
			&line.ID, &line.InvoiceID, &line.Jurisdiction, &line.RateBps,
			&line.Amount.AmountMinor, &currency,
		); err != nil {
			return nil, err
		}
		line.Amount.Currency = money.Currency(currency)
		lines = append(lines, &line)
	}
	return lines, rows.Err()
}

// GetMilestones retrieves the milestone schedule in position order.
func (s *PostgresStore) GetMilestones(ctx context.Context, invoiceID string) ([]*Milestone, error) {
	query := `
		SELECT id, invoice_id, proposal_id, position, stage, share_bps,
			   amount_minor, currency, status, paid_at, created_at, updated_at
		FROM invoice_milestones
		WHERE invoice_id = $1
		ORDER BY position ASC
	`
	rows, err := s.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var milestones []*Milestone
	for rows.Next() {
		var m Milestone
		var currency string
		if err := rows.Scan(
			&m.ID, &m.InvoiceID, &m.ProposalID, &m.Position, &m.Stage, &m.ShareBps,
			&m.Amount.AmountMinor, &currency, &m.Status, &m.PaidAt,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		m.Amount.Currency = money.Currency(currency)
		milestones = append(milestones, &m)
	}
	return milestones, rows.Err()
}

// UpdateReconciliation persists the reconciled paid amount and status.
func (s *PostgresStore) UpdateReconciliation(ctx context.Context, inv *Invoice) error {
	query := `
		UPDATE invoices SET
			paid_minor = $2, status = $3, paid_at = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query,
		inv.ID, inv.Paid.AmountMinor, inv.Status, inv.PaidAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating invoice reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %s: %w", inv.ID, database.ErrNotFound)
	}
	return nil
}

// SetMilestoneStatus updates one schedule row's status.
func (s *PostgresStore) SetMilestoneStatus(ctx context.Context, milestoneID string, status MilestoneStatus, paidAt *time.Time) error {
	query := `
		UPDATE invoice_milestones SET status = $2, paid_at = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, milestoneID, status, paidAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating milestone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("milestone %s: %w", milestoneID, database.ErrNotFound)
	}
	return nil
}
