package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/payment-engine/billing"
)

// queries implements billing.Repository on top of either the pool or an
// open transaction.
type queries struct {
	db dbtx
}

var _ billing.Repository = (*queries)(nil)

// =============================================================================
// CONTRACTS & INVOICES - Seeded by the surrounding system
// =============================================================================

// SaveContract inserts or replaces a contract.
func (q *queries) SaveContract(ctx context.Context, c billing.Contract) error {
	participantsJSON, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	query := `
		INSERT INTO contracts
		(id, tenant_id, name, margin, margin_type, margin_paid_by, payment_model, participants_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			margin = excluded.margin,
			margin_type = excluded.margin_type,
			margin_paid_by = excluded.margin_paid_by,
			payment_model = excluded.payment_model,
			participants_json = excluded.participants_json
	`
	_, err = q.db.ExecContext(ctx, query,
		c.ID, c.TenantID, c.Name, c.Margin.String(), c.MarginType,
		nullString(string(c.MarginPaidBy)), c.PaymentModel,
		string(participantsJSON), formatTime(c.CreatedAt),
	)
	if err != nil {
		return storeErr("save contract", err)
	}
	return nil
}

// SaveInvoice inserts or replaces an invoice. The embedded Contract is
// ignored; save it separately.
func (q *queries) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	lineItemsJSON, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	query := `
		INSERT INTO invoices
		(id, tenant_id, contract_id, currency, amount, margin_amount, margin_percentage,
		 total_amount, status, line_items_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			contract_id = excluded.contract_id,
			currency = excluded.currency,
			amount = excluded.amount,
			margin_amount = excluded.margin_amount,
			margin_percentage = excluded.margin_percentage,
			total_amount = excluded.total_amount,
			status = excluded.status,
			line_items_json = excluded.line_items_json
	`
	_, err = q.db.ExecContext(ctx, query,
		inv.ID, inv.TenantID, inv.ContractID, inv.Currency(),
		inv.Amount.Value.String(), inv.MarginAmount.Value.String(), inv.MarginPercentage.String(),
		inv.TotalAmount.Value.String(), inv.Status, string(lineItemsJSON), formatTime(inv.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "contract", ID: string(inv.ContractID)}
		}
		return storeErr("save invoice", err)
	}
	return nil
}

func (q *queries) GetContract(ctx context.Context, id billing.ContractID) (*billing.Contract, error) {
	query := `
		SELECT id, tenant_id, name, margin, margin_type, margin_paid_by, payment_model,
		       participants_json, created_at
		FROM contracts WHERE id = ?
	`
	var (
		c                billing.Contract
		margin           string
		paidBy           sql.NullString
		participantsJSON sql.NullString
		createdAt        string
	)
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.TenantID, &c.Name, &margin, &c.MarginType, &paidBy,
		&c.PaymentModel, &participantsJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get contract", err)
	}

	if c.Margin, err = parseDecimal(margin); err != nil {
		return nil, storeErr("decode contract margin", err)
	}
	c.MarginPaidBy = billing.MarginPaidBy(paidBy.String)
	if participantsJSON.Valid && participantsJSON.String != "" {
		if err := json.Unmarshal([]byte(participantsJSON.String), &c.Participants); err != nil {
			return nil, storeErr("decode participants", err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storeErr("decode contract created_at", err)
	}
	return &c, nil
}

// GetInvoice returns the invoice with its Contract populated.
func (q *queries) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	query := `
		SELECT id, tenant_id, contract_id, currency, amount, margin_amount, margin_percentage,
		       total_amount, status, line_items_json, created_at
		FROM invoices WHERE id = ?
	`
	var (
		inv           billing.Invoice
		currency      string
		amount        string
		marginAmount  string
		marginPct     string
		totalAmount   string
		lineItemsJSON sql.NullString
		createdAt     string
	)
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&inv.ID, &inv.TenantID, &inv.ContractID, &currency, &amount, &marginAmount,
		&marginPct, &totalAmount, &inv.Status, &lineItemsJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get invoice", err)
	}

	cur := billing.Currency(currency)
	if inv.Amount, err = parseMoney(amount, cur); err != nil {
		return nil, storeErr("decode invoice amount", err)
	}
	if inv.MarginAmount, err = parseMoney(marginAmount, cur); err != nil {
		return nil, storeErr("decode invoice margin amount", err)
	}
	if inv.MarginPercentage, err = parseDecimal(marginPct); err != nil {
		return nil, storeErr("decode invoice margin percentage", err)
	}
	if inv.TotalAmount, err = parseMoney(totalAmount, cur); err != nil {
		return nil, storeErr("decode invoice total", err)
	}
	if lineItemsJSON.Valid && lineItemsJSON.String != "" {
		if err := json.Unmarshal([]byte(lineItemsJSON.String), &inv.LineItems); err != nil {
			return nil, storeErr("decode line items", err)
		}
	}
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storeErr("decode invoice created_at", err)
	}

	if inv.Contract, err = q.GetContract(ctx, inv.ContractID); err != nil {
		return nil, err
	}
	return &inv, nil
}

// UpdateInvoiceTotals writes back the margin and total fields only.
func (q *queries) UpdateInvoiceTotals(ctx context.Context, id billing.InvoiceID, t billing.InvoiceTotals) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE invoices
		SET margin_amount = ?, margin_percentage = ?, total_amount = ?
		WHERE id = ?
	`, t.MarginAmount.Value.String(), t.MarginPercentage.String(), t.TotalAmount.Value.String(), id)
	if err != nil {
		return storeErr("update invoice totals", err)
	}
	return requireRow(res, "invoice", string(id))
}

// =============================================================================
// MARGIN RECORDS
// =============================================================================

const marginColumns = `
	id, invoice_id, contract_id, margin_type, margin_percentage, margin_amount,
	calculated_margin, currency, is_overridden, overridden_by, overridden_at, notes,
	created_at, updated_at
`

func (q *queries) CreateMarginRecord(ctx context.Context, rec billing.MarginRecord) error {
	query := `INSERT INTO margin_records (` + marginColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.db.ExecContext(ctx, query, marginArgs(rec)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.ConflictError{
				Entity: "margin_record",
				ID:     string(rec.InvoiceID),
				Reason: "invoice already has a margin record",
			}
		}
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "invoice", ID: string(rec.InvoiceID)}
		}
		return storeErr("create margin record", err)
	}
	return nil
}

func (q *queries) UpdateMarginRecord(ctx context.Context, rec billing.MarginRecord) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE margin_records
		SET margin_type = ?, margin_percentage = ?, margin_amount = ?, is_overridden = ?,
		    overridden_by = ?, overridden_at = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`,
		rec.MarginType, rec.MarginPercentage.String(), rec.MarginAmount.Value.String(),
		rec.IsOverridden, nullString(rec.OverriddenBy), nullTime(rec.OverriddenAt),
		nullString(rec.Notes), formatTime(rec.UpdatedAt), rec.ID,
	)
	if err != nil {
		return storeErr("update margin record", err)
	}
	return requireRow(res, "margin_record", string(rec.ID))
}

func (q *queries) GetMarginRecord(ctx context.Context, invoiceID billing.InvoiceID) (*billing.MarginRecord, error) {
	return q.getMargin(ctx, "invoice_id", string(invoiceID))
}

func (q *queries) GetMarginRecordByID(ctx context.Context, id billing.MarginID) (*billing.MarginRecord, error) {
	return q.getMargin(ctx, "id", string(id))
}

func (q *queries) getMargin(ctx context.Context, column, value string) (*billing.MarginRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+marginColumns+` FROM margin_records WHERE `+column+` = ?`, value)
	if err != nil {
		return nil, storeErr("get margin record", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storeErr("get margin record", err)
		}
		return nil, nil
	}
	rec, err := scanMargin(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (q *queries) ListMarginsByContract(ctx context.Context, contractID billing.ContractID) ([]billing.MarginRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+marginColumns+` FROM margin_records WHERE contract_id = ? ORDER BY created_at ASC`, contractID)
	if err != nil {
		return nil, storeErr("list margins", err)
	}
	defer rows.Close()

	var out []billing.MarginRecord
	for rows.Next() {
		rec, err := scanMargin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list margins", err)
	}
	return out, nil
}

func marginArgs(rec billing.MarginRecord) []any {
	return []any{
		rec.ID, rec.InvoiceID, rec.ContractID, rec.MarginType,
		rec.MarginPercentage.String(), rec.MarginAmount.Value.String(),
		rec.CalculatedMargin.Value.String(), rec.MarginAmount.Currency,
		rec.IsOverridden, nullString(rec.OverriddenBy), nullTime(rec.OverriddenAt),
		nullString(rec.Notes), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	}
}

func scanMargin(rows *sql.Rows) (billing.MarginRecord, error) {
	var (
		rec                        billing.MarginRecord
		pct, amount, calculated    string
		currency                   string
		overriddenBy, overriddenAt sql.NullString
		notes                      sql.NullString
		createdAt, updatedAt       string
	)
	err := rows.Scan(
		&rec.ID, &rec.InvoiceID, &rec.ContractID, &rec.MarginType, &pct, &amount,
		&calculated, &currency, &rec.IsOverridden, &overriddenBy, &overriddenAt, &notes,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return rec, storeErr("scan margin record", err)
	}

	cur := billing.Currency(currency)
	if rec.MarginPercentage, err = parseDecimal(pct); err != nil {
		return rec, storeErr("decode margin percentage", err)
	}
	if rec.MarginAmount, err = parseMoney(amount, cur); err != nil {
		return rec, storeErr("decode margin amount", err)
	}
	if rec.CalculatedMargin, err = parseMoney(calculated, cur); err != nil {
		return rec, storeErr("decode calculated margin", err)
	}
	rec.OverriddenBy = overriddenBy.String
	rec.Notes = notes.String
	if overriddenAt.Valid {
		t, err := parseTime(overriddenAt.String)
		if err != nil {
			return rec, storeErr("decode overridden_at", err)
		}
		rec.OverriddenAt = &t
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return rec, storeErr("decode margin created_at", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return rec, storeErr("decode margin updated_at", err)
	}
	return rec, nil
}

// =============================================================================
// MARGIN OVERRIDE LOG (append-only)
// =============================================================================

func (q *queries) AppendMarginOverride(ctx context.Context, o billing.MarginOverride) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO margin_overrides
		(id, margin_id, invoice_id, actor_id, previous_type, previous_amount, previous_percentage,
		 new_amount, new_percentage, currency, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.MarginID, o.InvoiceID, o.ActorID, o.PreviousType,
		o.PreviousAmount.Value.String(), o.PreviousPercentage.String(),
		o.NewAmount.Value.String(), o.NewPercentage.String(), o.NewAmount.Currency,
		nullString(o.Notes), formatTime(o.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.ConflictError{Entity: "margin_override", ID: o.ID, Reason: "duplicate override id"}
		}
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "margin_record", ID: string(o.MarginID)}
		}
		return storeErr("append margin override", err)
	}
	return nil
}

// ListMarginOverrides returns the log oldest first.
func (q *queries) ListMarginOverrides(ctx context.Context, marginID billing.MarginID) ([]billing.MarginOverride, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, margin_id, invoice_id, actor_id, previous_type, previous_amount, previous_percentage,
		       new_amount, new_percentage, currency, notes, created_at
		FROM margin_overrides
		WHERE margin_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, marginID)
	if err != nil {
		return nil, storeErr("list margin overrides", err)
	}
	defer rows.Close()

	var out []billing.MarginOverride
	for rows.Next() {
		var (
			o                   billing.MarginOverride
			prevAmount, prevPct string
			newAmount, newPct   string
			currency            string
			notes               sql.NullString
			createdAt           string
		)
		if err := rows.Scan(
			&o.ID, &o.MarginID, &o.InvoiceID, &o.ActorID, &o.PreviousType, &prevAmount, &prevPct,
			&newAmount, &newPct, &currency, &notes, &createdAt,
		); err != nil {
			return nil, storeErr("scan margin override", err)
		}
		cur := billing.Currency(currency)
		if o.PreviousAmount, err = parseMoney(prevAmount, cur); err != nil {
			return nil, storeErr("decode previous amount", err)
		}
		if o.PreviousPercentage, err = parseDecimal(prevPct); err != nil {
			return nil, storeErr("decode previous percentage", err)
		}
		if o.NewAmount, err = parseMoney(newAmount, cur); err != nil {
			return nil, storeErr("decode new amount", err)
		}
		if o.NewPercentage, err = parseDecimal(newPct); err != nil {
			return nil, storeErr("decode new percentage", err)
		}
		o.Notes = notes.String
		if o.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storeErr("decode override created_at", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list margin overrides", err)
	}
	return out, nil
}

// =============================================================================
// PAYMENTS & WORKFLOW RUNS
// =============================================================================

func (q *queries) CreatePaymentRecord(ctx context.Context, p billing.PaymentRecord) error {
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode payment metadata: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO payment_records
		(id, invoice_id, tenant_id, amount, currency, status, method, scheduled_date,
		 description, notes, created_by, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.InvoiceID, p.TenantID, p.Amount.Value.String(), p.Amount.Currency,
		p.Status, p.Method, formatTime(p.ScheduledDate), nullString(p.Description),
		nullString(p.Notes), nullString(p.CreatedBy), string(metadataJSON), formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.ConflictError{Entity: "payment_record", ID: string(p.ID), Reason: "duplicate payment id"}
		}
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "invoice", ID: string(p.InvoiceID)}
		}
		return storeErr("create payment record", err)
	}
	return nil
}

func (q *queries) ListPaymentRecords(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.PaymentRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, invoice_id, tenant_id, amount, currency, status, method, scheduled_date,
		       description, notes, created_by, metadata_json, created_at
		FROM payment_records
		WHERE invoice_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, invoiceID)
	if err != nil {
		return nil, storeErr("list payment records", err)
	}
	defer rows.Close()

	var out []billing.PaymentRecord
	for rows.Next() {
		var (
			p                             billing.PaymentRecord
			amount, currency              string
			scheduled, createdAt          string
			description, notes, createdBy sql.NullString
			metadataJSON                  sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.InvoiceID, &p.TenantID, &amount, &currency, &p.Status, &p.Method, &scheduled,
			&description, &notes, &createdBy, &metadataJSON, &createdAt,
		); err != nil {
			return nil, storeErr("scan payment record", err)
		}
		if p.Amount, err = parseMoney(amount, billing.Currency(currency)); err != nil {
			return nil, storeErr("decode payment amount", err)
		}
		if p.ScheduledDate, err = parseTime(scheduled); err != nil {
			return nil, storeErr("decode scheduled_date", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storeErr("decode payment created_at", err)
		}
		p.Description = description.String
		p.Notes = notes.String
		p.CreatedBy = createdBy.String
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &p.Metadata); err != nil {
				return nil, storeErr("decode payment metadata", err)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list payment records", err)
	}
	return out, nil
}

func (q *queries) RecordWorkflowRun(ctx context.Context, run billing.WorkflowRun) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, invoice_id, payment_model, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.InvoiceID, run.PaymentModel, run.ActorID, formatTime(run.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.ConflictError{
				Entity: "workflow_run",
				ID:     string(run.InvoiceID),
				Reason: "payment model " + string(run.PaymentModel) + " already dispatched",
			}
		}
		return storeErr("record workflow run", err)
	}
	return nil
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return &billing.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}
