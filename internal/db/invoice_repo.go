package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stowage/internal/types"
)

// InvoiceRepository persists invoices and their lines.
type InvoiceRepository struct {
	db TxDB
}

// NewInvoiceRepository creates an InvoiceRepository.
func NewInvoiceRepository(db TxDB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const insertInvoiceSQL = `
	INSERT INTO invoices (id, client_id, period_month, period_year, total_amount, status, due_date, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const insertInvoiceLineSQL = `
	INSERT INTO invoice_lines (invoice_id, position, description, amount, line_type, container_id, calculation_method, details)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, NULLIF($7, ''), $8)`

// CreateInvoice writes the invoice header and all of its lines in one
// transaction.
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *types.Invoice) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin invoice transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, insertInvoiceSQL,
		inv.ID, inv.ClientID, inv.PeriodMonth, inv.PeriodYear,
		inv.TotalAmount, string(inv.Status), inv.DueDate, inv.CreatedAt,
	); err != nil {
		return mapInvoiceWriteError(inv, "failed to insert invoice", err)
	}

	for i, line := range inv.Items {
		if _, err = tx.Exec(ctx, insertInvoiceLineSQL,
			inv.ID, i+1, line.Description, line.Amount, string(line.Type),
			line.ContainerID, string(line.Method()), types.ChargeDetailsColumn{Details: line.Details},
		); err != nil {
			return mapInvoiceWriteError(inv, fmt.Sprintf("failed to insert invoice line %d", i+1), err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit invoice", err)
	}
	return nil
}

func mapInvoiceWriteError(inv *types.Invoice, msg string, err error) error {
	switch {
	case isUniqueViolation(err):
		return types.NewAppError(types.ErrCodeConflictInvoiceExists,
			fmt.Sprintf("invoice %s already exists", inv.ID), err)
	case isForeignKeyViolation(err):
		return types.NewAppError(types.ErrCodeNotFoundClient,
			fmt.Sprintf("invoice references unknown client or container (client %s)", inv.ClientID), err)
	default:
		return types.NewAppError(types.ErrCodeInternalDB, msg, err)
	}
}

// GetInvoice returns a persisted invoice with its lines.
func (r *InvoiceRepository) GetInvoice(ctx context.Context, id string) (*types.Invoice, error) {
	var inv types.Invoice
	var status string
	err := r.db.QueryRow(ctx, `
		SELECT i.id::text, i.client_id::text, COALESCE(cl.name, ''), i.period_month, i.period_year,
		       i.total_amount, i.status, i.due_date, i.created_at
		FROM invoices i
		LEFT JOIN clients cl ON cl.id = i.client_id
		WHERE i.id::text = $1`,
		id,
	).Scan(&inv.ID, &inv.ClientID, &inv.ClientName, &inv.PeriodMonth, &inv.PeriodYear,
		&inv.TotalAmount, &status, &inv.DueDate, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundInvoice, fmt.Sprintf("invoice %s not found", id), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get invoice", err)
	}
	inv.Status = types.InvoiceStatus(status)

	rows, err := r.db.Query(ctx, `
		SELECT l.description, l.amount, l.line_type, COALESCE(l.container_id::text, ''),
		       COALESCE(c.code, ''), l.details
		FROM invoice_lines l
		LEFT JOIN containers c ON c.id = l.container_id
		WHERE l.invoice_id::text = $1
		ORDER BY l.position`,
		id,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query invoice lines", err)
	}
	defer rows.Close()

	inv.Items = []types.InvoiceLine{}
	for rows.Next() {
		var line types.InvoiceLine
		var lineType string
		var details types.ChargeDetailsColumn
		if err := rows.Scan(&line.Description, &line.Amount, &lineType,
			&line.ContainerID, &line.ContainerCode, &details); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan invoice line", err)
		}
		line.Type = types.LineType(lineType)
		line.Details = details.Details
		inv.Items = append(inv.Items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating invoice lines", err)
	}
	return &inv, nil
}
