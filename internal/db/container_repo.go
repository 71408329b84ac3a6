package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stowage/internal/types"
)

// ContainerRepository reads containers and their line items. It is the
// storage side of billing.ContainerSource.
type ContainerRepository struct {
	db DBTX
}

// NewContainerRepository creates a ContainerRepository.
func NewContainerRepository(db DBTX) *ContainerRepository {
	return &ContainerRepository{db: db}
}

// containerColumns resolves the base monthly cost as the container override
// falling back to the container-type default.
const containerColumns = `
	c.id::text, c.code, c.status, c.client_id::text, cl.name, c.bl_reference,
	c.total_volume_m3, c.total_net_weight_kg, c.total_quantity,
	c.initial_capacity_m3, c.initial_total_net_weight_kg, c.initial_quantity,
	c.arrival_date, c.storage_start_date,
	COALESCE(c.base_monthly_cost_override, ct.base_monthly_cost, 0)`

const containerFrom = `
	FROM containers c
	LEFT JOIN container_types ct ON ct.id = c.container_type_id
	LEFT JOIN clients cl ON cl.id = c.client_id`

func scanContainer(row pgx.Row) (types.Container, error) {
	var c types.Container
	err := row.Scan(
		&c.ID, &c.Code, &c.Status, &c.ClientID, &c.ClientName, &c.BLReference,
		&c.TotalVolumeM3, &c.TotalNetWeightKg, &c.TotalQuantity,
		&c.InitialCapacityM3, &c.InitialNetWeightKg, &c.InitialQuantity,
		&c.ArrivalDate, &c.StorageStartDate,
		&c.BaseMonthlyCost,
	)
	return c, err
}

// FetchEligibleContainers returns every non-empty, non-deleted container
// ordered by code.
func (r *ContainerRepository) FetchEligibleContainers(ctx context.Context) ([]types.Container, error) {
	query := `SELECT` + containerColumns + containerFrom + `
		WHERE c.status <> $1 AND c.deleted_at IS NULL
		ORDER BY c.code`

	rows, err := r.db.Query(ctx, query, string(types.ContainerStatusEmpty))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query eligible containers", err)
	}
	defer rows.Close()

	var out []types.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan container row", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating container rows", err)
	}
	return out, nil
}

// GetContainer returns one container by id.
func (r *ContainerRepository) GetContainer(ctx context.Context, id string) (*types.Container, error) {
	query := `SELECT` + containerColumns + containerFrom + `
		WHERE c.id::text = $1 AND c.deleted_at IS NULL`

	c, err := scanContainer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundContainer, fmt.Sprintf("container %s not found", id), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get container", err)
	}
	return &c, nil
}

// FetchLineItems returns the live line items of a container in entry order.
func (r *ContainerRepository) FetchLineItems(ctx context.Context, containerID string) ([]types.LineItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id::text, container_id::text, sku, COALESCE(description, ''),
		       quantity, volume_cbm, weight_kg
		FROM container_items
		WHERE container_id::text = $1 AND deleted_at IS NULL
		ORDER BY created_at, id`,
		containerID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query line items", err)
	}
	defer rows.Close()

	items := []types.LineItem{}
	for rows.Next() {
		var it types.LineItem
		if err := rows.Scan(&it.ID, &it.ContainerID, &it.SKU, &it.Description,
			&it.Quantity, &it.VolumeCBM, &it.WeightKg); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan line item row", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating line item rows", err)
	}
	return items, nil
}
