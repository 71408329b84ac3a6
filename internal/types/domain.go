package types

import (
	"strings"
	"time"
)

// ContainerStatus is the physical lifecycle state of a container in the yard.
type ContainerStatus string

const (
	ContainerStatusInTransit ContainerStatus = "in_transit"
	ContainerStatusStored    ContainerStatus = "stored"
	ContainerStatusReleasing ContainerStatus = "releasing"
	ContainerStatusEmpty     ContainerStatus = "empty"
)

// Container is one physical shipping container under management, as read
// from storage. Baseline metrics are captured when the container is
// registered and never change afterwards; they are the divisors for
// occupancy ratios.
type Container struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"`
	Status      ContainerStatus `json:"status"`
	ClientID    *string         `json:"client_id,omitempty"`
	ClientName  *string         `json:"client_name,omitempty"`
	BLReference *string         `json:"bl_reference,omitempty"`

	TotalVolumeM3    float64 `json:"total_volume_m3"`
	TotalNetWeightKg float64 `json:"total_net_weight_kg"`
	TotalQuantity    float64 `json:"total_quantity"`

	InitialCapacityM3  float64 `json:"initial_capacity_m3"`
	InitialNetWeightKg float64 `json:"initial_total_net_weight_kg"`
	InitialQuantity    float64 `json:"initial_quantity"`

	ArrivalDate      *time.Time `json:"arrival_date,omitempty"`
	StorageStartDate *time.Time `json:"storage_start_date,omitempty"`

	// BaseMonthlyCost is the container-type default unless an override was
	// set on the container itself.
	BaseMonthlyCost float64 `json:"base_monthly_cost"`
}

// HasClient reports whether the container is assigned to a consignee.
func (c Container) HasClient() bool {
	return c.ClientID != nil && strings.TrimSpace(*c.ClientID) != ""
}

// ClientDisplayName returns the client name, or the client id when no name
// was recorded.
func (c Container) ClientDisplayName() string {
	if c.ClientName != nil && *c.ClientName != "" {
		return *c.ClientName
	}
	if c.ClientID != nil {
		return *c.ClientID
	}
	return ""
}

// BillingStartDate is the date billing eligibility began: the storage-start
// date when recorded, otherwise the arrival date. Nil when neither is known.
func (c Container) BillingStartDate() *time.Time {
	if c.StorageStartDate != nil {
		return c.StorageStartDate
	}
	return c.ArrivalDate
}

// LineItem is one SKU entry within a container. Only the presence of volume
// and weight figures matters to billing.
type LineItem struct {
	ID          string   `json:"id"`
	ContainerID string   `json:"container_id"`
	SKU         string   `json:"sku"`
	Description string   `json:"description,omitempty"`
	Quantity    float64  `json:"quantity"`
	VolumeCBM   *float64 `json:"volume_cbm,omitempty"`
	WeightKg    *float64 `json:"weight_kg,omitempty"`
}

// ContainerView is the read projection of a container with its derived
// billing fields. Strategy and OccupancyRate are recomputed on every read.
type ContainerView struct {
	Container
	Strategy      BillingStrategy `json:"billing_strategy"`
	OccupancyRate int             `json:"occupancy_rate"`
	ItemCount     int             `json:"item_count"`
}

// ClientBillingProfile holds the invoicing contact data of a client.
type ClientBillingProfile struct {
	ClientID         string  `json:"client_id"`
	Name             string  `json:"name"`
	Email            *string `json:"email,omitempty"`
	StripeCustomerID *string `json:"stripe_customer_id,omitempty"`
}
