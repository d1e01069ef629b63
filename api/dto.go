/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request shapes are checked with go-playground/validator struct tags before
  anything reaches the coordinator. Field names in validation errors are the
  JSON names. Business rules (stock levels, ownership, deleted records) are
  left to the coordinator.

MONEY:
  Prices travel as decimal strings ("12.50") in both directions.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model
*/
package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/balance"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// VALIDATION
// =============================================================================

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// validateRequest runs the struct tags and converts the first failure into
// a ledger.ValidationError.
func validateRequest(req any) error {
	err := getValidator().Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ledger.ValidationError{Field: "body", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &ledger.ValidationError{Field: fe.Field(), Reason: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "numeric":
		return "must be a decimal number"
	case "required_without":
		return "required when " + strings.ToLower(fe.Param()) + " is not set"
	case "excluded_with":
		return "cannot be combined with " + strings.ToLower(fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}

func parsePrice(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ledger.ValidationError{Field: field, Reason: "must be a decimal number"}
	}
	return d, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

type CreateProductRequest struct {
	ID           string `json:"id" validate:"omitempty,max=64"`
	Name         string `json:"name" validate:"required,max=200"`
	UnitPrice    string `json:"unit_price" validate:"required,numeric"`
	InitialStock int64  `json:"initial_stock" validate:"gte=0"`
}

type UpdateProductRequest struct {
	Name      *string `json:"name" validate:"omitnil,min=1,max=200"`
	UnitPrice *string `json:"unit_price" validate:"omitnil,numeric"`
}

type ReceiveStockRequest struct {
	Quantity int64  `json:"quantity" validate:"gt=0"`
	Reason   string `json:"reason" validate:"max=500"`
}

type CreateResellerRequest struct {
	ID      string `json:"id" validate:"omitempty,max=64"`
	Name    string `json:"name" validate:"required,max=200"`
	Contact string `json:"contact" validate:"max=200"`
	Address string `json:"address" validate:"max=500"`
}

type UpdateResellerRequest struct {
	Name    *string `json:"name" validate:"omitnil,min=1,max=200"`
	Contact *string `json:"contact" validate:"omitnil,max=200"`
	Address *string `json:"address" validate:"omitnil,max=500"`
}

type AllocateRequest struct {
	ProductID  string `json:"product_id" validate:"required"`
	ResellerID string `json:"reseller_id" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"gt=0"`
}

type EditDeliveryRequest struct {
	NewQuantity int64 `json:"new_quantity" validate:"gt=0"`
}

type RecordSaleRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

// EditSaleRequest changes either the quantity or the product of a sale,
// never both in one call.
type EditSaleRequest struct {
	NewQuantity  *int64  `json:"new_quantity" validate:"required_without=NewProductID,excluded_with=NewProductID,omitnil,gt=0"`
	NewProductID *string `json:"new_product_id" validate:"required_without=NewQuantity,omitnil,min=1"`
}

// ReturnStockRequest may omit reseller_id when a reseller returns its own
// stock.
type ReturnStockRequest struct {
	ResellerID string `json:"reseller_id"`
	ProductID  string `json:"product_id" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"gt=0"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ProductDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Status       string          `json:"status"`
	CentralStock int64           `json:"central_stock"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toProductDTO(p ledger.Product) ProductDTO {
	return ProductDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		UnitPrice:    p.UnitPrice,
		Status:       string(p.Status),
		CentralStock: p.CentralStock,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type ResellerDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact,omitempty"`
	Address   string    `json:"address,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toResellerDTO(r ledger.Reseller) ResellerDTO {
	return ResellerDTO{
		ID:        string(r.ID),
		Name:      r.Name,
		Contact:   r.Contact,
		Address:   r.Address,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// EntryDTO is one ledger row.
type EntryDTO struct {
	ID          string           `json:"id"`
	Seq         int64            `json:"seq"`
	Kind        string           `json:"kind"`
	Corrects    string           `json:"corrects,omitempty"`
	ProductID   string           `json:"product_id,omitempty"`
	ResellerID  string           `json:"reseller_id,omitempty"`
	Quantity    int64            `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	TotalPrice  *decimal.Decimal `json:"total_price,omitempty"`
	RefersTo    string           `json:"refers_to,omitempty"`
	OriginID    string           `json:"origin_id"`
	Status      string           `json:"status"`
	EffectiveAt time.Time        `json:"effective_at"`
	CreatedAt   time.Time        `json:"created_at"`
	ActorID     string           `json:"actor_id"`
	ActorRole   string           `json:"actor_role"`
	Reason      string           `json:"reason,omitempty"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	dto := EntryDTO{
		ID:          string(e.ID),
		Seq:         e.Seq,
		Kind:        string(e.Kind),
		Corrects:    string(e.Corrects),
		ProductID:   string(e.ProductID),
		ResellerID:  string(e.ResellerID),
		Quantity:    e.Quantity,
		RefersTo:    string(e.RefersTo),
		OriginID:    string(e.Origin()),
		Status:      string(e.Status),
		EffectiveAt: e.EffectiveAt,
		CreatedAt:   e.CreatedAt,
		ActorID:     e.ActorID,
		ActorRole:   string(e.ActorRole),
		Reason:      e.Reason,
	}
	if e.EffectKind() == ledger.KindSale {
		unit, total := e.UnitPrice, e.TotalPrice
		dto.UnitPrice, dto.TotalPrice = &unit, &total
	}
	return dto
}

func toEntryDTOs(es []ledger.Entry) []EntryDTO {
	out := make([]EntryDTO, len(es))
	for i, e := range es {
		out[i] = toEntryDTO(e)
	}
	return out
}

type SaleLineDTO struct {
	SaleID      string          `json:"sale_id"`
	EntryID     string          `json:"entry_id"`
	ResellerID  string          `json:"reseller_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity_sold"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	SoldAt      time.Time       `json:"date"`
}

func toSaleLineDTOs(lines []inventory.SaleLine) []SaleLineDTO {
	out := make([]SaleLineDTO, len(lines))
	for i, l := range lines {
		out[i] = SaleLineDTO{
			SaleID:      string(l.SaleID),
			EntryID:     string(l.EntryID),
			ResellerID:  string(l.ResellerID),
			ProductID:   string(l.ProductID),
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.TotalPrice,
			SoldAt:      l.SoldAt,
		}
	}
	return out
}

type SalesReportDTO struct {
	ResellerID   string          `json:"reseller_id"`
	TotalSales   int64           `json:"total_sales"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	SalesDetails []SaleLineDTO   `json:"sales_details"`
}

type DeliveryLineDTO struct {
	DeliveryID  string    `json:"delivery_id"`
	EntryID     string    `json:"entry_id"`
	Quantity    int64     `json:"quantity"`
	DeliveredAt time.Time `json:"date"`
}

type ProductDeliveriesDTO struct {
	ProductName     string            `json:"product_name"`
	DeliveryDetails []DeliveryLineDTO `json:"delivery_details"`
	Sold            int64             `json:"sold"`
	CurrentStock    int64             `json:"current_stock"`
}

func toDeliveriesDTO(in map[ledger.ProductID]inventory.ProductDeliveries) map[string]ProductDeliveriesDTO {
	out := make(map[string]ProductDeliveriesDTO, len(in))
	for p, pd := range in {
		lines := make([]DeliveryLineDTO, len(pd.DeliveryDetails))
		for i, d := range pd.DeliveryDetails {
			lines[i] = DeliveryLineDTO{
				DeliveryID:  string(d.DeliveryID),
				EntryID:     string(d.EntryID),
				Quantity:    d.Quantity,
				DeliveredAt: d.DeliveredAt,
			}
		}
		out[string(p)] = ProductDeliveriesDTO{
			ProductName:     pd.ProductName,
			DeliveryDetails: lines,
			Sold:            pd.Sold,
			CurrentStock:    pd.CurrentStock,
		}
	}
	return out
}

type ResellerSalesDTO struct {
	ResellerName string          `json:"reseller_name"`
	SalesDetails []SaleLineDTO   `json:"sales_details"`
	TotalSales   int64           `json:"total_sales"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

type ProductSalesDTO struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int64           `json:"quantity_sold"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type ResellerSummaryDTO struct {
	ResellerID   string          `json:"reseller_id"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	TotalSales   int64           `json:"total_sales"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	HeldStock    int64           `json:"held_stock"`
}

type DashboardDTO struct {
	ActiveProducts     int             `json:"active_products"`
	ActiveResellers    int             `json:"active_resellers"`
	ResellersWithSales int             `json:"resellers_with_sales"`
	CentralStock       int64           `json:"central_stock"`
	HeldStock          int64           `json:"held_stock"`
	UnitsSold          int64           `json:"units_sold"`
	Revenue            decimal.Decimal `json:"revenue"`
}

type StockLineDTO struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
}

type DriftDTO struct {
	Key          string `json:"key"`
	Materialized int64  `json:"materialized"`
	Replayed     int64  `json:"replayed"`
}

type ReconcileRunDTO struct {
	Trigger    string     `json:"trigger"`
	CheckedAt  time.Time  `json:"checked_at"`
	Keys       int        `json:"keys"`
	Clean      bool       `json:"clean"`
	Repaired   bool       `json:"repaired"`
	ViewDrift  []DriftDTO `json:"view_drift"`
	StoreDrift []DriftDTO `json:"store_drift"`
	Error      string     `json:"error,omitempty"`
}

type ReconcileRunsDTO struct {
	Runs      []ReconcileRunDTO `json:"runs"`
	NextRunAt *time.Time        `json:"next_run_at,omitempty"`
}

func toDriftDTOs(ds []balance.Drift) []DriftDTO {
	out := make([]DriftDTO, len(ds))
	for i, d := range ds {
		out[i] = DriftDTO{Key: d.Key.String(), Materialized: d.Materialized, Replayed: d.Replayed}
	}
	return out
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`

	// Set for insufficient stock errors.
	Available *int64 `json:"available,omitempty"`
	Requested *int64 `json:"requested,omitempty"`
}
