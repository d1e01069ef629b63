package inventory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// PRODUCTS
// =============================================================================

type NewProduct struct {
	ID           ledger.ProductID // optional, generated when empty
	Name         string
	UnitPrice    decimal.Decimal
	InitialStock int64
}

// ProductUpdate changes only the fields that are set.
type ProductUpdate struct {
	Name      *string
	UnitPrice *decimal.Decimal
}

// CreateProduct registers a product. Initial stock is recorded as a receipt
// so that central stock stays reproducible from the ledger.
func (c *Coordinator) CreateProduct(ctx context.Context, actor Actor, np NewProduct) (ledger.Product, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Product{}, err
	}
	np.Name = strings.TrimSpace(np.Name)
	if np.Name == "" {
		return ledger.Product{}, &ledger.ValidationError{Field: "name", Reason: "required"}
	}
	if np.UnitPrice.IsNegative() {
		return ledger.Product{}, &ledger.ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}
	if np.InitialStock < 0 {
		return ledger.Product{}, &ledger.ValidationError{Field: "initial_stock", Reason: "must not be negative"}
	}
	if np.ID == "" {
		np.ID = ledger.ProductID(ledger.NewEntryID())
	}

	scope := LockScope{Products: []ledger.ProductID{np.ID}}
	return locked(ctx, c, "create_product", scope, func(now time.Time) (ledger.Product, error) {
		if _, err := c.store.GetProduct(ctx, np.ID); err == nil {
			return ledger.Product{}, &ledger.ValidationError{Field: "id", Reason: "product " + string(np.ID) + " already exists"}
		} else if !isNotFound(err) {
			return ledger.Product{}, err
		}

		p := ledger.Product{ID: np.ID, Name: np.Name, UnitPrice: np.UnitPrice, Status: ledger.StatusActive}
		ch := change{registry: func(tx ledger.Tx) error { return tx.SaveProduct(ctx, p) }}
		if np.InitialStock > 0 {
			e := newEntry(ledger.KindReceipt, actor, now)
			e.ProductID = p.ID
			e.Quantity = np.InitialStock
			e.Reason = "initial stock"
			ch.entries = []ledger.Entry{e}
			ch.deltas = [][]ledger.Delta{e.Deltas()}
		}
		if _, err := c.commit(ctx, ch); err != nil {
			return ledger.Product{}, err
		}
		return c.Product(ctx, p.ID)
	})
}

// UpdateProduct changes name and/or price. Sales already recorded keep the
// price they captured.
func (c *Coordinator) UpdateProduct(ctx context.Context, actor Actor, id ledger.ProductID, upd ProductUpdate) (ledger.Product, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Product{}, err
	}
	if err := checkID("product_id", string(id)); err != nil {
		return ledger.Product{}, err
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return ledger.Product{}, &ledger.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if upd.UnitPrice != nil && upd.UnitPrice.IsNegative() {
		return ledger.Product{}, &ledger.ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}

	// Sales read the price under a shared product lock.
	scope := LockScope{Products: []ledger.ProductID{id}}
	return locked(ctx, c, "update_product", scope, func(time.Time) (ledger.Product, error) {
		p, err := c.activeProduct(ctx, id)
		if err != nil {
			return ledger.Product{}, err
		}
		if upd.Name != nil {
			p.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.UnitPrice != nil {
			p.UnitPrice = *upd.UnitPrice
		}
		if err := c.store.SaveProduct(ctx, p); err != nil {
			return ledger.Product{}, err
		}
		return c.Product(ctx, id)
	})
}

// DeleteProduct soft-deletes a product. Its stock stays where it is.
func (c *Coordinator) DeleteProduct(ctx context.Context, actor Actor, id ledger.ProductID) (ledger.Product, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Product{}, err
	}
	if err := checkID("product_id", string(id)); err != nil {
		return ledger.Product{}, err
	}
	scope := LockScope{Products: []ledger.ProductID{id}}
	return locked(ctx, c, "delete_product", scope, func(time.Time) (ledger.Product, error) {
		p, err := c.store.GetProduct(ctx, id)
		if err != nil {
			return ledger.Product{}, err
		}
		if p.IsActive() {
			p.Status = ledger.StatusDeleted
			if err := c.store.SaveProduct(ctx, p); err != nil {
				return ledger.Product{}, err
			}
		}
		return c.Product(ctx, id)
	})
}

// Product returns a product with its central stock.
func (c *Coordinator) Product(ctx context.Context, id ledger.ProductID) (ledger.Product, error) {
	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		return p, err
	}
	view, err := c.readView(ctx)
	if err != nil {
		return p, err
	}
	p.CentralStock = view.Central(id)
	return p, nil
}

// Products lists products with their central stock, active ones only unless
// includeDeleted is set.
func (c *Coordinator) Products(ctx context.Context, includeDeleted bool) ([]ledger.Product, error) {
	all, err := c.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	view, err := c.readView(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Product, 0, len(all))
	for _, p := range all {
		if !includeDeleted && !p.IsActive() {
			continue
		}
		p.CentralStock = view.Central(p.ID)
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// RESELLERS
// =============================================================================

type NewReseller struct {
	ID      ledger.ResellerID // optional, generated when empty
	Name    string
	Contact string
	Address string
}

type ResellerUpdate struct {
	Name    *string
	Contact *string
	Address *string
}

func (c *Coordinator) CreateReseller(ctx context.Context, actor Actor, nr NewReseller) (ledger.Reseller, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Reseller{}, err
	}
	nr.Name = strings.TrimSpace(nr.Name)
	if nr.Name == "" {
		return ledger.Reseller{}, &ledger.ValidationError{Field: "name", Reason: "required"}
	}
	if nr.ID == "" {
		nr.ID = ledger.ResellerID(ledger.NewEntryID())
	}

	return locked(ctx, c, "create_reseller", LockScope{}, func(time.Time) (ledger.Reseller, error) {
		if _, err := c.store.GetReseller(ctx, nr.ID); err == nil {
			return ledger.Reseller{}, &ledger.ValidationError{Field: "id", Reason: "reseller " + string(nr.ID) + " already exists"}
		} else if !isNotFound(err) {
			return ledger.Reseller{}, err
		}
		r := ledger.Reseller{
			ID:      nr.ID,
			Name:    nr.Name,
			Contact: nr.Contact,
			Address: nr.Address,
			Status:  ledger.StatusActive,
		}
		if err := c.store.SaveReseller(ctx, r); err != nil {
			return ledger.Reseller{}, err
		}
		return c.store.GetReseller(ctx, r.ID)
	})
}

func (c *Coordinator) UpdateReseller(ctx context.Context, actor Actor, id ledger.ResellerID, upd ResellerUpdate) (ledger.Reseller, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Reseller{}, err
	}
	if err := checkID("reseller_id", string(id)); err != nil {
		return ledger.Reseller{}, err
	}
	if err := checkOwner(actor, id); err != nil {
		return ledger.Reseller{}, err
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return ledger.Reseller{}, &ledger.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	return locked(ctx, c, "update_reseller", LockScope{}, func(time.Time) (ledger.Reseller, error) {
		r, err := c.activeReseller(ctx, id)
		if err != nil {
			return ledger.Reseller{}, err
		}
		if upd.Name != nil {
			r.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Contact != nil {
			r.Contact = *upd.Contact
		}
		if upd.Address != nil {
			r.Address = *upd.Address
		}
		if err := c.store.SaveReseller(ctx, r); err != nil {
			return ledger.Reseller{}, err
		}
		return c.store.GetReseller(ctx, id)
	})
}

// DeleteReseller soft-deletes a reseller. Stock it holds can still be
// returned to the central pool.
func (c *Coordinator) DeleteReseller(ctx context.Context, actor Actor, id ledger.ResellerID) (ledger.Reseller, error) {
	if err := actor.Validate(); err != nil {
		return ledger.Reseller{}, err
	}
	if err := checkID("reseller_id", string(id)); err != nil {
		return ledger.Reseller{}, err
	}
	return locked(ctx, c, "delete_reseller", LockScope{}, func(time.Time) (ledger.Reseller, error) {
		r, err := c.store.GetReseller(ctx, id)
		if err != nil {
			return ledger.Reseller{}, err
		}
		if r.IsActive() {
			r.Status = ledger.StatusDeleted
			if err := c.store.SaveReseller(ctx, r); err != nil {
				return ledger.Reseller{}, err
			}
		}
		return c.store.GetReseller(ctx, id)
	})
}

func (c *Coordinator) Reseller(ctx context.Context, id ledger.ResellerID) (ledger.Reseller, error) {
	return c.store.GetReseller(ctx, id)
}

func (c *Coordinator) Resellers(ctx context.Context, includeDeleted bool) ([]ledger.Reseller, error) {
	all, err := c.store.ListResellers(ctx)
	if err != nil {
		return nil, err
	}
	if includeDeleted {
		return all, nil
	}
	return slices.DeleteFunc(all, func(r ledger.Reseller) bool { return !r.IsActive() }), nil
}

func isNotFound(err error) bool {
	return ledger.ErrorCode(err) == "not_found"
}
