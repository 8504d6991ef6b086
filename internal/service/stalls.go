package service

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/validator"
	"stallmanager/backend/internal/xid"
)

func (s *Service) CreateStall(ctx context.Context, req domain.StallCreateRequest) (domain.Stall, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Stall{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validator.ValidateStruct(req); err != nil {
		return domain.Stall{}, err
	}

	created, err := s.repo.CreateStall(ctx, domain.Stall{Name: req.Name, Products: []domain.Product{}})
	if err != nil {
		return domain.Stall{}, err
	}
	log.Printf("[service] stall %s created name=%q", created.ID, created.Name)
	return *created, nil
}

func (s *Service) GetStall(ctx context.Context, stallID string) (domain.Stall, error) {
	if err := authorizeStall(ctx, stallID); err != nil {
		return domain.Stall{}, err
	}
	stall, err := s.repo.GetStall(ctx, stallID)
	if err != nil {
		return domain.Stall{}, err
	}
	return *stall, nil
}

func (s *Service) ListStalls(ctx context.Context) ([]domain.Stall, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListStalls(ctx)
}

// AddProduct appends without reading the product list, so it never contends
// with sales on the same stall.
func (s *Service) AddProduct(ctx context.Context, stallID string, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validator.ValidateStruct(req); err != nil {
		return domain.Product{}, err
	}
	if req.Price == nil {
		return domain.Product{}, &store.ValidationError{Field: "price", Reason: "required"}
	}
	if err := validatePrice(*req.Price); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:         xid.New("prd"),
		Name:       req.Name,
		Price:      *req.Price,
		StockCount: req.StockCount,
	}
	if err := s.repo.AppendProduct(ctx, stallID, product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Service) UpdateStall(ctx context.Context, stallID string, req domain.StallUpdateRequest) (domain.Stall, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Stall{}, err
	}
	if req.Name == nil {
		return domain.Stall{}, &store.ValidationError{Field: "name", Reason: "no fields to update"}
	}
	name := strings.TrimSpace(*req.Name)
	req.Name = &name
	if name == "" {
		return domain.Stall{}, &store.ValidationError{Field: "name", Reason: "required"}
	}
	if err := validator.ValidateStruct(req); err != nil {
		return domain.Stall{}, err
	}

	if err := s.repo.SetStallName(ctx, stallID, name); err != nil {
		return domain.Stall{}, err
	}
	updated, err := s.repo.GetStall(ctx, stallID)
	if err != nil {
		return domain.Stall{}, err
	}
	return *updated, nil
}

// SetSellerPIN assigns a four digit PIN. An empty PIN removes seller access.
func (s *Service) SetSellerPIN(ctx context.Context, stallID string, req domain.SellerPINRequest) (domain.Stall, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Stall{}, err
	}
	req.PIN = strings.TrimSpace(req.PIN)
	if err := validator.ValidateStruct(req); err != nil {
		return domain.Stall{}, err
	}

	current, err := s.repo.GetStall(ctx, stallID)
	if err != nil {
		return domain.Stall{}, err
	}
	if err := s.repo.SetSellerPIN(ctx, stallID, req.PIN); err != nil {
		return domain.Stall{}, err
	}
	stale := []string{req.PIN}
	if current.SellerPIN != nil {
		stale = append(stale, *current.SellerPIN)
	}
	s.forgetPINs(ctx, stale...)

	updated, err := s.repo.GetStall(ctx, stallID)
	if err != nil {
		return domain.Stall{}, err
	}
	return *updated, nil
}

// FindStallByPIN resolves a seller PIN to its stall. Cached hits are checked
// against the stall before they are trusted.
func (s *Service) FindStallByPIN(ctx context.Context, pin string) (domain.Stall, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return domain.Stall{}, &store.ValidationError{Field: "pin", Reason: "required"}
	}
	if err := validator.ValidateStruct(domain.SellerPINRequest{PIN: pin}); err != nil {
		return domain.Stall{}, err
	}

	stallID, hit, err := s.pins.Get(ctx, pin)
	if err != nil {
		log.Printf("[service] WARN: pin cache read failed: %v", err)
	}
	if hit {
		stall, err := s.repo.GetStall(ctx, stallID)
		switch {
		case err == nil && stall.SellerPIN != nil && *stall.SellerPIN == pin:
			return *stall, nil
		case err == nil || errors.Is(err, store.ErrNotFound):
			s.forgetPINs(ctx, pin)
		default:
			return domain.Stall{}, err
		}
	}

	stall, err := s.repo.FindStallByPIN(ctx, pin)
	if err != nil {
		return domain.Stall{}, err
	}
	if err := s.pins.Set(ctx, pin, stall.ID, s.settings.PINCacheTTL); err != nil {
		log.Printf("[service] WARN: pin cache write failed: %v", err)
	}
	return *stall, nil
}

func (s *Service) forgetPINs(ctx context.Context, pins ...string) {
	if err := s.pins.Delete(ctx, pins...); err != nil {
		log.Printf("[service] WARN: pin cache invalidation failed: %v", err)
	}
}

// DeleteStall removes a stall with no sales. The check and the delete commit
// together, so a sale cannot slip in between.
func (s *Service) DeleteStall(ctx context.Context, stallID string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	var deleted domain.Stall
	err := s.runInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		stall, err := tx.GetStall(ctx, stallID)
		if err != nil {
			return err
		}
		count, err := tx.CountSales(ctx, store.SaleFilter{StallID: stallID})
		if err != nil {
			return err
		}
		if count > 0 {
			return &store.ConflictError{Entity: "stall", ID: stallID, Name: stall.Name, DependentSales: count}
		}
		deleted = stall
		return tx.DeleteStall(ctx, stallID)
	})
	if err != nil {
		return err
	}

	if deleted.SellerPIN != nil {
		s.forgetPINs(ctx, *deleted.SellerPIN)
	}
	log.Printf("[service] stall %s deleted name=%q", stallID, deleted.Name)
	return nil
}

func (s *Service) UpdateProductStock(ctx context.Context, stallID string, productID string, req domain.StockUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := validator.ValidateStruct(req); err != nil {
		return domain.Product{}, err
	}
	stock := *req.StockCount

	return s.editProduct(ctx, stallID, productID, func(product *domain.Product) {
		product.StockCount = &stock
	})
}

// UpdateProduct merges the given fields into the product. ClearStock switches
// the product to untracked stock.
func (s *Service) UpdateProduct(ctx context.Context, stallID string, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if req.Name == nil && req.Price == nil && req.StockCount == nil && !req.ClearStock {
		return domain.Product{}, &store.ValidationError{Field: "product", Reason: "no fields to update"}
	}
	if req.ClearStock && req.StockCount != nil {
		return domain.Product{}, &store.ValidationError{Field: "stock_count", Reason: "cannot be combined with clear_stock"}
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, &store.ValidationError{Field: "name", Reason: "required"}
		}
		req.Name = &name
	}
	if err := validator.ValidateStruct(req); err != nil {
		return domain.Product{}, err
	}
	if req.Price != nil {
		if err := validatePrice(*req.Price); err != nil {
			return domain.Product{}, err
		}
	}

	return s.editProduct(ctx, stallID, productID, func(product *domain.Product) {
		if req.Name != nil {
			product.Name = *req.Name
		}
		if req.Price != nil {
			product.Price = *req.Price
		}
		if req.StockCount != nil {
			stock := *req.StockCount
			product.StockCount = &stock
		}
		if req.ClearStock {
			product.StockCount = nil
		}
	})
}

// editProduct is the read-modify-write path for a single product of a stall.
func (s *Service) editProduct(ctx context.Context, stallID string, productID string, apply func(*domain.Product)) (domain.Product, error) {
	var updated domain.Product
	err := s.runInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		stall, err := tx.GetStall(ctx, stallID)
		if err != nil {
			return err
		}
		idx := stall.ProductIndex(productID)
		if idx < 0 {
			return store.ProductNotFound(productID)
		}
		apply(&stall.Products[idx])
		updated = stall.Products[idx]
		return tx.PutStall(ctx, stall)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

func (s *Service) CheckProductHasSales(ctx context.Context, stallID string, productID string) (bool, error) {
	if err := requireAdmin(ctx); err != nil {
		return false, err
	}
	if strings.TrimSpace(stallID) == "" || strings.TrimSpace(productID) == "" {
		return false, &store.ValidationError{Field: "product_id", Reason: "stall and product required"}
	}
	count, err := s.repo.CountSales(ctx, store.SaleFilter{StallID: stallID, ProductID: productID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RemoveProduct drops a product that has never been sold.
func (s *Service) RemoveProduct(ctx context.Context, stallID string, productID string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	return s.runInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		stall, err := tx.GetStall(ctx, stallID)
		if err != nil {
			return err
		}
		idx := stall.ProductIndex(productID)
		if idx < 0 {
			return store.ProductNotFound(productID)
		}
		count, err := tx.CountSales(ctx, store.SaleFilter{StallID: stallID, ProductID: productID})
		if err != nil {
			return err
		}
		if count > 0 {
			return &store.ConflictError{Entity: "product", ID: productID, Name: stall.Products[idx].Name, DependentSales: count}
		}
		stall.Products = slices.Delete(stall.Products, idx, idx+1)
		return tx.PutStall(ctx, stall)
	})
}

// Money columns hold two decimal places: prices below 10^10 and line
// totals below 10^12.
var (
	maxPrice     = decimal.New(1, 10)
	maxLineTotal = decimal.New(1, 12)
)

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return &store.ValidationError{Field: "price", Reason: "must be >= 0"}
	}
	if !price.Equal(price.Round(2)) {
		return &store.ValidationError{Field: "price", Reason: "must have at most 2 decimal places"}
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return &store.ValidationError{Field: "price", Reason: "must be less than 10000000000"}
	}
	return nil
}
