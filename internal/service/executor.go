package service

import (
	"context"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/validator"
	"stallmanager/backend/internal/xid"
)

// RecordTransaction sells every item against the stall's current stock in one
// atomic unit. Either all lines are recorded and stock is decremented, or
// nothing changes and the error says why.
func (s *Service) RecordTransaction(ctx context.Context, stallID string, req domain.RecordTransactionRequest) (domain.TransactionReceipt, error) {
	stallID = strings.TrimSpace(stallID)
	if stallID == "" {
		return domain.TransactionReceipt{}, &store.ValidationError{Field: "stall_id", Reason: "required"}
	}
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	req.Items = slices.Clone(req.Items)
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
	}
	if err := validator.ValidateStruct(req); err != nil {
		return domain.TransactionReceipt{}, err
	}
	if err := authorizeStall(ctx, stallID); err != nil {
		return domain.TransactionReceipt{}, err
	}

	return s.record(ctx, stallID, req.Items, req.PaymentMethod)
}

// RecordSale is the single-item path. The stored sale carries no payment method.
func (s *Service) RecordSale(ctx context.Context, stallID string, req domain.RecordSaleRequest) (domain.TransactionReceipt, error) {
	stallID = strings.TrimSpace(stallID)
	if stallID == "" {
		return domain.TransactionReceipt{}, &store.ValidationError{Field: "stall_id", Reason: "required"}
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := validator.ValidateStruct(req); err != nil {
		return domain.TransactionReceipt{}, err
	}
	if err := authorizeStall(ctx, stallID); err != nil {
		return domain.TransactionReceipt{}, err
	}

	return s.record(ctx, stallID, []domain.TransactionItem{{ProductID: req.ProductID, Quantity: req.Quantity}}, "")
}

func (s *Service) record(ctx context.Context, stallID string, items []domain.TransactionItem, paymentMethod string) (domain.TransactionReceipt, error) {
	txID := xid.New("txn")

	var receipt domain.TransactionReceipt
	err := s.runInTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		stall, err := tx.GetStall(ctx, stallID)
		if err != nil {
			return err
		}

		at := tx.Now()
		staged, err := applySaleLines(&stall, items, paymentMethod, txID, at)
		if err != nil {
			return err
		}
		if err := tx.PutStall(ctx, stall); err != nil {
			return err
		}
		inserted, err := tx.InsertSales(ctx, staged)
		if err != nil {
			return err
		}

		receipt = domain.TransactionReceipt{
			TransactionID: txID,
			StallID:       stallID,
			PaymentMethod: paymentMethod,
			Timestamp:     at,
			Total:         sumTotals(inserted),
			Sales:         inserted,
		}
		return nil
	})
	if err != nil {
		return domain.TransactionReceipt{}, err
	}

	log.Printf("[service] recorded transaction %s stall=%s lines=%d total=%s", txID, stallID, len(receipt.Sales), receipt.Total.StringFixed(2))
	return receipt, nil
}

// applySaleLines decrements tracked stock on stall in place and returns one
// staged sale per line. Lines are applied in order, so a product listed twice
// is checked against the stock left by the earlier line. Prices come from the
// stall, never from the caller.
func applySaleLines(stall *domain.Stall, items []domain.TransactionItem, paymentMethod string, txID string, at time.Time) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, len(items))
	for _, item := range items {
		idx := stall.ProductIndex(item.ProductID)
		if idx < 0 {
			return nil, store.ProductNotFound(item.ProductID)
		}
		product := &stall.Products[idx]
		total := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		if total.GreaterThanOrEqual(maxLineTotal) {
			return nil, &store.ValidationError{Field: "quantity", Reason: "line total is too large"}
		}

		if product.TracksStock() {
			available := *product.StockCount
			if available < item.Quantity {
				return nil, &store.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Available:   available,
					Requested:   item.Quantity,
				}
			}
			remaining := available - item.Quantity
			product.StockCount = &remaining
		}

		sales = append(sales, domain.Sale{
			StallID:       stall.ID,
			ProductID:     product.ID,
			TransactionID: txID,
			Quantity:      item.Quantity,
			PricePerItem:  product.Price,
			TotalPrice:    total,
			PaymentMethod: paymentMethod,
			Timestamp:     at,
		})
	}
	return sales, nil
}

func sumTotals(sales []domain.Sale) decimal.Decimal {
	total := decimal.Zero
	for _, sale := range sales {
		total = total.Add(sale.TotalPrice)
	}
	return total
}
