package service

import (
	"context"
	"io"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/export"
	"stallmanager/backend/internal/store"
)

// GetSalesForStall returns the stall's sales, newest first, with the total
// raised summed from the same rows.
func (s *Service) GetSalesForStall(ctx context.Context, stallID string) (domain.StallSalesResponse, error) {
	if err := authorizeStall(ctx, stallID); err != nil {
		return domain.StallSalesResponse{}, err
	}
	if _, err := s.repo.GetStall(ctx, stallID); err != nil {
		return domain.StallSalesResponse{}, err
	}

	sales, err := s.repo.ListSales(ctx, store.SaleFilter{StallID: stallID})
	if err != nil {
		return domain.StallSalesResponse{}, err
	}
	slices.SortStableFunc(sales, func(a, b domain.Sale) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	return domain.StallSalesResponse{
		StallID:     stallID,
		TotalRaised: sumTotals(sales),
		Sales:       sales,
	}, nil
}

// GetAllSales returns every sale across stalls, oldest first.
func (s *Service) GetAllSales(ctx context.Context) ([]domain.Sale, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{})
	if err != nil {
		return nil, err
	}
	sortOldestFirst(sales)
	return sales, nil
}

// SalesSummary totals the ledger per stall. Nothing is read from a stored
// counter; every call sums the sale rows again.
func (s *Service) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.SalesSummary{}, err
	}
	stalls, err := s.repo.ListStalls(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{})
	if err != nil {
		return domain.SalesSummary{}, err
	}

	type tally struct {
		total decimal.Decimal
		count int
	}
	byStall := make(map[string]*tally, len(stalls))
	for _, sale := range sales {
		t, ok := byStall[sale.StallID]
		if !ok {
			t = &tally{total: decimal.Zero}
			byStall[sale.StallID] = t
		}
		t.total = t.total.Add(sale.TotalPrice)
		t.count++
	}

	summary := domain.SalesSummary{
		Stalls:      make([]domain.StallSummary, 0, len(stalls)),
		TotalRaised: sumTotals(sales),
		SaleCount:   len(sales),
	}
	for _, stall := range stalls {
		row := domain.StallSummary{StallID: stall.ID, Name: stall.Name, TotalRaised: decimal.Zero}
		if t, ok := byStall[stall.ID]; ok {
			row.TotalRaised = t.total
			row.SaleCount = t.count
		}
		summary.Stalls = append(summary.Stalls, row)
	}
	return summary, nil
}

// ExportSalesCSV writes the full ledger as CSV, resolving names against the
// stalls as they currently are.
func (s *Service) ExportSalesCSV(ctx context.Context, w io.Writer) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	stalls, err := s.repo.ListStalls(ctx)
	if err != nil {
		return err
	}
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{})
	if err != nil {
		return err
	}

	return export.SalesCSV(w, stalls, sales, export.Options{
		CurrencySymbol: s.settings.CurrencySymbol,
		Location:       s.settings.ExportLocation,
	})
}

func sortOldestFirst(sales []domain.Sale) {
	slices.SortStableFunc(sales, func(a, b domain.Sale) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
