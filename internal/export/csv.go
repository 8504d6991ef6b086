package export

import (
	"bufio"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"stallmanager/backend/internal/domain"
)

const (
	DefaultTimeLayout = "02/01/2006, 15:04:05"
	unknownStall      = "Unknown Stall"
	unknownProduct    = "Unknown Product"
)

type Options struct {
	CurrencySymbol string
	Location       *time.Location
	TimeLayout     string
}

// SalesCSV writes one row per sale, oldest first. Stall and product names are
// resolved against stalls as they are now, not as they were when sold.
func SalesCSV(w io.Writer, stalls []domain.Stall, sales []domain.Sale, opts Options) error {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TimeLayout == "" {
		opts.TimeLayout = DefaultTimeLayout
	}

	byID := make(map[string]domain.Stall, len(stalls))
	for _, stall := range stalls {
		byID[stall.ID] = stall
	}

	ordered := slices.Clone(sales)
	slices.SortStableFunc(ordered, func(a, b domain.Sale) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	bw := bufio.NewWriter(w)
	symbol := opts.CurrencySymbol
	header := "Timestamp,Stall Name,Product Name,Quantity,Price Per Item (" + symbol + "),Total Price (" + symbol + ")"
	if _, err := bw.WriteString(header + "\r\n"); err != nil {
		return err
	}

	for _, sale := range ordered {
		stallName, productName := unknownStall, unknownProduct
		if stall, ok := byID[sale.StallID]; ok {
			stallName = stall.Name
			if idx := stall.ProductIndex(sale.ProductID); idx >= 0 {
				productName = stall.Products[idx].Name
			}
		}

		timestamp := "N/A"
		if !sale.Timestamp.IsZero() {
			timestamp = sale.Timestamp.In(opts.Location).Format(opts.TimeLayout)
		}
		quantity := sale.Quantity
		if quantity < 1 {
			quantity = 1
		}

		row := []string{
			quote(timestamp),
			quote(stallName),
			quote(productName),
			strconv.Itoa(quantity),
			sale.PricePerItem.StringFixed(2),
			sale.TotalPrice.StringFixed(2),
		}
		if _, err := bw.WriteString(strings.Join(row, ",") + "\r\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
