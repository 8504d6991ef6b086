package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stallmanager/backend/internal/domain"
)

func TestSalesCSV(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	stalls := []domain.Stall{{
		ID:   "stall_1",
		Name: `Mrs "B" Cakes`,
		Products: []domain.Product{
			{ID: "prd_1", Name: "Brownie, large", Price: decimal.RequireFromString("2")},
		},
	}}
	later := time.Date(2026, 7, 4, 14, 5, 9, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	sales := []domain.Sale{
		{StallID: "stall_1", ProductID: "prd_1", Quantity: 3, PricePerItem: decimal.RequireFromString("2"), TotalPrice: decimal.RequireFromString("6"), Timestamp: later},
		{StallID: "stall_gone", ProductID: "prd_x", Quantity: 1, PricePerItem: decimal.RequireFromString("0.5"), TotalPrice: decimal.RequireFromString("0.5"), Timestamp: earlier},
		{StallID: "stall_1", ProductID: "prd_removed", Quantity: 0, PricePerItem: decimal.RequireFromString("1.255"), TotalPrice: decimal.RequireFromString("1.255")},
	}

	var buf bytes.Buffer
	if err := SalesCSV(&buf, stalls, sales, Options{CurrencySymbol: "£", Location: london}); err != nil {
		t.Fatalf("export: %v", err)
	}

	want := strings.Join([]string{
		"Timestamp,Stall Name,Product Name,Quantity,Price Per Item (£),Total Price (£)",
		`"N/A","Mrs ""B"" Cakes","Unknown Product",1,1.26,1.26`,
		`"04/07/2026, 14:05:09","Unknown Stall","Unknown Product",1,0.50,0.50`,
		`"04/07/2026, 15:05:09","Mrs ""B"" Cakes","Brownie, large",3,2.00,6.00`,
		"",
	}, "\r\n")
	if got := buf.String(); got != want {
		t.Fatalf("unexpected csv:\n%q\nwant:\n%q", got, want)
	}
}

func TestSalesCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := SalesCSV(&buf, nil, nil, Options{CurrencySymbol: "$"}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if buf.String() != "Timestamp,Stall Name,Product Name,Quantity,Price Per Item ($),Total Price ($)\r\n" {
		t.Fatalf("unexpected header %q", buf.String())
	}
}
