package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/service"
	"stallmanager/backend/internal/store/memory"
)

// useService injects a service over a fresh memory store and restores the
// package state when the test ends.
func useService(t *testing.T) {
	t.Helper()
	stallService = service.New(memory.New(), nil, service.Settings{ExportLocation: time.UTC})
	t.Cleanup(func() {
		stallService = nil
		closers = nil
	})
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "stallctl %s", strings.Join(args, " "))
	return out
}

func TestStallProductSaleFlow(t *testing.T) {
	useService(t)

	var stall domain.Stall
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "stalls", "create", "--name", "Cake Stall")), &stall))
	assert.Equal(t, "Cake Stall", stall.Name)

	var brownie, tea domain.Product
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "products", "add", stall.ID, "--name", "Brownie", "--price", "2.00", "--stock", "3")), &brownie))
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "products", "add", stall.ID, "--name", "Tea", "--price", "1.50")), &tea))
	require.NotNil(t, brownie.StockCount)
	assert.Equal(t, 3, *brownie.StockCount)
	assert.Nil(t, tea.StockCount, "product added without --stock is untracked")

	var receipt domain.TransactionReceipt
	out := mustRun(t, "sell", stall.ID, "--item", brownie.ID+"=2", "--item", tea.ID, "--payment", "card")
	require.NoError(t, json.Unmarshal([]byte(out), &receipt))
	assert.Equal(t, "5.5", receipt.Total.String())
	assert.Len(t, receipt.Sales, 2)

	_, err := run(t, "sell", stall.ID, "--item", brownie.ID+"=2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Available: 1, Requested: 2")

	summary := mustRun(t, "summary")
	assert.Contains(t, summary, "Cake Stall | 2 sales | 5.50")
	assert.Contains(t, summary, "TOTAL | 2 sales | 5.50")

	var sales domain.StallSalesResponse
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "sales", stall.ID)), &sales))
	assert.Equal(t, "5.5", sales.TotalRaised.String())

	_, err = run(t, "stalls", "delete", stall.ID)
	require.Error(t, err, "stall with sales must not be deleted")
	assert.Contains(t, err.Error(), "existing sales records (2)")
}

func TestStallsListAndPIN(t *testing.T) {
	useService(t)

	var stall domain.Stall
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "stalls", "create", "--name", "Tombola")), &stall))

	assert.Contains(t, mustRun(t, "stalls", "list"), stall.ID+" | Tombola | 0 products | pin -")
	assert.Equal(t, "pin updated\n", mustRun(t, "stalls", "set-pin", stall.ID, "--pin", "4821"))
	assert.Contains(t, mustRun(t, "stalls", "list"), "pin set")

	var listed []domain.Stall
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "stalls", "list", "--output", "json")), &listed))
	require.Len(t, listed, 1)

	_, err := run(t, "stalls", "set-pin", stall.ID, "--pin", "12")
	require.Error(t, err)

	assert.Equal(t, "deleted\n", mustRun(t, "stalls", "delete", stall.ID))
}

func TestExportWritesCSVFile(t *testing.T) {
	useService(t)

	var stall domain.Stall
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "stalls", "create", "--name", "Books")), &stall))
	var book domain.Product
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "products", "add", stall.ID, "--name", "Paperback", "--price", "0.50")), &book))
	mustRun(t, "sell", stall.ID, "--item", book.ID+"=4")

	path := filepath.Join(t.TempDir(), "sales.csv")
	mustRun(t, "export", "--out", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Timestamp,Stall Name,Product Name,Quantity,Price Per Item (£),Total Price (£)", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], `,"Books","Paperback",4,0.50,2.00`), lines[1])

	stdout := mustRun(t, "export")
	assert.Equal(t, string(data), stdout)
}

func TestParseItems(t *testing.T) {
	items, err := parseItems([]string{"prd_a=3", " prd_b "})
	require.NoError(t, err)
	assert.Equal(t, []domain.TransactionItem{{ProductID: "prd_a", Quantity: 3}, {ProductID: "prd_b", Quantity: 1}}, items)

	_, err = parseItems([]string{"prd_a=two"})
	assert.Error(t, err)
}

func TestInvalidInputsAreRejected(t *testing.T) {
	useService(t)

	_, err := run(t, "stalls", "create")
	assert.Error(t, err, "missing name")

	_, err = run(t, "products", "add", "stall_missing", "--name", "Cake", "--price", "abc")
	assert.ErrorContains(t, err, "invalid --price")

	_, err = run(t, "sell", "stall_missing", "--item", "prd_x=1")
	assert.ErrorContains(t, err, "not found")
}
