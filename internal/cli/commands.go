// Package cli provides stallctl, the Cobra-based admin CLI for the stall manager.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stallmanager/backend/internal/backend"
	"stallmanager/backend/internal/config"
	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/service"
)

var (
	stallService *service.Service
	closers      []func() error
)

// newRootCmd builds a fresh command tree so flag state never carries over
// between executions.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stallctl",
		Short:         "Manage fundraising stalls, products and sales",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configureLogging()
			// tests inject the service directly
			if stallService != nil {
				return nil
			}

			if cfgFile := viper.GetString("config"); cfgFile != "" {
				viper.SetConfigFile(cfgFile)
				if err := viper.ReadInConfig(); err != nil {
					return err
				}
			}

			cfg := config.Load()
			cfg.DatabaseURL = viper.GetString("database-url")
			cfg.MongoURI = viper.GetString("mongo-uri")
			cfg.RedisAddr = viper.GetString("redis-addr")
			if tz := viper.GetString("timezone"); tz != "" {
				cfg.ExportTimezone = tz
			}

			settings, err := backend.ServiceSettings(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			repo, closeRepo, err := backend.OpenRepository(ctx, cfg)
			if err != nil {
				return err
			}
			pins, closeCache := backend.OpenPINCache(ctx, cfg)
			closers = []func() error{closeCache, closeRepo}
			stallService = service.New(repo, pins, settings)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, closeFn := range closers {
				errs = append(errs, closeFn())
			}
			closers = nil
			return errors.Join(errs...)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("database-url", "", "postgres connection url")
	rootCmd.PersistentFlags().String("mongo-uri", "", "mongodb connection uri")
	rootCmd.PersistentFlags().String("redis-addr", "", "redis address for the pin cache")
	rootCmd.PersistentFlags().String("timezone", "", "timezone for exported timestamps")

	for _, name := range []string{"config", "log-level", "database-url", "mongo-uri", "redis-addr", "timezone"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(newStallsCmd(), newProductsCmd(), newSellCmd(), newSalesCmd(), newSummaryCmd(), newExportCmd())
	return rootCmd
}

func configureLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}),
	))
}

// adminContext runs CLI operations as the admin. Access to the CLI means
// access to the database it points at.
func adminContext() context.Context {
	return service.WithActor(context.Background(), domain.Actor{Username: "stallctl", Role: domain.RoleAdmin})
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func init() {
	_ = viper.BindEnv("database-url", "DATABASE_URL")
	_ = viper.BindEnv("mongo-uri", "MONGO_URI")
	_ = viper.BindEnv("redis-addr", "REDIS_ADDR")
	_ = viper.BindEnv("timezone", "EXPORT_TIMEZONE")
	viper.SetEnvPrefix("STALLCTL")
	viper.AutomaticEnv()
}

func newStallsCmd() *cobra.Command {
	stallsCmd := &cobra.Command{
		Use:   "stalls",
		Short: "List and manage stalls",
	}

	var output string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stalls",
		RunE: func(cmd *cobra.Command, args []string) error {
			stalls, err := stallService.ListStalls(adminContext())
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(cmd.OutOrStdout(), stalls)
			}
			for _, s := range stalls {
				pin := "-"
				if s.SellerPIN != nil && *s.SellerPIN != "" {
					pin = "set"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s | %s | %d products | pin %s\n", s.ID, s.Name, len(s.Products), pin)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&output, "output", "", "output format: json")

	var name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a stall",
		RunE: func(cmd *cobra.Command, args []string) error {
			stall, err := stallService.CreateStall(adminContext(), domain.StallCreateRequest{Name: name})
			if err != nil {
				return err
			}
			slog.Info("stall created", "stall_id", stall.ID)
			return printJSON(cmd.OutOrStdout(), stall)
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "stall name")

	var pin string
	pinCmd := &cobra.Command{
		Use:   "set-pin <stall-id>",
		Short: "Set or clear (with --pin \"\") the seller PIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := stallService.SetSellerPIN(adminContext(), args[0], domain.SellerPINRequest{PIN: pin}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pin updated")
			return nil
		},
	}
	pinCmd.Flags().StringVar(&pin, "pin", "", "four digit seller pin")

	deleteCmd := &cobra.Command{
		Use:   "delete <stall-id>",
		Short: "Delete a stall that has no sales",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stallService.DeleteStall(adminContext(), args[0]); err != nil {
				slog.Error("delete failed", "stall_id", args[0], "error", err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}

	stallsCmd.AddCommand(listCmd, createCmd, pinCmd, deleteCmd)
	return stallsCmd
}

func newProductsCmd() *cobra.Command {
	productsCmd := &cobra.Command{
		Use:   "products",
		Short: "Manage the products of a stall",
	}

	var name, price string
	var stock int
	addCmd := &cobra.Command{
		Use:   "add <stall-id>",
		Short: "Add a product to a stall",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.ProductCreateRequest{Name: name}
			if price != "" {
				p, err := decimal.NewFromString(price)
				if err != nil {
					return fmt.Errorf("invalid --price %q: %w", price, err)
				}
				req.Price = &p
			}
			if cmd.Flags().Changed("stock") {
				req.StockCount = &stock
			}
			product, err := stallService.AddProduct(adminContext(), args[0], req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), product)
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "product name")
	addCmd.Flags().StringVar(&price, "price", "", "unit price, e.g. 2.50")
	addCmd.Flags().IntVar(&stock, "stock", 0, "tracked stock count (omit for untracked)")

	var newStock int
	stockCmd := &cobra.Command{
		Use:   "set-stock <stall-id> <product-id>",
		Short: "Overwrite a product's stock count",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := stallService.UpdateProductStock(adminContext(), args[0], args[1], domain.StockUpdateRequest{StockCount: &newStock})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), product)
		},
	}
	stockCmd.Flags().IntVar(&newStock, "stock", 0, "new stock count")

	removeCmd := &cobra.Command{
		Use:   "remove <stall-id> <product-id>",
		Short: "Remove a product that has never been sold",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stallService.RemoveProduct(adminContext(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed")
			return nil
		},
	}

	productsCmd.AddCommand(addCmd, stockCmd, removeCmd)
	return productsCmd
}

func newSellCmd() *cobra.Command {
	var items []string
	var payment string
	sellCmd := &cobra.Command{
		Use:   "sell <stall-id> --item <product-id>=<qty> [--item ...]",
		Short: "Record a transaction at a stall",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseItems(items)
			if err != nil {
				return err
			}
			start := time.Now()
			receipt, err := stallService.RecordTransaction(adminContext(), args[0], domain.RecordTransactionRequest{
				Items:         lines,
				PaymentMethod: payment,
			})
			if err != nil {
				slog.Error("sale failed", "stall_id", args[0], "error", err)
				return err
			}
			slog.Info("transaction recorded",
				"transaction_id", receipt.TransactionID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
	sellCmd.Flags().StringArrayVar(&items, "item", nil, "line as product-id=quantity (repeatable)")
	sellCmd.Flags().StringVar(&payment, "payment", "cash", "payment method")
	return sellCmd
}

// parseItems turns "prd_x=2" flags into transaction lines. A bare product id
// means a quantity of one.
func parseItems(raw []string) ([]domain.TransactionItem, error) {
	lines := make([]domain.TransactionItem, 0, len(raw))
	for _, entry := range raw {
		productID, qty, found := strings.Cut(entry, "=")
		quantity := 1
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(qty))
			if err != nil {
				return nil, fmt.Errorf("invalid quantity in --item %q", entry)
			}
			quantity = n
		}
		lines = append(lines, domain.TransactionItem{ProductID: strings.TrimSpace(productID), Quantity: quantity})
	}
	return lines, nil
}

func newSalesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sales <stall-id>",
		Short: "Show a stall's sales, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := stallService.GetSalesForStall(adminContext(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show totals raised per stall",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := stallService.SalesSummary(adminContext())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, row := range summary.Stalls {
				fmt.Fprintf(out, "%s | %s | %d sales | %s\n", row.StallID, row.Name, row.SaleCount, row.TotalRaised.StringFixed(2))
			}
			fmt.Fprintf(out, "TOTAL | %d sales | %s\n", summary.SaleCount, summary.TotalRaised.StringFixed(2))
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var outFile string
	exportCmd := &cobra.Command{
		Use:   "export [--out <file>]",
		Short: "Export every sale as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outFile == "" {
				return stallService.ExportSalesCSV(adminContext(), cmd.OutOrStdout())
			}
			f, err := os.Create(outFile)
			if err != nil {
				return err
			}
			if err := stallService.ExportSalesCSV(adminContext(), f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			slog.Info("sales exported", "file", outFile)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&outFile, "out", "", "output file (default stdout)")
	return exportCmd
}

func Execute() error {
	return newRootCmd().Execute()
}
