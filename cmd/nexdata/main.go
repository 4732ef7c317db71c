package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nexdata/nexdata/pkg/autosave"
	"github.com/nexdata/nexdata/pkg/cleaning"
	"github.com/nexdata/nexdata/pkg/clients"
	"github.com/nexdata/nexdata/pkg/config"
	"github.com/nexdata/nexdata/pkg/formats"
	"github.com/nexdata/nexdata/pkg/logger"
	"github.com/nexdata/nexdata/pkg/manager"
	"github.com/nexdata/nexdata/pkg/profile"
	"github.com/nexdata/nexdata/pkg/sqlquery"
	"github.com/nexdata/nexdata/pkg/store"
	"github.com/nexdata/nexdata/pkg/table"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile string
	var logLevel string

	root := &cobra.Command{
		Use:   "nexdata",
		Short: "NexData - adaptive dataset storage and analysis engine",
		Long: `NexData imports datasets from files and APIs, routes them between
in-memory and SQLite storage by size, and provides pagination, sampling,
statistics, profiling, cleaning and SQL query over the working dataset.`,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML configuration file (optional)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("NexData v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newImportCmd(&configFile, &logLevel))
	root.AddCommand(newExportCmd(&configFile, &logLevel))
	root.AddCommand(newInfoCmd(&configFile, &logLevel))
	root.AddCommand(newPageCmd(&configFile, &logLevel))
	root.AddCommand(newSampleCmd(&configFile, &logLevel))
	root.AddCommand(newQueryCmd(&configFile, &logLevel))
	root.AddCommand(newTablesCmd(&configFile, &logLevel))
	root.AddCommand(newProfileCmd(&configFile, &logLevel))
	root.AddCommand(newCleanCmd(&configFile, &logLevel))
	root.AddCommand(newFetchCmd(&configFile, &logLevel))
	root.AddCommand(newRecoverCmd(&configFile, &logLevel))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration, initializes logging and opens the storage
// engine.
func setup(configFile, logLevel string) (*config.Config, *manager.Manager, *store.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Encoding: "console"}); err != nil {
		return nil, nil, nil, fmt.Errorf("logger initialization failed: %w", err)
	}
	log := logger.Get()

	st, err := store.Open(cfg.DatabaseFile(), store.Options{
		WriteBatchSize: cfg.Storage.WriteBatchSize,
	}, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	mgr := manager.New(st, manager.Options{
		RowThreshold:     cfg.Storage.RowThreshold,
		SizeThresholdMB:  cfg.Storage.SizeThresholdMB,
		DefaultPageLimit: cfg.Storage.DefaultPageLimit,
		StatsSampleSize:  cfg.Storage.StatsSampleSize,
	}, log)

	return cfg, mgr, st, nil
}

// loadDataset imports a file and binds it to the manager.
func loadDataset(ctx context.Context, mgr *manager.Manager, path, sheet string, forceDB bool) (*manager.LoadResult, error) {
	t, err := formats.ImportFile(path, formats.ImportOptions{Sheet: sheet})
	if err != nil {
		return nil, err
	}
	return mgr.Load(ctx, t, t.Name(), forceDB)
}

func newImportCmd(configFile, logLevel *string) *cobra.Command {
	var sheet string
	var forceDB bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a dataset and report how it was stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, st, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := loadDataset(cmd.Context(), mgr, args[0], sheet, forceDB)
			if err != nil {
				return err
			}
			fmt.Println(result)

			meta := mgr.Metadata()
			fmt.Printf("Source: %s\n", meta.Source)
			fmt.Printf("Rows: %d, Columns: %d, Size: %.2f MB\n", meta.Rows, meta.Cols, meta.SizeMB)
			fmt.Printf("Storage: %s\n", meta.Storage)
			if meta.TableName != "" {
				fmt.Printf("Table: %s\n", meta.TableName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Excel worksheet to import (default first)")
	cmd.Flags().BoolVar(&forceDB, "force-db", false, "Store in the database regardless of size")
	return cmd
}

func newExportCmd(configFile, logLevel *string) *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "export <input> <output>",
		Short: "Convert a dataset between file formats",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(*configFile); err != nil {
				return err
			}
			t, err := formats.ImportFile(args[0], formats.ImportOptions{Sheet: sheet})
			if err != nil {
				return err
			}
			if err := formats.ExportFile(t, args[1]); err != nil {
				return err
			}
			fmt.Printf("Exported %d rows to %s\n", t.NumRows(), args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Excel worksheet to import (default first)")
	return cmd
}

func newInfoCmd(configFile, logLevel *string) *cobra.Command {
	var sheet string
	var forceDB bool
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Show dataset metadata and statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, st, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := loadDataset(cmd.Context(), mgr, args[0], sheet, forceDB); err != nil {
				return err
			}
			stats, err := mgr.Statistics(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Rows: %d\n", stats.TotalRows)
			fmt.Printf("Columns: %d (%d numeric, %d text, %d datetime)\n",
				stats.TotalColumns, stats.NumericColumns, stats.TextColumns, stats.DatetimeColumns)
			fmt.Printf("Size: %.2f MB\n", stats.SizeMB)
			fmt.Printf("Storage: %s\n", stats.StorageMode)
			fmt.Printf("Missing values: %d (sampled over %d rows)\n", stats.MissingValues, stats.SampledRows)
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Excel worksheet to import (default first)")
	cmd.Flags().BoolVar(&forceDB, "force-db", false, "Store in the database regardless of size")
	return cmd
}

func newPageCmd(configFile, logLevel *string) *cobra.Command {
	var sheet string
	var pageNum, pageSize int
	cmd := &cobra.Command{
		Use:   "page <file>",
		Short: "Print one page of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, st, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := loadDataset(cmd.Context(), mgr, args[0], sheet, false); err != nil {
				return err
			}
			page, err := mgr.GetPage(cmd.Context(), pageNum, pageSize)
			if err != nil {
				return err
			}
			totalPages, err := mgr.TotalPages(cmd.Context(), pageSize)
			if err != nil {
				return err
			}
			printTable(page)
			fmt.Printf("Page %d of %d (%d rows)\n", pageNum, totalPages, page.NumRows())
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Excel worksheet to import (default first)")
	cmd.Flags().IntVar(&pageNum, "page", 1, "Page number (1-indexed)")
	cmd.Flags().IntVar(&pageSize, "size", 20, "Rows per page")
	return cmd
}

func newSampleCmd(configFile, logLevel *string) *cobra.Command {
	var sheet string
	var n int
	cmd := &cobra.Command{
		Use:   "sample <file>",
		Short: "Print a random sample of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, st, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, err := loadDataset(cmd.Context(), mgr, args[0], sheet, false); err != nil {
				return err
			}
			sample, err := mgr.Sample(cmd.Context(), n)
			if err != nil {
				return err
			}
			printTable(sample)
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Excel worksheet to import (default first)")
	cmd.Flags().IntVarP(&n, "rows", "n", 10, "Sample size")
	return cmd
}

func newQueryCmd(configFile, logLevel *string) *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "query <file> <sql>",
		Short: "Run read-only SQL against a dataset",
		Long: `Run read-only SQL against a dataset. Datasets stored in the database
are queried in place by their derived table name, e.g.
SELECT * FROM data_sales LIMIT 10. Datasets held in memory are staged
into a transient database as table "data".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, st, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := sqlquery.Validate(args[1]); err != nil {
				return err
			}

			t, err := formats.ImportFile(args[0], formats.ImportOptions{Sheet: sheet})
			if err != nil {
				return err
			}
			load, err := mgr.Load(cmd.Context(), t, t.Name(), false)
			if err != nil {
				return err
			}

			var result *table.Table
			if load.Storage == manager.StorageDatabase {
				result, err = mgr.Query(cmd.Context(), args[1])
			} else {
				result, err = sqlquery.NewExecutor(logger.Get()).Execute(cmd.Context(), t, args[1])
			}
			if err != nil {
				return err
			}
			printTable(result)
			fmt.Printf("%d rows\n", result.NumRows())
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Excel worksheet to import (default first)")
	return cmd
}

func newTablesCmd(configFile, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables stored in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer st.Close()

			names, err := st.ListTables(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No tables stored.")
				return nil
			}
			for _, name := range names {
				rows, columns, err := st.TableInfo(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d rows, %d columns\n", name, rows, len(columns))
			}
			return nil
		},
	}
}

func newProfileCmd(configFile, logLevel *string) *cobra.Command {
	var sheet string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "profile <file>",
		Short: "Compute a data quality profile of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(*configFile); err != nil {
				return err
			}
			t, err := formats.ImportFile(args[0], formats.ImportOptions{Sheet: sheet})
			if err != nil {
				return err
			}
			report := profile.Profile(t)

			if asJSON {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("Rows: %d, Quality score: %.0f/100\n", report.Rows, report.QualityScore)
			for _, issue := range report.Issues {
				fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Column, issue.Message)
			}
			for _, rec := range report.Recommendations {
				fmt.Printf("  -> %s\n", rec)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Excel worksheet to import (default first)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON")
	return cmd
}

func newCleanCmd(configFile, logLevel *string) *cobra.Command {
	var sheet, output string
	var dedupe bool
	var dropMissing []string
	var fillMean, fillMedian []string
	cmd := &cobra.Command{
		Use:   "clean <file>",
		Short: "Apply cleaning operations and write the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(*configFile); err != nil {
				return err
			}
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			t, err := formats.ImportFile(args[0], formats.ImportOptions{Sheet: sheet})
			if err != nil {
				return err
			}

			if dedupe {
				removed := cleaning.RemoveDuplicates(t)
				fmt.Printf("Removed %d duplicate rows\n", removed)
			}
			if cmd.Flags().Changed("drop-missing") {
				removed, err := cleaning.DropMissing(t, dropMissing)
				if err != nil {
					return err
				}
				fmt.Printf("Dropped %d rows with missing values\n", removed)
			}
			for _, col := range fillMean {
				filled, err := cleaning.FillMean(t, col)
				if err != nil {
					return err
				}
				fmt.Printf("Filled %d missing values in %q with the mean\n", filled, col)
			}
			for _, col := range fillMedian {
				filled, err := cleaning.FillMedian(t, col)
				if err != nil {
					return err
				}
				fmt.Printf("Filled %d missing values in %q with the median\n", filled, col)
			}

			if err := formats.ExportFile(t, output); err != nil {
				return err
			}
			fmt.Printf("Wrote %d rows to %s\n", t.NumRows(), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "Excel worksheet to import (default first)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (required)")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "Remove duplicate rows")
	cmd.Flags().StringSliceVar(&dropMissing, "drop-missing", nil, "Drop rows missing values in these columns (empty list checks all)")
	cmd.Flags().StringSliceVar(&fillMean, "fill-mean", nil, "Fill missing values in these numeric columns with the mean")
	cmd.Flags().StringSliceVar(&fillMedian, "fill-median", nil, "Fill missing values in these numeric columns with the median")
	return cmd
}

func newFetchCmd(configFile, logLevel *string) *cobra.Command {
	var shop, token, outDir string
	var resources []string
	cmd := &cobra.Command{
		Use:   "fetch shopify",
		Short: "Fetch Shopify resources and save them as CSV files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "shopify" {
				return fmt.Errorf("unknown source %q", args[0])
			}
			cfg, _, st, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer st.Close()

			if shop == "" {
				shop = os.Getenv("SHOPIFY_SHOP_DOMAIN")
			}
			if token == "" {
				token = os.Getenv("SHOPIFY_ACCESS_TOKEN")
			}
			client, err := clients.NewShopifyClient(&clients.ShopifyConfig{
				ShopDomain:  shop,
				AccessToken: token,
				PerPage:     cfg.API.PerPage,
			}, logger.Get())
			if err != nil {
				return err
			}

			name, err := client.TestConnection(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Connected to shop %q\n", name)

			fetched, err := client.FetchAll(cmd.Context(), resources)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = "."
			}
			for resource, t := range fetched {
				path := fmt.Sprintf("%s/%s.csv", strings.TrimRight(outDir, "/"), resource)
				if err := formats.ExportCSV(t, path); err != nil {
					return err
				}
				fmt.Printf("%s: %d rows -> %s\n", resource, t.NumRows(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&shop, "shop", "", "Shop domain (or SHOPIFY_SHOP_DOMAIN)")
	cmd.Flags().StringVar(&token, "token", "", "Admin API access token (or SHOPIFY_ACCESS_TOKEN)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().StringSliceVar(&resources, "resources", nil, "Resources to fetch (orders, products, customers, inventory)")
	return cmd
}

func newRecoverCmd(configFile, logLevel *string) *cobra.Command {
	var clear bool
	var output string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Inspect or restore the latest autosave snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, st, err := setup(*configFile, *logLevel)
			if err != nil {
				return err
			}
			defer st.Close()

			saver := autosave.New(cfg.Autosave, cfg.AutosaveDir(), logger.Get())
			if clear {
				if err := saver.ClearRecovery(); err != nil {
					return err
				}
				fmt.Println("Cleared all snapshots.")
				return nil
			}

			snap, err := saver.RecoveryInfo()
			if err != nil {
				return err
			}
			fmt.Printf("Latest snapshot: %s\n", snap.ID)
			fmt.Printf("Source: %s, Rows: %d, Columns: %d\n", snap.Source, snap.Rows, snap.Columns)
			fmt.Printf("Saved: %s\n", snap.SavedAt.Format(time.RFC3339))

			if output != "" {
				t, _, err := saver.Recover()
				if err != nil {
					return err
				}
				if err := formats.ExportFile(t, output); err != nil {
					return err
				}
				fmt.Printf("Restored %d rows to %s\n", t.NumRows(), output)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Delete all snapshots")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Restore the snapshot data to this file")
	return cmd
}

// printTable renders a table as aligned text, truncating wide cells.
func printTable(t *table.Table) {
	const maxWidth = 32
	names := t.ColumnNames()

	widths := make([]int, len(names))
	for i, name := range names {
		widths[i] = len(name)
	}
	rendered := make([][]string, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		row := t.Row(i)
		cells := make([]string, len(row))
		for j, cell := range row {
			s := formats.FormatCell(cell)
			if len(s) > maxWidth {
				s = s[:maxWidth-3] + "..."
			}
			cells[j] = s
			if len(s) > widths[j] {
				widths[j] = len(s)
			}
		}
		rendered[i] = cells
	}

	for j, name := range names {
		fmt.Printf("%-*s  ", widths[j], name)
	}
	fmt.Println()
	for _, cells := range rendered {
		for j, s := range cells {
			fmt.Printf("%-*s  ", widths[j], s)
		}
		fmt.Println()
	}
}
