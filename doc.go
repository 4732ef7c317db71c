// Package nexdata provides an adaptive dataset storage and analysis
// engine. Datasets are imported from files (CSV, Excel, JSON, Parquet)
// or REST APIs and routed between in-memory storage and an embedded
// SQLite database based on size, with a uniform API for pagination,
// sampling, statistics and read-only SQL on top.
//
// # Architecture
//
// The adaptive manager is the single entry point. Small datasets stay
// resident as private in-memory copies; datasets above the row or size
// threshold are persisted to SQLite and read back in pages, so callers
// never hold an arbitrarily large table in memory.
//
// # Key Packages
//
//	pkg/table    - Tabular data model with type inference
//	pkg/store    - SQLite persistence (store, load, query, pagination)
//	pkg/manager  - Adaptive memory-vs-database routing
//	pkg/formats  - CSV, Excel, JSON and Parquet codecs
//	pkg/clients  - Paginated REST client and Shopify admin client
//	pkg/sqlquery - Read-only SQL validation and staged execution
//	pkg/profile  - Dataset profiling and quality scoring
//	pkg/cleaning - Deduplication, imputation, outliers, normalization
//	pkg/autosave - Periodic snapshots with recovery
//
// # Quick Start
//
// Import a file and page through it:
//
//	st, _ := store.Open("data/nexdata.db", store.DefaultOptions(), logger.Get())
//	defer st.Close()
//
//	mgr := manager.New(st, manager.DefaultOptions(), logger.Get())
//
//	t, _ := formats.ImportFile("sales.csv", formats.ImportOptions{})
//	result, _ := mgr.Load(ctx, t, t.Name(), false)
//	fmt.Println(result)
//
//	page, _ := mgr.GetPage(ctx, 1, 100)
//
// The cmd/nexdata CLI drives the same API from the command line.
package nexdata
