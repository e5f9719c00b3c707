package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"remaininggoods/internal/app"
	"remaininggoods/internal/config"
	"remaininggoods/internal/pipeline"
	"remaininggoods/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, closeLog, err := app.NewLogger(cfg)
	must(err)
	defer func() { _ = closeLog() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "run", "once":
		svc, err := app.NewService(cfg, nil, log)
		must(err)
		if cmd == "once" {
			must(svc.RunCycle(ctx))
			fmt.Printf("cycle done status=%s\n", cfg.StatusFilePath)
			return
		}
		must(svc.Run(ctx))
	case "schema:init":
		created, err := app.Bootstrap(ctx, cfg, log)
		must(err)
		fmt.Printf("schema ready driver=%s created=%s\n", cfg.DBDriver, strings.Join(created, ","))
	case "fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		site := fs.String("site", "", "site id")
		_ = fs.Parse(os.Args[2:])
		target, ok := app.FindTarget(cfg, *site)
		if !ok {
			must(fmt.Errorf("unknown site %q", *site))
		}
		cfg.Debug = true
		fetcher, err := app.NewFetcher(cfg, log)
		must(err)
		result, err := fetcher.Fetch(ctx, target)
		must(err)
		fmt.Printf("fetched site=%s file=%s\n", result.Site, result.Path)
	case "validate":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "local export file")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		_, summary, err := app.NewLoader(cfg, log).Load(*file)
		must(err)
		fmt.Printf("validated rows=%d accepted=%d dropped=%d\n", summary.Total, summary.Accepted, summary.Dropped)
	case "import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		site := fs.String("site", "", "site id, used as the warehouse name")
		file := fs.String("file", "", "local export file")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*site) == "" || strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--site and --file are required"))
		}
		records, summary, err := app.NewLoader(cfg, log).Load(*file)
		must(err)
		db, err := app.OpenStore(ctx, cfg, log)
		must(err)
		defer db.Close()
		_, err = db.Bootstrap(ctx, storage.SchemaFromConfig(cfg))
		must(err)
		stored, err := db.UpsertRecords(ctx, *site, records)
		must(err)
		fmt.Printf("import done site=%s rows=%d dropped=%d stored=%d failed=%d unknown_materials=%d\n",
			*site, summary.Total, summary.Dropped, stored.Stored, stored.Failed, stored.Skipped)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		site := fs.String("site", "", "warehouse name")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*site) == "" || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--site and --out are required"))
		}
		db, err := app.OpenStore(ctx, cfg, log)
		must(err)
		defer db.Close()
		rows, err := db.StockRows(ctx, *site)
		must(err)
		if len(rows) == 0 {
			must(fmt.Errorf("no stock rows for site=%s", *site))
		}
		must(pipeline.ExportStockToXLSX(rows, *out))
		fmt.Printf("exported %d rows to %s\n", len(rows), *out)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: stocksync <command>")
	fmt.Println("commands:")
	fmt.Println("  run")
	fmt.Println("  once")
	fmt.Println("  schema:init")
	fmt.Println("  fetch --site=TOM-01")
	fmt.Println("  validate --file=./data/remote/TOM-01.csv")
	fmt.Println("  import --site=TOM-01 --file=./data/remote/TOM-01.csv")
	fmt.Println("  export:xlsx --site=TOM-01 --out=./out/TOM-01.xlsx")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
