package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/matheusmosca/ledger-transactions/internal/config"
	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/logger"
	"github.com/matheusmosca/ledger-transactions/internal/report"
	"github.com/matheusmosca/ledger-transactions/internal/repository/postgres"
)

func main() {
	// Define command-line flags
	dateStr := flag.String("date", "", "Report date (YYYY-MM-DD), defaults to today")
	outDir := flag.String("out", "reports", "Directory where the CSV report is written")
	flag.Parse()

	cfg := config.Load()
	zlog, err := logger.New(cfg.Env, cfg.ServiceName+"-report")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	day, err := report.ParseDay(*dateStr, time.Now())
	if err != nil {
		zlog.Fatal("Invalid -date flag", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.Database, zlog)
	if err != nil {
		zlog.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer pool.Close()

	transactions := postgres.NewTransactionRepository(postgres.NewDB(pool))

	zlog.Info("📊 Building transaction report", zap.String("date", day.Format("2006-01-02")))
	r, err := report.Build(ctx, transactions, day)
	if err != nil {
		zlog.Fatal("Failed to build report", zap.Error(err))
	}
	if r.Empty() {
		zlog.Warn("⚠️ No transactions found", zap.String("date", day.Format("2006-01-02")))
		return
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		zlog.Fatal("Failed to create output directory", zap.Error(err))
	}
	path := filepath.Join(*outDir, r.FileName())
	file, err := os.Create(path)
	if err != nil {
		zlog.Fatal("Failed to create report file", zap.Error(err))
	}
	defer file.Close()

	if err := report.WriteCSV(file, r); err != nil {
		zlog.Fatal("Failed to write report", zap.Error(err))
	}

	zlog.Info("✅ Report generated",
		zap.String("path", path),
		zap.Int("transactions", r.Count),
		zap.String("total", domain.FormatMoney(r.Total)),
		zap.String("average", domain.FormatMoney(r.Average)),
		zap.Int("deposits", r.ByType[domain.TransactionTypeDeposit].Count),
		zap.Int("transfers", r.ByType[domain.TransactionTypeTransfer].Count),
		zap.Int("reversals", r.ByType[domain.TransactionTypeReversal].Count),
	)
}
