package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/repository"
	"github.com/mamadbah2/stockledger/internal/repository/sheets"
)

const (
	timeLayout       = "2006-01-02 15:04 MST"
	stockReportRange = "StockReport!A:H"
)

// Catalog is the read side the report is built from. Snapshot must return a
// product and a ledger that describe the same committed state.
type Catalog interface {
	ListProducts(ctx context.Context) ([]models.ProductSummary, error)
	Snapshot(ctx context.Context, productID string) (models.Product, []models.Transaction, error)
}

// Notifier delivers a short notification to an external system.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// Sinks lists the destinations a report is published to. Nil sinks are skipped.
type Sinks struct {
	Archive  repository.ReportArchive
	Sheet    sheets.Repository
	Notifier Notifier
}

// Service builds stock reconciliation reports and publishes them.
type Service struct {
	catalog   Catalog
	sinks     Sinks
	threshold int64
	logger    *zap.Logger
}

// NewService wires a new reporting service instance. Products at or below
// lowStockThreshold units are flagged as low stock.
func NewService(catalog Catalog, sinks Sinks, lowStockThreshold int64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{catalog: catalog, sinks: sinks, threshold: lowStockThreshold, logger: logger}
}

// BuildStockReport walks every product and reconciles its totals against the
// ledger.
func (s *Service) BuildStockReport(ctx context.Context, now time.Time) (models.StockReport, error) {
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return models.StockReport{}, fmt.Errorf("load products: %w", err)
	}

	report := models.StockReport{
		GeneratedAt:       now,
		Lines:             make([]models.StockReportLine, 0, len(products)),
		ProductCount:      len(products),
		LowStockThreshold: s.threshold,
	}

	for _, listed := range products {
		p, ledger, err := s.catalog.Snapshot(ctx, listed.ID)
		if err != nil {
			return models.StockReport{}, fmt.Errorf("load ledger of %s: %w", listed.SKU, err)
		}

		line := reconcile(p, ledger, s.threshold)
		if !line.Consistent {
			report.InconsistentCount++
			s.logger.Warn("product totals disagree with ledger",
				zap.String("product_id", p.ID),
				zap.String("sku", p.SKU),
				zap.Int64("total_increased", p.TotalIncreased),
				zap.Int64("ledger_increase", line.LedgerIncrease),
				zap.Int64("total_decreased", p.TotalDecreased),
				zap.Int64("ledger_decrease", line.LedgerDecrease))
		}
		if line.LowStock {
			report.LowStockCount++
		}
		report.TotalUnitsOnHand += p.CurrentStock
		report.TotalLedgerEntries += line.LedgerEntries
		report.Lines = append(report.Lines, line)
	}

	return report, nil
}

func reconcile(p models.Product, ledger []models.Transaction, threshold int64) models.StockReportLine {
	line := models.StockReportLine{
		ProductID:      p.ID,
		Name:           p.Name,
		SKU:            p.SKU,
		CurrentStock:   p.CurrentStock,
		TotalIncreased: p.TotalIncreased,
		TotalDecreased: p.TotalDecreased,
		LedgerEntries:  len(ledger),
	}
	for _, entry := range ledger {
		switch entry.Type {
		case models.MovementIncrease:
			line.LedgerIncrease += entry.Quantity
		case models.MovementDecrease:
			line.LedgerDecrease += entry.Quantity
		}
	}

	line.Consistent = p.Consistent() &&
		line.LedgerIncrease == p.TotalIncreased &&
		line.LedgerDecrease == p.TotalDecreased
	line.LowStock = p.CurrentStock <= threshold
	return line
}

// Publish sends the report to every configured sink. A failing sink does not
// stop the others; all failures are returned joined.
func (s *Service) Publish(ctx context.Context, report models.StockReport) error {
	var errs []error

	if s.sinks.Archive != nil {
		if err := s.sinks.Archive.SaveStockReport(ctx, report); err != nil {
			s.logger.Error("failed to archive stock report", zap.Error(err))
			errs = append(errs, fmt.Errorf("archive stock report: %w", err))
		}
	}

	if s.sinks.Sheet != nil {
		if err := s.sinks.Sheet.AppendRows(ctx, stockReportRange, SheetRows(report)); err != nil {
			s.logger.Error("failed to export stock report to sheet", zap.Error(err))
			errs = append(errs, fmt.Errorf("export stock report: %w", err))
		}
	}

	if s.sinks.Notifier != nil {
		notification := models.Notification{
			Title:   "Stock report",
			Message: FormatReport(report),
			Report:  &report,
		}
		if err := s.sinks.Notifier.Notify(ctx, notification); err != nil {
			s.logger.Error("failed to notify stock report", zap.Error(err))
			errs = append(errs, fmt.Errorf("notify stock report: %w", err))
		}
	}

	return errors.Join(errs...)
}

// GenerateAndPublish builds the report for now and publishes it.
func (s *Service) GenerateAndPublish(ctx context.Context, now time.Time) (models.StockReport, error) {
	report, err := s.BuildStockReport(ctx, now)
	if err != nil {
		return models.StockReport{}, err
	}

	s.logger.Info("stock report built",
		zap.Int("products", report.ProductCount),
		zap.Int("low_stock", report.LowStockCount),
		zap.Int("inconsistent", report.InconsistentCount))

	return report, s.Publish(ctx, report)
}

// SheetRows renders one spreadsheet row per report line.
func SheetRows(report models.StockReport) [][]interface{} {
	generated := report.GeneratedAt.Format(time.RFC3339)
	rows := make([][]interface{}, 0, len(report.Lines))
	for _, line := range report.Lines {
		rows = append(rows, []interface{}{
			generated,
			line.ProductID,
			line.SKU,
			line.Name,
			line.CurrentStock,
			line.TotalIncreased,
			line.TotalDecreased,
			lineStatus(line),
		})
	}
	return rows
}

func lineStatus(line models.StockReportLine) string {
	switch {
	case !line.Consistent:
		return "INCONSISTENT"
	case line.LowStock:
		return "LOW"
	default:
		return "OK"
	}
}

// FormatReport renders a short plain-text summary of the report.
func FormatReport(report models.StockReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock report (%s): %d products, %d units on hand, %d ledger entries.",
		report.GeneratedAt.Format(timeLayout),
		report.ProductCount,
		report.TotalUnitsOnHand,
		report.TotalLedgerEntries)

	if report.ProductCount == 0 {
		b.WriteString("\nNo products registered yet.")
		return b.String()
	}

	if report.InconsistentCount > 0 {
		fmt.Fprintf(&b, "\n%d product(s) disagree with their ledger:", report.InconsistentCount)
		for _, line := range report.Lines {
			if !line.Consistent {
				fmt.Fprintf(&b, "\n- %s: stock %d, ledger +%d/-%d", line.SKU, line.CurrentStock, line.LedgerIncrease, line.LedgerDecrease)
			}
		}
	}

	if report.LowStockCount > 0 {
		fmt.Fprintf(&b, "\n%d product(s) at or below %d units:", report.LowStockCount, report.LowStockThreshold)
		for _, line := range report.Lines {
			if line.LowStock {
				fmt.Fprintf(&b, "\n- %s (%s): %d", line.SKU, line.Name, line.CurrentStock)
			}
		}
	} else {
		b.WriteString("\nAll products above the low stock threshold.")
	}

	return b.String()
}
