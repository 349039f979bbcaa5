package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"signalExecBot/internal/adapters/logger"
	"signalExecBot/internal/adapters/sqlite"
	"signalExecBot/internal/domain"
	"signalExecBot/internal/utils"
)

func main() {
	dbPath := flag.String("db", "./data/signal_exec.db", "sqlite database path")
	symbol := flag.String("symbol", "", "restrict to one symbol")
	limit := flag.Int("limit", 1000, "max rows to read per table")
	execCSV := flag.String("executions-csv", "", "also export executions to this CSV file")
	tradesCSV := flag.String("trades-csv", "", "also export trades to this CSV file")
	positionID := flag.Int64("position", 0, "print the stored position with this id")
	flag.Parse()

	ctx := context.Background()
	appLogger := logger.New(zerolog.WarnLevel)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer repo.Close()

	results, err := repo.FindExecutions(ctx, *symbol, *limit)
	if err != nil {
		log.Fatalf("Error reading executions: %v", err)
	}
	trades, err := repo.FindBySymbol(ctx, *symbol, *limit)
	if err != nil {
		log.Fatalf("Error reading trades: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Outcome\tCount\t")
	counts := countOutcomes(results)
	for _, o := range sortedOutcomes(counts) {
		fmt.Fprintf(w, "%s\t%d\t\n", o, counts[o])
	}
	w.Flush()

	stats := calculateTradeStats(trades)
	fmt.Println("\n## Realized Trades")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Trades\tWinRate\tAvgWin\tAvgLoss\tTotalPnL\t")
	fmt.Fprintf(w, "%d\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
		stats.TotalTrades, stats.WinRate*100, stats.AvgWin, stats.AvgLoss, stats.TotalPnL)
	w.Flush()

	fmt.Println("\n## Close Reasons")
	for _, rs := range closeReasonStats(trades) {
		fmt.Printf("%s\t%d\t%.2f\n", rs.Reason, rs.Count, rs.PnL)
	}

	if err := writePositionSummary(ctx, os.Stdout, repo, *positionID); err != nil {
		log.Fatalf("Error reading positions: %v", err)
	}

	if *execCSV != "" {
		if err := writeFile(*execCSV, func(f *os.File) error { return utils.WriteExecutionsCSV(f, results) }); err != nil {
			log.Fatalf("Error writing executions CSV: %v", err)
		}
	}
	if *tradesCSV != "" {
		if err := writeFile(*tradesCSV, func(f *os.File) error { return utils.WriteTradesCSV(f, trades) }); err != nil {
			log.Fatalf("Error writing trades CSV: %v", err)
		}
	}
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// positionStore is the part of the repository the position summary reads.
type positionStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
	GetTotalProfit(ctx context.Context) (float64, error)
}

// writePositionSummary prints realized PnL over closed positions and, when positionID is set,
// that one position.
func writePositionSummary(ctx context.Context, out io.Writer, store positionStore, positionID int64) error {
	total, err := store.GetTotalProfit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n## Closed Positions\nRealized PnL: %.2f\n", total)
	if positionID <= 0 {
		return nil
	}

	pos, err := store.FindByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("position %d not found", positionID)
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "ID\tSymbol\tSide\tStatus\tAmount\tEntry\tExit\tPnL\tReason\t")
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%g\t%.2f\t%.2f\t%.2f\t%s\t\n",
		pos.ID, pos.Symbol, pos.Side, pos.Status, pos.Amount, pos.EntryPrice, pos.ExitPrice, pos.PNL, pos.CloseReason)
	return w.Flush()
}

// TradeStats holds statistics about a set of trades
type TradeStats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	AvgWin        float64
	AvgLoss       float64
	TotalPnL      float64
}

func calculateTradeStats(trades []*domain.Trade) TradeStats {
	var stats TradeStats
	stats.TotalTrades = len(trades)
	if stats.TotalTrades == 0 {
		return stats
	}

	var winningPnL, losingPnL float64
	for _, trade := range trades {
		stats.TotalPnL += trade.PNL
		if trade.PNL > 0 {
			stats.WinningTrades++
			winningPnL += trade.PNL
		} else {
			stats.LosingTrades++
			losingPnL += trade.PNL
		}
	}

	if stats.WinningTrades > 0 {
		stats.AvgWin = winningPnL / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = losingPnL / float64(stats.LosingTrades)
	}
	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	return stats
}

func countOutcomes(results []*domain.ExecutionResult) map[domain.Outcome]int {
	counts := make(map[domain.Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts
}

func sortedOutcomes(counts map[domain.Outcome]int) []domain.Outcome {
	out := make([]domain.Outcome, 0, len(counts))
	for o := range counts {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type reasonStats struct {
	Reason domain.CloseReason
	Count  int
	PnL    float64
}

func closeReasonStats(trades []*domain.Trade) []reasonStats {
	byReason := make(map[domain.CloseReason]*reasonStats)
	for _, t := range trades {
		rs, ok := byReason[t.CloseReason]
		if !ok {
			rs = &reasonStats{Reason: t.CloseReason}
			byReason[t.CloseReason] = rs
		}
		rs.Count++
		rs.PnL += t.PNL
	}
	out := make([]reasonStats, 0, len(byReason))
	for _, rs := range byReason {
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}
