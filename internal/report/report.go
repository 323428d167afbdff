// Package report gera o relatório diário de transações
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/ledger-transactions/internal/domain"
	"github.com/matheusmosca/ledger-transactions/internal/ledger"
)

const dateLayout = "2006-01-02"

// TypeSummary agrega quantidade e valor de um tipo de transação
type TypeSummary struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// Report é o resumo das transações criadas num dia
type Report struct {
	Day          time.Time                              `json:"day"`
	Transactions []*domain.Transaction                  `json:"-"`
	Count        int                                    `json:"count"`
	Total        decimal.Decimal                        `json:"total"`
	Average      decimal.Decimal                        `json:"average"`
	ByType       map[domain.TransactionType]TypeSummary `json:"by_type"`
}

// Empty informa se não houve transações no dia
func (r *Report) Empty() bool {
	return r.Count == 0
}

// ParseDay converte AAAA-MM-DD; vazio significa hoje
func ParseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	}
	day, err := time.ParseInLocation(dateLayout, s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return day, nil
}

// Build agrega as transações criadas em [day, day+24h)
func Build(ctx context.Context, repo ledger.TransactionRepository, day time.Time) (*Report, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	transactions, err := repo.FindCreatedBetween(ctx, nil, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", from.Format(dateLayout), err)
	}

	r := &Report{
		Day:          from,
		Transactions: transactions,
		Total:        decimal.Zero,
		Average:      decimal.Zero,
		ByType: map[domain.TransactionType]TypeSummary{
			domain.TransactionTypeDeposit:  {Total: decimal.Zero},
			domain.TransactionTypeTransfer: {Total: decimal.Zero},
			domain.TransactionTypeReversal: {Total: decimal.Zero},
		},
	}

	for _, t := range transactions {
		r.Count++
		r.Total = r.Total.Add(t.Amount)

		summary := r.ByType[t.Type]
		summary.Count++
		summary.Total = summary.Total.Add(t.Amount)
		r.ByType[t.Type] = summary
	}

	if r.Count > 0 {
		r.Average = domain.RoundMoney(r.Total.Div(decimal.NewFromInt(int64(r.Count))))
	}
	return r, nil
}

// FileName devolve o nome do arquivo CSV do dia
func (r *Report) FileName() string {
	return fmt.Sprintf("transactions-%s.csv", r.Day.Format(dateLayout))
}

// WriteCSV escreve uma linha por transação seguida do bloco de resumo
func WriteCSV(w io.Writer, r *Report) error {
	out := csv.NewWriter(w)

	rows := [][]string{
		{"ID", "Account ID", "Type", "Amount", "Status", "Reference ID", "Description", "Created At"},
	}
	for _, t := range r.Transactions {
		reference := "N/A"
		if t.ReferenceID != nil {
			reference = strconv.FormatInt(*t.ReferenceID, 10)
		}
		description := ""
		if t.Description != nil {
			description = *t.Description
		}
		rows = append(rows, []string{
			t.PublicID,
			strconv.FormatInt(t.AccountID, 10),
			string(t.Type),
			domain.FormatMoney(t.Amount),
			string(t.Status),
			reference,
			description,
			t.CreatedAt.Format(time.RFC3339),
		})
	}

	rows = append(rows,
		[]string{},
		[]string{"Summary"},
		[]string{"Total Transactions", strconv.Itoa(r.Count)},
		[]string{"Total Amount", domain.FormatMoney(r.Total)},
		[]string{"Average Amount", domain.FormatMoney(r.Average)},
		[]string{},
		[]string{"By Type", "Count", "Amount"},
	)
	for _, kind := range []struct {
		label string
		t     domain.TransactionType
	}{
		{"Deposits", domain.TransactionTypeDeposit},
		{"Transfers", domain.TransactionTypeTransfer},
		{"Reversals", domain.TransactionTypeReversal},
	} {
		summary := r.ByType[kind.t]
		rows = append(rows, []string{kind.label, strconv.Itoa(summary.Count), domain.FormatMoney(summary.Total)})
	}

	if err := out.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
