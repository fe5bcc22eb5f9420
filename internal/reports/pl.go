// Package reports aggregates voucher activity into income statement figures.
package reports

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Nature classifies an income statement line.
type Nature string

const (
	NatureRevenue Nature = "revenue"
	NatureExpense Nature = "expense"
)

// Line is the total of one counter-entity over the reporting range.
type Line struct {
	Nature   Nature
	EntityID int64
	Name     string
	Amount   decimal.Decimal
}

// ProfitAndLossSection groups lines by nature.
type ProfitAndLossSection struct {
	Label string
	Lines []Line
	Total decimal.Decimal
}

// ProfitAndLoss contains the structured output for the report.
type ProfitAndLoss struct {
	Revenue   ProfitAndLossSection
	Expense   ProfitAndLossSection
	NetIncome decimal.Decimal
}

// BuildProfitAndLoss aggregates lines into revenue and expense sections.
func BuildProfitAndLoss(lines []Line) ProfitAndLoss {
	revenue := ProfitAndLossSection{Label: "Revenue", Total: decimal.Zero}
	expense := ProfitAndLossSection{Label: "Expense", Total: decimal.Zero}

	for _, line := range lines {
		switch line.Nature {
		case NatureRevenue:
			revenue.Lines = append(revenue.Lines, line)
			revenue.Total = revenue.Total.Add(line.Amount)
		case NatureExpense:
			expense.Lines = append(expense.Lines, line)
			expense.Total = expense.Total.Add(line.Amount)
		}
	}

	sortLines(revenue.Lines)
	sortLines(expense.Lines)

	return ProfitAndLoss{
		Revenue:   revenue,
		Expense:   expense,
		NetIncome: revenue.Total.Sub(expense.Total),
	}
}

func sortLines(lines []Line) {
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Name != lines[j].Name {
			return lines[i].Name < lines[j].Name
		}
		return lines[i].EntityID < lines[j].EntityID
	})
}
