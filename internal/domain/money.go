package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyScale é o número de casas decimais usadas para saldos e valores
const MoneyScale = 2

// RoundMoney arredonda um valor para a escala monetária (2 casas)
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}

// ParseMoney converte uma string ("150.25") em valor monetário
func ParseMoney(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "invalid monetary value: " + s}
	}
	return RoundMoney(v), nil
}

// ValidateAmount garante que o valor é estritamente positivo depois do arredondamento
func ValidateAmount(amount decimal.Decimal) error {
	if !RoundMoney(amount).IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// FormatMoney formata o valor com exatamente duas casas decimais
func FormatMoney(v decimal.Decimal) string {
	return v.StringFixed(MoneyScale)
}
