package enums

import "fmt"

// StockTransactionType classifies a ledger entry against a stock record.
type StockTransactionType string

const (
	StockTransactionImport     StockTransactionType = "import"
	StockTransactionExport     StockTransactionType = "export"
	StockTransactionAdjustment StockTransactionType = "adjustment"
	StockTransactionDamaged    StockTransactionType = "damaged"
	StockTransactionReturned   StockTransactionType = "returned"
)

var validStockTransactionTypes = []StockTransactionType{
	StockTransactionImport,
	StockTransactionExport,
	StockTransactionAdjustment,
	StockTransactionDamaged,
	StockTransactionReturned,
}

// String implements fmt.Stringer.
func (t StockTransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known StockTransactionType.
func (t StockTransactionType) IsValid() bool {
	for _, candidate := range validStockTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseStockTransactionType converts raw input into a StockTransactionType.
func ParseStockTransactionType(value string) (StockTransactionType, error) {
	for _, candidate := range validStockTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock transaction type %q", value)
}
