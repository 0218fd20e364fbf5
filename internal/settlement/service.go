package settlement

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
)

// Discrepancy kinds reported against the gateway's settlement file.
const (
	DiscrepancyUnknownTransaction = "unknown_transaction"
	DiscrepancyNotRegistered      = "not_registered"
	DiscrepancyAmountMismatch     = "amount_mismatch"
	DiscrepancyCurrencyMismatch   = "currency_mismatch"
)

var expectedHeader = []string{"transaction_id", "amount_minor", "currency", "settled_at"}

type ValidationError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Discrepancy struct {
	Row           int    `json:"row"`
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail,omitempty"`
}

type Result struct {
	Processed     int               `json:"processed"`
	Matched       int               `json:"matched"`
	Discrepancies []Discrepancy     `json:"discrepancies"`
	Errors        []ValidationError `json:"errors"`
}

// TransactionReader is the slice of the payment store the settlement
// check needs.
type TransactionReader interface {
	GetByTransactionID(ctx context.Context, transactionID string) (*payment.Transaction, error)
}

// Service compares the gateway's periodic settlement report against
// the recorded payment transactions. It only reads; fixing a
// discrepancy is an operator decision.
type Service struct {
	transactions TransactionReader
}

func NewService(transactions TransactionReader) *Service {
	return &Service{transactions: transactions}
}

func (s *Service) ProcessReport(ctx context.Context, csvReader io.Reader) (*Result, error) {
	reader := csv.NewReader(csvReader)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid_csv")
	}
	if len(rows) < 2 {
		return &Result{Discrepancies: []Discrepancy{}, Errors: []ValidationError{{Row: 1, Field: "file", Message: "csv must include header and at least one data row"}}}, nil
	}

	if err := validateHeader(rows[0]); err != nil {
		return &Result{Discrepancies: []Discrepancy{}, Errors: []ValidationError{{Row: 1, Field: "header", Message: err.Error()}}}, nil
	}

	result := &Result{Discrepancies: []Discrepancy{}, Errors: []ValidationError{}}
	for i := 1; i < len(rows); i++ {
		rowNum := i + 1

		row, validationErr := parseRow(rows[i])
		if validationErr != nil {
			result.Errors = append(result.Errors, ValidationError{Row: rowNum, Field: validationErr.Field, Message: validationErr.Message})
			continue
		}
		result.Processed++

		tx, err := s.transactions.GetByTransactionID(ctx, row.TransactionID)
		if errors.Is(err, payment.ErrNotFound) {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Row: rowNum, TransactionID: row.TransactionID, Kind: DiscrepancyUnknownTransaction,
			})
			continue
		}
		if err != nil {
			return nil, err
		}

		if d, ok := compare(rowNum, row, tx); !ok {
			result.Discrepancies = append(result.Discrepancies, d)
			continue
		}
		result.Matched++
	}

	return result, nil
}

type reportRow struct {
	TransactionID string
	AmountMinor   int64
	Currency      string
	SettledAt     time.Time
}

func compare(rowNum int, row reportRow, tx *payment.Transaction) (Discrepancy, bool) {
	switch {
	case tx.Status != payment.StatusRegistered:
		return Discrepancy{
			Row: rowNum, TransactionID: row.TransactionID, Kind: DiscrepancyNotRegistered,
			Detail: fmt.Sprintf("status is %s", tx.Status),
		}, false
	case tx.AmountMinor != row.AmountMinor:
		return Discrepancy{
			Row: rowNum, TransactionID: row.TransactionID, Kind: DiscrepancyAmountMismatch,
			Detail: fmt.Sprintf("recorded %d, settled %d", tx.AmountMinor, row.AmountMinor),
		}, false
	case !strings.EqualFold(tx.Currency, row.Currency):
		return Discrepancy{
			Row: rowNum, TransactionID: row.TransactionID, Kind: DiscrepancyCurrencyMismatch,
			Detail: fmt.Sprintf("recorded %s, settled %s", tx.Currency, row.Currency),
		}, false
	}
	return Discrepancy{}, true
}

func validateHeader(header []string) error {
	if len(header) != len(expectedHeader) {
		return fmt.Errorf("expected %d columns, got %d", len(expectedHeader), len(header))
	}
	for i, want := range expectedHeader {
		got := strings.ToLower(strings.TrimSpace(header[i]))
		if got != want {
			return fmt.Errorf("column %d must be %q", i+1, want)
		}
	}
	return nil
}

func parseRow(record []string) (reportRow, *ValidationError) {
	if len(record) != len(expectedHeader) {
		return reportRow{}, &ValidationError{Field: "row", Message: "wrong column count"}
	}

	row := reportRow{
		TransactionID: strings.TrimSpace(record[0]),
		Currency:      strings.ToUpper(strings.TrimSpace(record[2])),
	}
	if row.TransactionID == "" {
		return reportRow{}, &ValidationError{Field: "transaction_id", Message: "must not be empty"}
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
	if err != nil || amount <= 0 {
		return reportRow{}, &ValidationError{Field: "amount_minor", Message: "must be a positive integer"}
	}
	row.AmountMinor = amount

	if len(row.Currency) != 3 {
		return reportRow{}, &ValidationError{Field: "currency", Message: "must be a 3-letter code"}
	}

	settledAt, err := time.Parse(time.RFC3339, strings.TrimSpace(record[3]))
	if err != nil {
		return reportRow{}, &ValidationError{Field: "settled_at", Message: "must be RFC3339"}
	}
	row.SettledAt = settledAt

	return row, nil
}
