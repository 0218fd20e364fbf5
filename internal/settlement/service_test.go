package settlement

import (
	"context"
	"strings"
	"testing"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
)

type mapReader struct {
	rows map[string]*payment.Transaction
}

func (r *mapReader) GetByTransactionID(_ context.Context, transactionID string) (*payment.Transaction, error) {
	tx, ok := r.rows[transactionID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return tx, nil
}

const header = "transaction_id,amount_minor,currency,settled_at\n"

func TestProcessReportMatchesRegisteredTransactions(t *testing.T) {
	svc := NewService(&mapReader{rows: map[string]*payment.Transaction{
		"tx-1": {TransactionID: "tx-1", Status: payment.StatusRegistered, AmountMinor: 500, Currency: "EUR"},
	}})

	result, err := svc.ProcessReport(context.Background(), strings.NewReader(
		header+"tx-1,500,EUR,2026-08-01T12:00:00Z\n"))
	if err != nil {
		t.Fatalf("process report: %v", err)
	}
	if result.Processed != 1 || result.Matched != 1 || len(result.Discrepancies) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestProcessReportFlagsDiscrepancies(t *testing.T) {
	svc := NewService(&mapReader{rows: map[string]*payment.Transaction{
		"tx-amount":   {TransactionID: "tx-amount", Status: payment.StatusRegistered, AmountMinor: 500, Currency: "EUR"},
		"tx-status":   {TransactionID: "tx-status", Status: payment.StatusRegistrationFailed, AmountMinor: 300, Currency: "EUR"},
		"tx-currency": {TransactionID: "tx-currency", Status: payment.StatusRegistered, AmountMinor: 200, Currency: "EUR"},
	}})

	result, err := svc.ProcessReport(context.Background(), strings.NewReader(header+
		"tx-amount,999,EUR,2026-08-01T12:00:00Z\n"+
		"tx-status,300,EUR,2026-08-01T12:00:00Z\n"+
		"tx-currency,200,SEK,2026-08-01T12:00:00Z\n"+
		"tx-missing,100,EUR,2026-08-01T12:00:00Z\n"))
	if err != nil {
		t.Fatalf("process report: %v", err)
	}
	if result.Processed != 4 || result.Matched != 0 {
		t.Fatalf("unexpected counts %+v", result)
	}

	kinds := map[string]string{}
	for _, d := range result.Discrepancies {
		kinds[d.TransactionID] = d.Kind
	}
	if kinds["tx-amount"] != DiscrepancyAmountMismatch {
		t.Fatalf("expected amount mismatch, got %s", kinds["tx-amount"])
	}
	if kinds["tx-status"] != DiscrepancyNotRegistered {
		t.Fatalf("expected not registered, got %s", kinds["tx-status"])
	}
	if kinds["tx-currency"] != DiscrepancyCurrencyMismatch {
		t.Fatalf("expected currency mismatch, got %s", kinds["tx-currency"])
	}
	if kinds["tx-missing"] != DiscrepancyUnknownTransaction {
		t.Fatalf("expected unknown transaction, got %s", kinds["tx-missing"])
	}
}

func TestProcessReportRejectsWrongHeader(t *testing.T) {
	svc := NewService(&mapReader{rows: map[string]*payment.Transaction{}})

	result, err := svc.ProcessReport(context.Background(), strings.NewReader(
		"id,amount,currency,when\ntx-1,500,EUR,2026-08-01T12:00:00Z\n"))
	if err != nil {
		t.Fatalf("process report: %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0].Field != "header" {
		t.Fatalf("expected header error, got %+v", result.Errors)
	}
}

func TestProcessReportCollectsRowErrors(t *testing.T) {
	svc := NewService(&mapReader{rows: map[string]*payment.Transaction{
		"tx-1": {TransactionID: "tx-1", Status: payment.StatusRegistered, AmountMinor: 500, Currency: "EUR"},
	}})

	result, err := svc.ProcessReport(context.Background(), strings.NewReader(header+
		"tx-1,abc,EUR,2026-08-01T12:00:00Z\n"+
		"tx-1,500,EURO,2026-08-01T12:00:00Z\n"+
		"tx-1,500,EUR,yesterday\n"+
		"tx-1,500,EUR,2026-08-01T12:00:00Z\n"))
	if err != nil {
		t.Fatalf("process report: %v", err)
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected three row errors, got %+v", result.Errors)
	}
	if result.Processed != 1 || result.Matched != 1 {
		t.Fatalf("the valid row must still be processed, got %+v", result)
	}
}

func TestProcessReportRequiresDataRows(t *testing.T) {
	svc := NewService(&mapReader{rows: map[string]*payment.Transaction{}})

	result, err := svc.ProcessReport(context.Background(), strings.NewReader(header))
	if err != nil {
		t.Fatalf("process report: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected file error, got %+v", result)
	}
}
