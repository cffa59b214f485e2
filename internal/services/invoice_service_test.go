package services

import (
	"context"
	"testing"
	"time"

	"freelancehub/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedSignedContract(t *testing.T, db *gorm.DB, budget float64, payment string) models.SmartContract {
	t.Helper()
	c := models.SmartContract{
		Title:        "Contract: Build a landing page",
		JobID:        1,
		FreelancerID: 2,
		ClientID:     3,
		Status:       models.ContractStatusSigned,
		Budget:       budget,
		Terms:        models.ContractTerms{Payment: payment},
	}
	require.NoError(t, db.Create(&c).Error)
	return c
}

func TestExtractBudget(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"Total budget: $4000. 50% deposit", 4000, true},
		{"Total budget: $4,000.50 payable in two parts", 4000.5, true},
		{"$1,234,567 upfront", 1234567, true},
		{"Pay 750 EUR", 750, true},
		{"To be agreed", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ExtractBudget(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInvoiceService_NumberingWithinMonth(t *testing.T) {
	db := newServicesTestDB(t)
	emitter := &recordingEmitter{}
	svc := NewInvoiceService(db, quietLogger(), fastRetry(), emitter, CountSequencer{}, InvoiceConfig{})
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	// two invoices already issued this month, one last month
	for _, number := range []string{"INV-202503-0001", "INV-202503-0002", "INV-202502-0009"} {
		require.NoError(t, db.Create(&models.Invoice{InvoiceNumber: number, Status: models.InvoiceStatusSent}).Error)
	}
	contract := seedSignedContract(t, db, 4000, "")

	invoice, created, err := svc.GenerateForContract(context.Background(), contract.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "INV-202503-0003", invoice.InvoiceNumber)
	assert.Equal(t, 2000.0, invoice.Subtotal)
	assert.Equal(t, 2000.0, invoice.Total)
	assert.Zero(t, invoice.Tax)
	assert.Equal(t, models.InvoiceStatusSent, invoice.Status)
	assert.Equal(t, now.AddDate(0, 0, 7), invoice.DueDate)
	assert.Equal(t, contract.ClientID, invoice.ClientID)
	assert.Equal(t, contract.FreelancerID, invoice.FreelancerID)

	events := emitter.ofType(EventInvoiceAutoGenerated)
	require.Len(t, events, 1)
	assert.Equal(t, "INV-202503-0003", events[0].Payload["invoiceNumber"])
	assert.Equal(t, 2000.0, events[0].Payload["total"])
}

func TestInvoiceService_ExistingInvoiceReturned(t *testing.T) {
	db := newServicesTestDB(t)
	emitter := &recordingEmitter{}
	svc := NewInvoiceService(db, quietLogger(), fastRetry(), emitter, nil, InvoiceConfig{})
	contract := seedSignedContract(t, db, 1000, "")

	first, created, err := svc.GenerateForContract(context.Background(), contract.ID)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.GenerateForContract(context.Background(), contract.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)

	var count int64
	require.NoError(t, db.Model(&models.Invoice{}).Where("contract_id = ?", contract.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Len(t, emitter.ofType(EventInvoiceAutoGenerated), 1)
}

func TestInvoiceService_BudgetFromPaymentTerms(t *testing.T) {
	db := newServicesTestDB(t)
	svc := NewInvoiceService(db, quietLogger(), fastRetry(), nil, nil, InvoiceConfig{DepositRatio: 0.3})
	contract := seedSignedContract(t, db, 0, "Total budget: $2,500.00. Net 30.")

	invoice, _, err := svc.GenerateForContract(context.Background(), contract.ID)
	require.NoError(t, err)
	assert.Equal(t, 750.0, invoice.Total)
	require.Len(t, invoice.Items, 1)
	assert.Contains(t, invoice.Items[0].Description, "30%")
}

func TestInvoiceService_Errors(t *testing.T) {
	db := newServicesTestDB(t)
	svc := NewInvoiceService(db, quietLogger(), fastRetry(), nil, nil, InvoiceConfig{})

	_, _, err := svc.GenerateForContract(context.Background(), 777)
	assert.ErrorIs(t, err, ErrContractNotFound)

	contract := seedSignedContract(t, db, 0, "Payment on delivery")
	_, _, err = svc.GenerateForContract(context.Background(), contract.ID)
	assert.ErrorIs(t, err, ErrNoBudget)

	var count int64
	require.NoError(t, db.Model(&models.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRedisInvoiceSequencer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := newServicesTestDB(t)
	require.NoError(t, db.Create(&models.Invoice{InvoiceNumber: "INV-202503-0001", Status: models.InvoiceStatusSent}).Error)

	svc := NewInvoiceService(db, quietLogger(), fastRetry(), nil, NewRedisInvoiceSequencer(client), InvoiceConfig{})
	svc.now = func() time.Time { return time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC) }

	var numbers []string
	for i := 0; i < 3; i++ {
		contract := seedSignedContract(t, db, float64(100*(i+1)), "")
		invoice, _, err := svc.GenerateForContract(context.Background(), contract.ID)
		require.NoError(t, err)
		numbers = append(numbers, invoice.InvoiceNumber)
	}
	assert.Equal(t, []string{"INV-202503-0002", "INV-202503-0003", "INV-202503-0004"}, numbers)

	seq, err := mr.Get("invoice:seq:INV-202503")
	require.NoError(t, err)
	assert.Equal(t, "4", seq)
	assert.True(t, mr.TTL("invoice:seq:INV-202503") > 0)
}
