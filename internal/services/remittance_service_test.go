package services

import (
	"testing"
	"time"

	"github.com/moov-io/iso20022/pkg/common"
	"github.com/prizepool/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remittanceJob() *models.PayoutJob {
	return &models.PayoutJob{
		ID:             "job_1",
		ContestID:      "c1",
		Policy:         "top_3_split",
		PrizePoolCents: 10000,
		CreatedAt:      time.Now(),
	}
}

func transferWithStatus(id, userID string, amountCents int64, status string) models.PayoutTransfer {
	t := models.PayoutTransfer{
		ID:             id,
		PayoutJobID:    "job_1",
		ContestID:      "c1",
		UserID:         userID,
		AmountCents:    amountCents,
		IdempotencyKey: "payout:c1:" + userID,
		Status:         status,
	}
	if status == models.TransferStatusCompleted {
		ext := "ext_" + id
		t.ExternalTransferID = &ext
	}
	return t
}

func TestRemittanceService_BuildAdvice(t *testing.T) {
	service := NewRemittanceService()

	t.Run("covers completed transfers only", func(t *testing.T) {
		transfers := []models.PayoutTransfer{
			transferWithStatus("tr_1", "u1", 5000, models.TransferStatusCompleted),
			transferWithStatus("tr_2", "u2", 3000, models.TransferStatusRetryable),
			transferWithStatus("tr_3", "u3", 2000, models.TransferStatusCompleted),
			transferWithStatus("tr_4", "u4", 1000, models.TransferStatusFailedTerminal),
		}

		doc, err := service.BuildAdvice(remittanceJob(), transfers)
		require.NoError(t, err)

		assert.Equal(t, common.Max15NumericText("2"), doc.GrpHdr.NbOfTxs)
		require.NotNil(t, doc.GrpHdr.TtlIntrBkSttlmAmt)
		assert.Equal(t, 70.00, doc.GrpHdr.TtlIntrBkSttlmAmt.Value)
		require.Len(t, doc.CdtTrfTxInf, 2)

		first := doc.CdtTrfTxInf[0]
		assert.Equal(t, common.Max35Text("payout:c1:u1"), first.PmtId.EndToEndId)
		require.NotNil(t, first.PmtId.TxId)
		assert.Equal(t, common.Max35Text("ext_tr_1"), *first.PmtId.TxId)
		assert.Equal(t, 50.00, first.IntrBkSttlmAmt.Value)
		require.NotNil(t, first.CdtrAgt.FinInstnId.ClrSysMmbId)
		assert.Equal(t, common.Max35Text("acct:u1"), first.CdtrAgt.FinInstnId.ClrSysMmbId.MmbId)
	})

	t.Run("job with nothing paid out is rejected", func(t *testing.T) {
		transfers := []models.PayoutTransfer{
			transferWithStatus("tr_1", "u1", 5000, models.TransferStatusPending),
			transferWithStatus("tr_2", "u2", 3000, models.TransferStatusFailedTerminal),
		}

		_, err := service.BuildAdvice(remittanceJob(), transfers)
		assert.ErrorIs(t, err, ErrNoCompletedTransfers)
	})

	t.Run("empty transfer list is rejected", func(t *testing.T) {
		_, err := service.BuildAdvice(remittanceJob(), nil)
		assert.ErrorIs(t, err, ErrNoCompletedTransfers)
	})
}

func TestRemittanceService_ConvertToXML(t *testing.T) {
	service := NewRemittanceService()

	transfers := []models.PayoutTransfer{
		transferWithStatus("tr_1", "u1", 5000, models.TransferStatusCompleted),
	}
	doc, err := service.BuildAdvice(remittanceJob(), transfers)
	require.NoError(t, err)

	xmlOut, err := service.ConvertToXML(doc)
	require.NoError(t, err)
	assert.Contains(t, xmlOut, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, xmlOut, "payout:c1:u1")
	assert.Contains(t, xmlOut, "acct:u1")
}
