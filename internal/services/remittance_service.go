package services

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/prizepool/backend/internal/models"
)

// ErrNoCompletedTransfers means a remittance advice was requested for a job
// with nothing paid out yet.
var ErrNoCompletedTransfers = errors.New("payout job has no completed transfers")

// RemittanceService renders the completed transfers of a payout job as an
// ISO 20022 pacs.008 credit-transfer document for bank-side reconciliation.
type RemittanceService struct{}

func NewRemittanceService() *RemittanceService {
	return &RemittanceService{}
}

// BuildAdvice creates a pacs.008 FIToFICustomerCreditTransfer covering every
// completed transfer in the job. Non-terminal and failed transfers are
// excluded; they have moved no money.
func (rs *RemittanceService) BuildAdvice(job *models.PayoutJob, transfers []models.PayoutTransfer) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	completed := []models.PayoutTransfer{}
	var totalCents int64
	for _, t := range transfers {
		if t.Status == models.TransferStatusCompleted {
			completed = append(completed, t)
			totalCents += t.AmountCents
		}
	}

	if len(completed) == 0 {
		return nil, fmt.Errorf("%w: job %s", ErrNoCompletedTransfers, job.ID)
	}

	msgID := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: common.Max15NumericText(fmt.Sprintf("%d", len(completed))),
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("USD"),
				Value: float64(totalCents) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
	}

	for _, t := range completed {
		txID := common.Max35Text(t.ID)
		endToEnd := common.Max35Text(t.IdempotencyKey)
		externalID := common.Max35Text("")
		if t.ExternalTransferID != nil {
			externalID = common.Max35Text(*t.ExternalTransferID)
		}

		doc.CdtTrfTxInf = append(doc.CdtTrfTxInf, pacs_v08.CreditTransferTransaction39{
			PmtId: pacs_v08.PaymentIdentification7{
				InstrId:    &txID,
				EndToEndId: endToEnd,
				TxId:       &externalID,
			},
			IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("USD"),
				Value: float64(t.AmountCents) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			ChrgBr:        "SLEV",
			DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					BICFI: bicPtr("PRZPUS33"),
				},
			},
			Dbtr: pacs_v08.PartyIdentification135{
				Nm: namePtr("Contest Prize Pool " + t.ContestID),
			},
			CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
						MmbId: common.Max35Text(destinationAccountForUser(t.UserID)),
					},
				},
			},
			Cdtr: pacs_v08.PartyIdentification135{
				Nm: namePtr(t.UserID),
			},
		})
	}

	return doc, nil
}

// ConvertToXML renders an ISO 20022 document as an XML string.
func (rs *RemittanceService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

func bicPtr(s string) *common.BICFIDec2014Identifier {
	v := common.BICFIDec2014Identifier(s)
	return &v
}

func namePtr(s string) *common.Max140Text {
	v := common.Max140Text(s)
	return &v
}
