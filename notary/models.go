package notary

import (
	"time"

	"estateflow/asset"
)

// Status is the closed set of notarization states. Finalized and cancelled
// are terminal; the case is archived read-only once either is reached.
type Status string

const (
	StatusPendingNotary       Status = "pending_notary"
	StatusInProgress          Status = "in_progress"
	StatusFormalitiesComplete Status = "formalities_complete"
	StatusFinalized           Status = "finalized"
	StatusCancelled           Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

// canTransition permits only the next step in the legal chain, plus
// cancellation from any non-terminal state. No forward-skipping.
func canTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	switch from {
	case StatusPendingNotary:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusFormalitiesComplete
	case StatusFormalitiesComplete:
		return to == StatusFinalized
	default:
		return false
	}
}

// DocumentType classifies the legal documents attached to a case.
type DocumentType string

const (
	DocDeedOfSale    DocumentType = "deed_of_sale"
	DocNotarizedDeed DocumentType = "notarized_deed"
	DocReceipt       DocumentType = "receipt"
	DocOther         DocumentType = "other"
)

func validDocumentType(t DocumentType) bool {
	switch t {
	case DocDeedOfSale, DocNotarizedDeed, DocReceipt, DocOther:
		return true
	default:
		return false
	}
}

// Document is an already-uploaded file reference; the engine never handles
// raw bytes.
type Document struct {
	ID         string
	CaseID     string
	Name       string
	Type       DocumentType
	URI        string
	UploadedAt time.Time
}

// Case mirrors the notarization_cases table.
type Case struct {
	ID        string
	SaleID    string
	Asset     asset.Ref
	NotaryID  string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filters drives the by-notary list view.
type Filters struct {
	NotaryID string
	Status   Status
	Page     int
	PageSize int
}
