package model

import "time"

// Lead is a contact submitted through the intake form.
type Lead struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Company string `json:"company,omitempty"`
	Message string `json:"message"`
}

// QualificationCategory classifies a lead after research.
type QualificationCategory string

const (
	CategoryQualified   QualificationCategory = "QUALIFIED"
	CategoryUnqualified QualificationCategory = "UNQUALIFIED"
	CategorySupport     QualificationCategory = "SUPPORT"
	CategoryFollowUp    QualificationCategory = "FOLLOW_UP"
)

// Valid reports whether c is one of the known categories.
func (c QualificationCategory) Valid() bool {
	switch c {
	case CategoryQualified, CategoryUnqualified, CategorySupport, CategoryFollowUp:
		return true
	}
	return false
}

// NeedsOutreach reports whether a lead in this category gets a drafted email.
func (c QualificationCategory) NeedsOutreach() bool {
	return c == CategoryQualified || c == CategoryFollowUp
}

// Qualification is the LLM's verdict on a lead.
type Qualification struct {
	Category QualificationCategory `json:"category"`
	Reason   string                `json:"reason"`
}

// ApprovalStatus is the human decision state of a drafted email.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a drafted outreach email awaiting a human decision.
type Approval struct {
	ID            string         `json:"id"`
	Lead          Lead           `json:"lead"`
	Research      string         `json:"research"`
	Email         string         `json:"email"`
	Qualification Qualification  `json:"qualification"`
	Status        ApprovalStatus `json:"status"`
	Feedback      string         `json:"feedback,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
}
