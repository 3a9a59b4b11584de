package document

import "time"

// Status is the approval state of a document.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Document is one uploaded artifact. ContentHash and OwnerID never change
// after ingest; Status changes only through the lifecycle engine.
type Document struct {
	ID          string    `json:"id" bson:"id"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	ContentHash string    `json:"contentHash" bson:"contentHash"`
	Size        int64     `json:"size" bson:"size"`
	Status      Status    `json:"status" bson:"status"`
	OwnerID     string    `json:"ownerId" bson:"ownerId"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}
