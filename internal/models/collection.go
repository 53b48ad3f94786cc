package models

import "time"

// Collection is a user-initiated batch of documents processed together.
// Status must stay consistent with the aggregate of Documents.
type Collection struct {
	ID        string                    `firestore:"id" json:"id"`
	Name      string                    `firestore:"name" json:"name"`
	Type      string                    `firestore:"type" json:"type"`
	TenantID  string                    `firestore:"tenantId" json:"tenantId"`
	Status    CollectionStatus          `firestore:"status" json:"status"`
	Documents map[string]DocumentStatus `firestore:"documents" json:"documents"`
	Error     *AppError                 `firestore:"error,omitempty" json:"error,omitempty"`
	CreatedBy string                    `firestore:"createdBy" json:"createdBy"`
	CreatedAt time.Time                 `firestore:"createdAt" json:"createdAt"`
	UpdatedBy string                    `firestore:"updatedBy" json:"updatedBy"`
	UpdatedAt time.Time                 `firestore:"updatedAt" json:"updatedAt"`
}

// DocumentSnapshot returns a copy of the document status map.
func (c *Collection) DocumentSnapshot() map[string]DocumentStatus {
	out := make(map[string]DocumentStatus, len(c.Documents))
	for id, status := range c.Documents {
		out[id] = status
	}
	return out
}

// User owns collections and documents. It is updated, never deleted, when
// records are created under it.
type User struct {
	ID            string    `firestore:"id" json:"id"`
	Name          string    `firestore:"name,omitempty" json:"name,omitempty"`
	Email         string    `firestore:"email,omitempty" json:"email,omitempty"`
	CollectionIDs []string  `firestore:"collectionIds" json:"collectionIds"`
	DocumentIDs   []string  `firestore:"documentIds" json:"documentIds"`
	CreatedAt     time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt" json:"updatedAt"`
}
