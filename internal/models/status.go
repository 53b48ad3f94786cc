package models

import "fmt"

// CollectionStatus is the aggregate state of a collection. It is always derived
// from the statuses of the documents it holds (see DeriveCollectionStatus).
type CollectionStatus string

const (
	CollectionReceived                CollectionStatus = "RECEIVED"
	CollectionDocumentsUploadComplete CollectionStatus = "DOCUMENTS_UPLOAD_COMPLETE"
	CollectionInProgress              CollectionStatus = "IN_PROGRESS"
	CollectionCompleted               CollectionStatus = "COMPLETED"
	CollectionFailed                  CollectionStatus = "FAILED"
	CollectionDeleted                 CollectionStatus = "DELETED"
)

// CollectionStatuses lists every collection status in lifecycle order.
var CollectionStatuses = []CollectionStatus{
	CollectionReceived,
	CollectionDocumentsUploadComplete,
	CollectionInProgress,
	CollectionCompleted,
	CollectionFailed,
	CollectionDeleted,
}

// DocumentStatus is the pipeline stage of a single document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "PENDING"
	DocumentUploaded   DocumentStatus = "UPLOADED"
	DocumentInProgress DocumentStatus = "IN_PROGRESS"
	DocumentParsed     DocumentStatus = "PARSED"
	DocumentStructured DocumentStatus = "STRUCTURED"
	DocumentValidated  DocumentStatus = "VALIDATED"
	DocumentApproved   DocumentStatus = "APPROVED"
	DocumentError      DocumentStatus = "ERROR"
)

// DocumentStatuses lists every document status in lifecycle order.
var DocumentStatuses = []DocumentStatus{
	DocumentPending,
	DocumentUploaded,
	DocumentInProgress,
	DocumentParsed,
	DocumentStructured,
	DocumentValidated,
	DocumentApproved,
	DocumentError,
}

// rank orders the non-terminal collection states. FAILED and DELETED sit
// outside the ordering; they are reached by explicit edges only.
func (s CollectionStatus) rank() int {
	switch s {
	case CollectionReceived:
		return 0
	case CollectionDocumentsUploadComplete:
		return 1
	case CollectionInProgress:
		return 2
	case CollectionCompleted:
		return 3
	case CollectionFailed, CollectionDeleted:
		return -1
	}
	return -1
}

// IsTerminal reports whether no further transition is allowed.
func (s CollectionStatus) IsTerminal() bool {
	switch s {
	case CollectionCompleted, CollectionFailed, CollectionDeleted:
		return true
	case CollectionReceived, CollectionDocumentsUploadComplete, CollectionInProgress:
		return false
	}
	return false
}

// Valid reports whether s is a known collection status.
func (s CollectionStatus) Valid() bool {
	for _, known := range CollectionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether moving from s to next follows a forward edge.
// Forward moves may skip intermediate states; FAILED and DELETED are reachable
// from any non-terminal state.
func (s CollectionStatus) CanTransitionTo(next CollectionStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	switch next {
	case CollectionFailed, CollectionDeleted:
		return true
	case CollectionReceived, CollectionDocumentsUploadComplete, CollectionInProgress, CollectionCompleted:
		return next.rank() > s.rank()
	}
	return false
}

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	for _, known := range DocumentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// next returns the statuses reachable from s in one step.
func (s DocumentStatus) next() []DocumentStatus {
	switch s {
	case DocumentPending:
		return []DocumentStatus{DocumentUploaded}
	case DocumentUploaded:
		return []DocumentStatus{DocumentInProgress, DocumentError}
	case DocumentInProgress:
		return []DocumentStatus{DocumentParsed, DocumentError}
	case DocumentParsed:
		return []DocumentStatus{DocumentStructured, DocumentError}
	case DocumentStructured:
		return []DocumentStatus{DocumentValidated, DocumentError}
	case DocumentValidated:
		return []DocumentStatus{DocumentApproved}
	case DocumentApproved, DocumentError:
		return nil
	}
	return nil
}

// CanTransitionTo reports whether next is a direct successor of s.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	for _, candidate := range s.next() {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsSettled reports whether the document no longer waits on the pipeline.
// PARSED is not settled: structuring follows and may still fail.
func (s DocumentStatus) IsSettled() bool {
	switch s {
	case DocumentStructured, DocumentValidated, DocumentApproved, DocumentError:
		return true
	case DocumentPending, DocumentUploaded, DocumentInProgress, DocumentParsed:
		return false
	}
	return false
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// DeriveCollectionStatus computes the aggregate status of a collection from a
// full scan of its document map. The result never moves backwards: when the
// derived status ranks below current, current is returned.
//
//   - any document PENDING                              -> RECEIVED
//   - none PENDING, none past UPLOADED                  -> DOCUMENTS_UPLOAD_COMPLETE
//   - all in {STRUCTURED, VALIDATED, APPROVED}          -> COMPLETED
//   - all settled with at least one ERROR               -> FAILED
//   - otherwise                                         -> IN_PROGRESS
//
// COMPLETED is terminal, so a PARSED document holds the collection in
// IN_PROGRESS until its structuring step has either succeeded or failed.
func DeriveCollectionStatus(current CollectionStatus, docs map[string]DocumentStatus) CollectionStatus {
	if current.IsTerminal() || len(docs) == 0 {
		return current
	}

	var pending, uploaded, settled, errored int
	for _, status := range docs {
		switch status {
		case DocumentPending:
			pending++
		case DocumentUploaded:
			uploaded++
		case DocumentError:
			errored++
			settled++
		case DocumentStructured, DocumentValidated, DocumentApproved:
			settled++
		case DocumentInProgress, DocumentParsed:
		}
	}

	var derived CollectionStatus
	switch {
	case pending > 0:
		derived = CollectionReceived
	case settled == len(docs) && errored == 0:
		derived = CollectionCompleted
	case settled == len(docs):
		derived = CollectionFailed
	case uploaded == len(docs):
		derived = CollectionDocumentsUploadComplete
	default:
		derived = CollectionInProgress
	}

	if derived == current || !current.CanTransitionTo(derived) {
		return current
	}
	return derived
}

// AllDocumentsIn reports whether every document holds one of statuses.
// An empty map never qualifies.
func AllDocumentsIn(docs map[string]DocumentStatus, statuses ...DocumentStatus) bool {
	if len(docs) == 0 {
		return false
	}
	for _, status := range docs {
		found := false
		for _, want := range statuses {
			if status == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
