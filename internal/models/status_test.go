package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStatus_EveryStatusHasDefinedEdges(t *testing.T) {
	t.Parallel()

	for _, status := range DocumentStatuses {
		require.True(t, status.Valid(), status)
		for _, next := range status.next() {
			require.True(t, next.Valid(), "%s -> %s", status, next)
		}
	}
	assert.False(t, DocumentStatus("BOGUS").Valid())
}

func TestDocumentStatus_CanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to DocumentStatus
		want     bool
	}{
		{DocumentPending, DocumentUploaded, true},
		{DocumentUploaded, DocumentInProgress, true},
		{DocumentUploaded, DocumentError, true},
		{DocumentInProgress, DocumentParsed, true},
		{DocumentInProgress, DocumentError, true},
		{DocumentParsed, DocumentStructured, true},
		{DocumentParsed, DocumentError, true},
		{DocumentStructured, DocumentValidated, true},
		{DocumentStructured, DocumentError, true},
		{DocumentValidated, DocumentApproved, true},

		{DocumentPending, DocumentInProgress, false},
		{DocumentPending, DocumentError, false},
		{DocumentParsed, DocumentInProgress, false},
		{DocumentValidated, DocumentStructured, false},
		{DocumentValidated, DocumentError, false},
		{DocumentError, DocumentInProgress, false},
		{DocumentApproved, DocumentValidated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestDocumentStatus_NoBackwardEdges(t *testing.T) {
	t.Parallel()

	order := map[DocumentStatus]int{}
	for i, status := range DocumentStatuses {
		order[status] = i
	}
	for _, from := range DocumentStatuses {
		for _, to := range from.next() {
			assert.Greater(t, order[to], order[from], "%s -> %s goes backwards", from, to)
		}
	}
}

func TestCollectionStatus_CanTransitionTo(t *testing.T) {
	t.Parallel()

	assert.True(t, CollectionReceived.CanTransitionTo(CollectionDocumentsUploadComplete))
	assert.True(t, CollectionReceived.CanTransitionTo(CollectionInProgress))
	assert.True(t, CollectionInProgress.CanTransitionTo(CollectionCompleted))
	assert.False(t, CollectionInProgress.CanTransitionTo(CollectionReceived))

	for _, from := range []CollectionStatus{CollectionReceived, CollectionDocumentsUploadComplete, CollectionInProgress} {
		assert.True(t, from.CanTransitionTo(CollectionFailed), from)
		assert.True(t, from.CanTransitionTo(CollectionDeleted), from)
	}
	for _, terminal := range []CollectionStatus{CollectionCompleted, CollectionFailed, CollectionDeleted} {
		for _, to := range CollectionStatuses {
			assert.False(t, terminal.CanTransitionTo(to), "%s -> %s", terminal, to)
		}
	}
}

func TestDeriveCollectionStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current CollectionStatus
		docs    map[string]DocumentStatus
		want    CollectionStatus
	}{
		{
			name:    "any pending keeps received",
			current: CollectionReceived,
			docs:    map[string]DocumentStatus{"a": DocumentUploaded, "b": DocumentPending},
			want:    CollectionReceived,
		},
		{
			name:    "all uploaded",
			current: CollectionReceived,
			docs:    map[string]DocumentStatus{"a": DocumentUploaded, "b": DocumentUploaded},
			want:    CollectionDocumentsUploadComplete,
		},
		{
			name:    "dispatch started",
			current: CollectionDocumentsUploadComplete,
			docs:    map[string]DocumentStatus{"a": DocumentInProgress, "b": DocumentUploaded},
			want:    CollectionInProgress,
		},
		{
			name:    "never moves backwards",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentUploaded, "b": DocumentUploaded},
			want:    CollectionInProgress,
		},
		{
			name:    "structured and validated completes",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentStructured, "b": DocumentValidated, "c": DocumentApproved},
			want:    CollectionCompleted,
		},
		{
			name:    "parsed waits for structuring",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentParsed, "b": DocumentStructured, "c": DocumentValidated},
			want:    CollectionInProgress,
		},
		{
			name:    "parsed alone does not complete",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentParsed},
			want:    CollectionInProgress,
		},
		{
			name:    "structuring failure after siblings validated fails",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentError, "b": DocumentValidated},
			want:    CollectionFailed,
		},
		{
			name:    "one validated one structured completes",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentValidated, "b": DocumentStructured},
			want:    CollectionCompleted,
		},
		{
			name:    "one still in progress",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentValidated, "b": DocumentInProgress},
			want:    CollectionInProgress,
		},
		{
			name:    "settled with an error fails",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentValidated, "b": DocumentError},
			want:    CollectionFailed,
		},
		{
			name:    "error while siblings run",
			current: CollectionInProgress,
			docs:    map[string]DocumentStatus{"a": DocumentInProgress, "b": DocumentError},
			want:    CollectionInProgress,
		},
		{
			name:    "terminal is sticky",
			current: CollectionDeleted,
			docs:    map[string]DocumentStatus{"a": DocumentValidated},
			want:    CollectionDeleted,
		},
		{
			name:    "empty map",
			current: CollectionReceived,
			docs:    map[string]DocumentStatus{},
			want:    CollectionReceived,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DeriveCollectionStatus(tt.current, tt.docs))
		})
	}
}

func TestDeriveCollectionStatus_CompletedIffAllInCompletionSet(t *testing.T) {
	t.Parallel()

	completion := []DocumentStatus{DocumentStructured, DocumentValidated, DocumentApproved}
	for _, a := range DocumentStatuses {
		for _, b := range DocumentStatuses {
			docs := map[string]DocumentStatus{"a": a, "b": b}
			got := DeriveCollectionStatus(CollectionInProgress, docs)
			assert.Equal(t, AllDocumentsIn(docs, completion...), got == CollectionCompleted, "%s/%s -> %s", a, b, got)
		}
	}
}

func TestDocumentStatus_IsSettled(t *testing.T) {
	t.Parallel()

	settled := map[DocumentStatus]bool{
		DocumentStructured: true,
		DocumentValidated:  true,
		DocumentApproved:   true,
		DocumentError:      true,
	}
	for _, status := range DocumentStatuses {
		assert.Equal(t, settled[status], status.IsSettled(), status)
	}
}

func TestAllDocumentsIn(t *testing.T) {
	t.Parallel()

	assert.False(t, AllDocumentsIn(nil, DocumentValidated))
	assert.True(t, AllDocumentsIn(map[string]DocumentStatus{"a": DocumentValidated}, DocumentValidated))
	assert.False(t, AllDocumentsIn(map[string]DocumentStatus{"a": DocumentValidated, "b": DocumentStructured}, DocumentValidated))
}
