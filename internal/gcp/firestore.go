package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/invoiceflow/internal/persistence"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreBackend stores records as Firestore documents. Ref.Collection is
// the Firestore collection and Ref.ID the document id.
type FirestoreBackend struct {
	client *firestore.Client
}

// NewFirestoreBackend wraps client as a persistence.Backend.
func NewFirestoreBackend(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{client: client}
}

func (b *FirestoreBackend) doc(ref persistence.Ref) *firestore.DocumentRef {
	return b.client.Collection(ref.Collection).Doc(ref.ID)
}

// Get reads one document into dst.
func (b *FirestoreBackend) Get(ctx context.Context, ref persistence.Ref, dst any) error {
	snap, err := b.doc(ref).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", ref.Path(), persistence.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", ref.Path(), err)
	}
	if err := snap.DataTo(dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", ref.Path(), err)
	}
	return nil
}

// Exists checks every ref with a single GetAll round trip.
func (b *FirestoreBackend) Exists(ctx context.Context, refs []persistence.Ref) ([]bool, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	docRefs := make([]*firestore.DocumentRef, len(refs))
	for i, ref := range refs {
		docRefs[i] = b.doc(ref)
	}
	snaps, err := b.client.GetAll(ctx, docRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of %d records: %w", len(refs), err)
	}
	out := make([]bool, len(snaps))
	for i, snap := range snaps {
		out[i] = snap.Exists()
	}
	return out, nil
}

// Commit applies writes in one transaction. The transaction is attempted once;
// retrying is left to the caller.
func (b *FirestoreBackend) Commit(ctx context.Context, writes []persistence.Write) error {
	return b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, w := range writes {
			switch w.Kind {
			case persistence.WriteCreate:
				if err := tx.Create(b.doc(w.Ref), w.Record); err != nil {
					return fmt.Errorf("create %s: %w", w.Ref.Path(), err)
				}
			case persistence.WriteUpdate:
				updates, err := toFirestoreUpdates(w.Updates)
				if err != nil {
					return fmt.Errorf("update %s: %w", w.Ref.Path(), err)
				}
				if err := tx.Update(b.doc(w.Ref), updates); err != nil {
					return fmt.Errorf("update %s: %w", w.Ref.Path(), err)
				}
			default:
				return fmt.Errorf("unknown write kind %d for %s", w.Kind, w.Ref.Path())
			}
		}
		return nil
	}, firestore.MaxAttempts(1))
}

// toFirestoreUpdates maps flattened field updates onto Firestore updates.
// FieldPath is used so map keys containing dots stay single segments.
func toFirestoreUpdates(updates []persistence.FieldUpdate) ([]firestore.Update, error) {
	out := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		path := firestore.FieldPath(u.Path)
		switch u.Op {
		case persistence.OpSet:
			out = append(out, firestore.Update{FieldPath: path, Value: u.Value})
		case persistence.OpArrayUnion:
			out = append(out, firestore.Update{FieldPath: path, Value: firestore.ArrayUnion(values(u)...)})
		case persistence.OpArrayRemove:
			out = append(out, firestore.Update{FieldPath: path, Value: firestore.ArrayRemove(values(u)...)})
		case persistence.OpMerge:
			return nil, fmt.Errorf("merge on %s must be flattened before commit", u.DotPath())
		default:
			return nil, fmt.Errorf("unsupported operation %s on %s", u.Op, u.DotPath())
		}
	}
	return out, nil
}

func values(u persistence.FieldUpdate) []any {
	if vals, ok := u.Value.([]any); ok {
		return vals
	}
	return []any{u.Value}
}
