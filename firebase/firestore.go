package firebase

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"campus-courier/models"
	"campus-courier/utilities"
)

// Firestore allows at most 500 writes per batch.
const batchSize = 500

// CreditHistoryStore keeps every applied credit change as a document in one collection.
type CreditHistoryStore struct {
	client     *firestore.Client
	collection string
}

func NewCreditHistoryStore(client *firestore.Client, collection string) *CreditHistoryStore {
	if collection == "" {
		collection = "credit_history"
	}
	return &CreditHistoryStore{client: client, collection: collection}
}

func (s *CreditHistoryStore) RecordCreditChanges(ctx context.Context, changes []models.CreditChange) error {
	coll := s.client.Collection(s.collection)
	for start := 0; start < len(changes); start += batchSize {
		end := min(start+batchSize, len(changes))
		batch := s.client.Batch()
		for _, c := range changes[start:end] {
			batch.Create(coll.NewDoc(), c)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("failed to write credit history batch: %w", err)
		}
	}
	utilities.LogDebug("Recorded %d credit changes in %s", len(changes), s.collection)
	return nil
}

func (s *CreditHistoryStore) ListCreditChanges(ctx context.Context, userID string, limit int) ([]models.CreditChange, error) {
	query := s.client.Collection(s.collection).
		Where("user_id", "==", userID).
		OrderBy("timestamp", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	changes := []models.CreditChange{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read credit history for %s: %w", userID, err)
		}
		var c models.CreditChange
		if err := doc.DataTo(&c); err != nil {
			return nil, fmt.Errorf("failed to decode credit change %s: %w", doc.Ref.ID, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func (s *CreditHistoryStore) Close() error {
	return s.client.Close()
}
