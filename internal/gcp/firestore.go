package gcp

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/hypro2/document-parser/internal/models"
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

// FirestoreTracker stores one models.Job document per parse run.
type FirestoreTracker struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreTracker connects to Firestore and writes jobs into collection.
func NewFirestoreTracker(ctx context.Context, projectID, collection string) (*FirestoreTracker, error) {
	client, err := NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &FirestoreTracker{client: client, collection: collection}, nil
}

// FindByHash returns the ID of a completed job for the same file, if any.
func (t *FirestoreTracker) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	docs, err := t.client.Collection(t.collection).
		Where("fileHash", "==", fileHash).
		Where("status", "==", models.StatusCompleted).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

// Create adds a job record and returns its document ID.
func (t *FirestoreTracker) Create(ctx context.Context, job models.Job) (string, error) {
	docRef, _, err := t.client.Collection(t.collection).Add(ctx, job)
	if err != nil {
		return "", fmt.Errorf("failed to create job document: %w", err)
	}
	return docRef.ID, nil
}

// Update sets the given fields on the job document.
func (t *FirestoreTracker) Update(ctx context.Context, jobID string, fields map[string]any) error {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	updates := make([]firestore.Update, 0, len(paths))
	for _, p := range paths {
		updates = append(updates, firestore.Update{Path: p, Value: fields[p]})
	}
	if _, err := t.client.Collection(t.collection).Doc(jobID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

func (t *FirestoreTracker) Close() error {
	return t.client.Close()
}
