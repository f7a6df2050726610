// Package firestore keeps the endpoint directory in Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// ErrInvalidEndpoint is returned when an endpoint is missing its id or platform.
var ErrInvalidEndpoint = errors.New("endpoint requires id and platform")

// FirestoreStore implements dispatch.EndpointStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewFirestoreStore(client *firestore.Client, logger *slog.Logger) *FirestoreStore {
	return &FirestoreStore{
		client: client,
		logger: logger.With("component", "FirestoreEndpointStore"),
	}
}

// endpointRecord is the internal DB representation.
type endpointRecord struct {
	ID          string    `firestore:"id"`
	Platform    string    `firestore:"platform"`
	PayloadType string    `firestore:"payload_type"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) Register(ctx context.Context, user urn.URN, ep dispatch.Endpoint) error {
	if ep.ID == "" || ep.Platform == "" {
		return ErrInvalidEndpoint
	}
	record := endpointRecord{
		ID:          ep.ID,
		Platform:    ep.Platform,
		PayloadType: ep.PayloadType,
		UpdatedAt:   time.Now().UTC(),
	}
	if _, err := s.endpointRef(user, ep).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register endpoint: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Unregister(ctx context.Context, user urn.URN, ep dispatch.Endpoint) error {
	_, err := s.endpointRef(user, ep).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to unregister endpoint: %w", err)
	}
	return nil
}

// Fetch returns every endpoint of the user. Corrupt rows are skipped.
func (s *FirestoreStore) Fetch(ctx context.Context, user urn.URN) ([]dispatch.Endpoint, error) {
	iter := s.endpointsCollection(user).Documents(ctx)
	defer iter.Stop()

	endpoints := make([]dispatch.Endpoint, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record endpointRecord
		if err := doc.DataTo(&record); err != nil || record.ID == "" || record.Platform == "" {
			s.logger.Warn("Skipping corrupt endpoint record", "user", user.String(), "doc", doc.Ref.ID, "err", err)
			continue
		}
		endpoints = append(endpoints, dispatch.Endpoint{
			ID:          record.ID,
			Platform:    record.Platform,
			PayloadType: record.PayloadType,
		})
	}
	return endpoints, nil
}

// endpointRef: users/{urn}/endpoints/{sha256(platform|id)}
func (s *FirestoreStore) endpointRef(user urn.URN, ep dispatch.Endpoint) *firestore.DocumentRef {
	return s.endpointsCollection(user).Doc(docID(ep))
}

func (s *FirestoreStore) endpointsCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("endpoints")
}

// docID hashes the identity of an endpoint, which prevents duplicates and hot-spotting
// and keeps long web subscription ids out of document paths.
func docID(ep dispatch.Endpoint) string {
	sum := sha256.Sum256([]byte(ep.Platform + "|" + ep.ID))
	return hex.EncodeToString(sum[:])
}
