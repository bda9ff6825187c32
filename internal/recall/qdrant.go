package recall

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"fablecast/server/internal/config"
	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

// EventIndex stores session events in Qdrant for similarity recall.
// Each event is embedded once on write; searches embed the query and
// filter to the session so stories never leak into each other.
type EventIndex struct {
	client     *qdrant.Client
	embedder   interfaces.Embedder
	collection string
	dims       uint64
}

// NewEventIndex connects to Qdrant over gRPC.
func NewEventIndex(cfg config.RecallConfig, embedder interfaces.Embedder) (*EventIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &EventIndex{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		dims:       uint64(cfg.VectorSize),
	}, nil
}

// EnsureCollection creates the event collection and its payload indexes
// if they are missing. CreateFieldIndex is idempotent on Qdrant, so the
// index pass safely backfills on every startup.
func (ix *EventIndex) EnsureCollection(ctx context.Context) error {
	exists, err := ix.client.CollectionExists(ctx, ix.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if err := ix.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: ix.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     ix.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("failed to create collection %q: %w", ix.collection, err)
		}
		log.Printf("[Recall] Created collection %s (dims=%d)", ix.collection, ix.dims)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"session_id", "story_id", "kind", "speaker"} {
		if _, err := ix.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: ix.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("failed to ensure index on %q: %w", field, err)
		}
	}
	return nil
}

// Index implements interfaces.EventIndex.
func (ix *EventIndex) Index(ctx context.Context, ev *models.Event) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("index event: event with an id is required")
	}

	vector, err := ix.embedder.Embed(ctx, ev.Content)
	if err != nil {
		return fmt.Errorf("failed to embed event %s: %w", ev.ID, err)
	}

	payload := map[string]any{
		"session_id":   ev.SessionID,
		"story_id":     ev.StoryID,
		"kind":         ev.Kind,
		"content":      ev.Content,
		"created_unix": float64(ev.CreatedAt.Unix()),
	}
	if ev.NodeID != "" {
		payload["node_id"] = ev.NodeID
	}
	if ev.Speaker != "" {
		payload["speaker"] = ev.Speaker
	}

	_, err = ix.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: ix.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(ev.ID),
			Vectors: qdrant.NewVectorsDense(vector),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", ev.ID, err)
	}
	return nil
}

// Search implements interfaces.EventIndex, most similar first.
func (ix *EventIndex) Search(ctx context.Context, sessionID, query string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 5
	}

	vector, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	fetchLimit := uint64(limit)
	scored, err := ix.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: ix.collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewMatch("session_id", sessionID),
		}},
		Limit:       &fetchLimit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events := make([]*models.Event, 0, len(scored))
	for _, sp := range scored {
		id := sp.Id.GetUuid()
		if id == "" {
			continue
		}
		payload := sp.Payload
		ev := &models.Event{
			ID:        id,
			SessionID: payload["session_id"].GetStringValue(),
			StoryID:   payload["story_id"].GetStringValue(),
			NodeID:    payload["node_id"].GetStringValue(),
			Kind:      payload["kind"].GetStringValue(),
			Content:   payload["content"].GetStringValue(),
			Speaker:   payload["speaker"].GetStringValue(),
		}
		if unix := payload["created_unix"].GetDoubleValue(); unix > 0 {
			ev.CreatedAt = time.Unix(int64(unix), 0)
		}
		events = append(events, ev)
	}
	return events, nil
}

// DeleteSession implements interfaces.EventIndex.
func (ix *EventIndex) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := ix.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: ix.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: []*qdrant.Condition{
					qdrant.NewMatch("session_id", sessionID),
				}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete events for session %s: %w", sessionID, err)
	}
	return nil
}

// Healthy returns nil when Qdrant answers its health check.
func (ix *EventIndex) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := ix.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant unhealthy: %w", err)
	}
	return nil
}

// Close shuts down the gRPC connection.
func (ix *EventIndex) Close() error {
	return ix.client.Close()
}
