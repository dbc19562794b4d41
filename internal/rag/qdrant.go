package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written with every Qdrant point.
const (
	payloadNamespace = "namespace"
	payloadSource    = "source"
	payloadText      = "text"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant hostname (default: localhost).
	Host string
	// Port is the gRPC port (default: 6334).
	Port int
	// Collection holds every namespace; isolation is enforced by a keyword
	// payload filter on each read.
	Collection string
	// VectorSize is the embedding dimensionality.
	VectorSize uint64
	APIKey     string
	UseTLS     bool
}

// QdrantIndex implements VectorIndex on a single Qdrant collection.
type QdrantIndex struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

// NewQdrantIndex connects to Qdrant and makes sure the collection and its
// namespace payload index exist.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// Client exposes the underlying client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}

	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.cfg.Collection,
		FieldName:      payloadNamespace,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index %q payload: %w", payloadNamespace, err)
	}
	return nil
}

// Upsert writes records with Wait set, so they are searchable once the call
// returns.
func (q *QdrantIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadNamespace: namespace,
				payloadSource:    r.Source,
				payloadText:      r.Text,
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %s failed: %w", namespace, err)
	}
	return nil
}

// DescribeNamespace runs an exact count restricted to namespace.
func (q *QdrantIndex) DescribeNamespace(ctx context.Context, namespace string) (NamespaceStats, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Filter:         namespaceFilter(namespace),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return NamespaceStats{}, fmt.Errorf("qdrant: count %s failed: %w", namespace, err)
	}
	return NamespaceStats{VectorCount: n}, nil
}

// Query runs a cosine search restricted to namespace.
func (q *QdrantIndex) Query(ctx context.Context, namespace string, vector []float32, k int) ([]Passage, error) {
	if k <= 0 {
		return []Passage{}, nil
	}
	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         namespaceFilter(namespace),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %s failed: %w", namespace, err)
	}

	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		p := r.GetPayload()
		if p[payloadNamespace].GetStringValue() != namespace {
			continue
		}
		passages = append(passages, Passage{
			ID:     r.GetId().GetUuid(),
			Source: p[payloadSource].GetStringValue(),
			Text:   p[payloadText].GetStringValue(),
			Score:  r.GetScore(),
		})
	}
	return passages, nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("qdrant: close: %w", err)
	}
	return nil
}

func namespaceFilter(namespace string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadNamespace, namespace)},
	}
}
