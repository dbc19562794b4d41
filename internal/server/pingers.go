package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// PgPinger probes the pgvector database pool.
type PgPinger struct {
	pool *pgxpool.Pool
}

// NewPgPinger constructs a PgPinger for pool.
func NewPgPinger(pool *pgxpool.Pool) *PgPinger {
	return &PgPinger{pool: pool}
}

func (p *PgPinger) Name() string { return "pgvector" }

func (p *PgPinger) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// PingFunc adapts a ping function, such as the metadata store's Ping, to
// the Pinger interface.
type PingFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (p PingFunc) Name() string { return p.Label }

func (p PingFunc) Ping(ctx context.Context) error { return p.Fn(ctx) }
