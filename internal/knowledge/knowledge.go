package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/mubot/mu/internal/log"
)

// VectorDimension is the embedding width stored in the documents table.
// It must match the vector(N) column in the schema.
const VectorDimension int32 = 768

const (
	// DefaultTopK is the result count when the caller does not choose one.
	DefaultTopK = 5

	// MaxTopK caps a single search so a bad caller cannot drag the whole
	// table through the ranker.
	MaxTopK = 20

	// MaxQueryLen truncates absurdly long search queries before embedding.
	MaxQueryLen = 2000

	// EmbedTimeout bounds a single embedding round trip.
	EmbedTimeout = 15 * time.Second

	// SearchTimeout bounds the vector search query.
	SearchTimeout = 10 * time.Second
)

// Document is a unit of stored knowledge.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Result is a document with its similarity to the search query.
// Similarity is cosine based, 1.0 meaning identical direction.
type Result struct {
	Document   Document `json:"document"`
	Similarity float32  `json:"similarity"`
}

// SearchOption configures a Search call.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK   int
	source string
}

// WithTopK sets the maximum number of results. Values outside
// [1, MaxTopK] are clamped.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithSource restricts results to documents ingested from one source.
func WithSource(source string) SearchOption {
	return func(c *searchConfig) {
		c.source = source
	}
}

// querier is the interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages knowledge documents backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       querier
	embedder ai.Embedder
	logger   log.Logger
}

// NewStore creates a knowledge Store.
func NewStore(db querier, embedder ai.Embedder, logger log.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, embedder: embedder, logger: logger}, nil
}

// embed generates a vector embedding for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Upsert inserts a document or replaces an existing one with the same ID.
// The content is embedded before writing, so the stored vector always
// reflects the stored text.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("document %q: content is required", doc.ID)
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	metadataJSON := []byte("{}")
	if len(doc.Metadata) > 0 {
		metadataJSON, err = json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
		}
	}

	createdAt := pgtype.Timestamptz{Time: doc.CreatedAt, Valid: !doc.CreatedAt.IsZero()}

	_, err = s.db.Exec(ctx,
		`INSERT INTO kb_documents (id, content, source, metadata, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		 ON CONFLICT (id) DO UPDATE SET
		   content = EXCLUDED.content,
		   source = EXCLUDED.source,
		   metadata = EXCLUDED.metadata,
		   embedding = EXCLUDED.embedding`,
		doc.ID, doc.Content, doc.Source, metadataJSON, vec, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("upserted document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search returns the documents most similar to the query, best first.
// An empty or unembeddable query returns no results rather than an error.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := &searchConfig{topK: DefaultTopK}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.topK <= 0 {
		cfg.topK = DefaultTopK
	}
	if cfg.topK > MaxTopK {
		cfg.topK = MaxTopK
	}

	query = strings.TrimSpace(query)
	if query == "" || strings.ContainsRune(query, 0) {
		return []Result{}, nil
	}
	if len(query) > MaxQueryLen {
		query = query[:MaxQueryLen]
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding query timed out: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	args := []any{vec, cfg.topK}
	sql := `SELECT id, content, source, metadata, created_at, 1 - (embedding <=> $1) AS similarity
		 FROM kb_documents`
	if cfg.source != "" {
		sql += ` WHERE source = $3`
		args = append(args, cfg.source)
	}
	sql += `
		 ORDER BY embedding <=> $1
		 LIMIT $2`

	rows, err := s.db.Query(searchCtx, sql, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timed out: %w", err)
		}
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// Delete removes a document by ID. Deleting an absent ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	_, err := s.db.Exec(ctx, `DELETE FROM kb_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %q: %w", id, err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM kb_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func scanResults(rows pgx.Rows) ([]Result, error) {
	results := []Result{}
	for rows.Next() {
		var (
			doc          Document
			metadataJSON []byte
			similarity   float32
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Source, &metadataJSON, &doc.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for %q: %w", doc.ID, err)
			}
		}
		results = append(results, Result{Document: doc, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return results, nil
}
