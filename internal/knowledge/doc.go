// Package knowledge stores documents with vector embeddings and serves
// semantic search over them.
//
// Documents live in PostgreSQL with a pgvector column. Embeddings are
// generated through a Genkit ai.Embedder at write and query time, so the
// same model produces both sides of the similarity comparison. Search
// ranks by cosine distance and reports similarity as 1 - distance.
package knowledge
