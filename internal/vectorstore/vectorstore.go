package vectorstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fenwicklabs/memoryd/internal/store"
)

// entityTable maps an EntityKind to its dense-BLOB fallback table, defined
// by the baseline schema migration.
var entityTable = map[EntityKind]string{
	EntityMessages:  "message_embeddings",
	EntityDecisions: "decision_embeddings",
	EntityMistakes:  "mistake_embeddings",
	EntityChunks:    "chunk_embeddings",
}

// LibsqlStore is the default Store: every vector is always written to the
// dense-BLOB fallback table, and additionally to the native libsql vector
// table when the host binary's libsql build carries the vector extension.
// Search prefers the native table and falls back to a BLOB brute-force scan
// computing cosine similarity in Go.
type LibsqlStore struct {
	s *store.Store
}

func New(s *store.Store) *LibsqlStore {
	return &LibsqlStore{s: s}
}

func (v *LibsqlStore) Upsert(ctx context.Context, kind EntityKind, records []Record) error {
	table, ok := entityTable[kind]
	if !ok {
		return fmt.Errorf("vectorstore: unknown entity kind %q", kind)
	}

	var nativeDim int
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return ErrEmptyVector
		}
		nativeDim = len(r.Embedding)
	}

	// EnsureVectorTable and NativeVectorAvailable issue DDL/probe queries of
	// their own against the shared *sql.DB pool (capped at one connection).
	// They must run before the transaction below opens so they don't try to
	// check out a second connection while the sole one is held by BeginTx,
	// which would deadlock.
	nativeAvailable := false
	if nativeDim > 0 {
		if err := v.s.EnsureVectorTable(ctx, string(kind), nativeDim); err != nil {
			return err
		}
		nativeAvailable = v.s.NativeVectorAvailable(ctx)
	}

	return v.s.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			`INSERT INTO %s(row_id, owning_entity_id, content, embedding_bytes, model_name, created_at)
			 VALUES (?, ?, ?, ?, ?, unixepoch('now','subsec')*1000)
			 ON CONFLICT(row_id) DO UPDATE SET
			   owning_entity_id=excluded.owning_entity_id,
			   content=excluded.content,
			   embedding_bytes=excluded.embedding_bytes,
			   model_name=excluded.model_name`,
			table,
		))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.RowID, r.EntityID, r.Content, encodeFloat32s(r.Embedding), r.Model); err != nil {
				return fmt.Errorf("vectorstore: upsert %s: %w", table, err)
			}
		}

		if !nativeAvailable {
			return nil
		}
		vecTable := "vec_" + string(kind)
		vecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			`INSERT INTO %s(row_id, embedding) VALUES (?, vector32(?))
			 ON CONFLICT(row_id) DO UPDATE SET embedding=excluded.embedding`,
			vecTable,
		))
		if err != nil {
			return err
		}
		defer vecStmt.Close()
		for _, r := range records {
			if _, err := vecStmt.ExecContext(ctx, r.RowID, vectorLiteral(r.Embedding)); err != nil {
				return fmt.Errorf("vectorstore: upsert %s: %w", vecTable, err)
			}
		}
		return nil
	})
}

func (v *LibsqlStore) Search(ctx context.Context, kind EntityKind, queryVector []float32, k int) ([]ScoredRecord, error) {
	if len(queryVector) == 0 {
		return nil, ErrEmptyVector
	}

	if v.s.NativeVectorAvailable(ctx) {
		results, err := v.searchNative(ctx, kind, queryVector, k)
		if err == nil {
			return results, nil
		}
	}
	return v.searchBlobFallback(ctx, kind, queryVector, k)
}

func (v *LibsqlStore) searchNative(ctx context.Context, kind EntityKind, queryVector []float32, k int) ([]ScoredRecord, error) {
	vecTable := "vec_" + string(kind)
	table := entityTable[kind]

	rows, err := v.s.DB().QueryContext(ctx, fmt.Sprintf(
		`SELECT e.row_id, e.owning_entity_id, e.content, e.model_name,
		        vector_distance_cos(vec.embedding, vector32(?)) AS distance
		 FROM %s vec
		 JOIN %s e ON e.row_id = vec.row_id
		 ORDER BY distance ASC
		 LIMIT ?`,
		vecTable, table,
	), vectorLiteral(queryVector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredRecord
	for rows.Next() {
		var r ScoredRecord
		var distance float64
		if err := rows.Scan(&r.RowID, &r.EntityID, &r.Content, &r.Model, &distance); err != nil {
			return nil, err
		}
		r.Score = 1 - distance
		out = append(out, r)
	}
	return out, rows.Err()
}

func (v *LibsqlStore) searchBlobFallback(ctx context.Context, kind EntityKind, queryVector []float32, k int) ([]ScoredRecord, error) {
	table, ok := entityTable[kind]
	if !ok {
		return nil, fmt.Errorf("vectorstore: unknown entity kind %q", kind)
	}

	rows, err := v.s.DB().QueryContext(ctx, fmt.Sprintf(
		`SELECT row_id, owning_entity_id, content, embedding_bytes, model_name FROM %s`, table,
	))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []ScoredRecord
	for rows.Next() {
		var r ScoredRecord
		var raw []byte
		if err := rows.Scan(&r.RowID, &r.EntityID, &r.Content, &raw, &r.Model); err != nil {
			return nil, err
		}
		vec := decodeFloat32s(raw)
		if len(vec) != len(queryVector) {
			return nil, fmt.Errorf("%w: row %s has %d dims, query has %d", ErrDimensionMismatch, r.RowID, len(vec), len(queryVector))
		}
		r.Embedding = vec
		r.Score = cosineSimilarity(queryVector, vec)
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (v *LibsqlStore) ExistingIDs(ctx context.Context, kind EntityKind, entityIDs []string) (map[string]bool, error) {
	table, ok := entityTable[kind]
	if !ok {
		return nil, fmt.Errorf("vectorstore: unknown entity kind %q", kind)
	}
	if len(entityIDs) == 0 {
		return map[string]bool{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityIDs)), ",")
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}

	rows, err := v.s.DB().QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT owning_entity_id FROM %s WHERE owning_entity_id IN (%s)`, table, placeholders,
	), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

func (v *LibsqlStore) Delete(ctx context.Context, kind EntityKind, rowIDs []string) error {
	table, ok := entityTable[kind]
	if !ok {
		return fmt.Errorf("vectorstore: unknown entity kind %q", kind)
	}
	if len(rowIDs) == 0 {
		return nil
	}

	return v.s.Transaction(ctx, func(tx *sql.Tx) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rowIDs)), ",")
		args := make([]any, len(rowIDs))
		for i, id := range rowIDs {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE row_id IN (%s)`, table, placeholders), args...); err != nil {
			return err
		}
		vecTable := "vec_" + string(kind)
		if exists, _ := tableExists(ctx, tx, vecTable); exists {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE row_id IN (%s)`, vecTable, placeholders), args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (v *LibsqlStore) ClearAll(ctx context.Context) error {
	return v.s.Transaction(ctx, func(tx *sql.Tx) error {
		for kind, table := range entityTable {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
				return err
			}
			vecTable := "vec_" + string(kind)
			if exists, _ := tableExists(ctx, tx, vecTable); exists {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, vecTable)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (v *LibsqlStore) Count(ctx context.Context, kind EntityKind) (int, error) {
	table, ok := entityTable[kind]
	if !ok {
		return 0, fmt.Errorf("vectorstore: unknown entity kind %q", kind)
	}
	var count int
	err := v.s.DB().QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count)
	return count, err
}

func tableExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var found string
	err := tx.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(raw []byte) []float32 {
	n := len(raw) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec
}

// vectorLiteral formats vec as the bracketed literal libsql's vector32()
// function expects, e.g. "[0.1,0.2,0.3]".
func vectorLiteral(vec []float32) string {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", f)
	}
	b.WriteByte(']')
	return b.String()
}
