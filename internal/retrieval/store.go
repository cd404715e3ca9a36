package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/tutorcore/internal/storage"
)

// Compile-time check that SQLiteStore implements ContentStore.
var _ ContentStore = (*SQLiteStore)(nil)

// SQLiteStore keeps content fragments in SQLite. Vector search is a
// brute-force cosine scan; lexical search uses the FTS5 index maintained by
// triggers on content_fragments.
//
// The brute-force scan is fine for course-sized corpora (tens of thousands of
// fragments). Past that an ANN index would be needed.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore wraps an existing *sql.DB. The content_fragments table must
// already exist (created via storage migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, logger: slog.Default()}
}

const fragmentColumns = `id, subject, topic, text, embedding, created_at`

// Insert adds fragments. A nil Embedding leaves the fragment pending for the
// backfill worker.
func (s *SQLiteStore) Insert(ctx context.Context, frags []Fragment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO content_fragments (`+fragmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range frags {
		var blob []byte
		if f.Embedding != nil {
			blob = encodeFloat32s(f.Embedding)
		}
		createdAt := f.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, f.ID, f.Subject, f.Topic, f.Text, blob, createdAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting fragment %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns a single fragment, or storage.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Fragment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fragmentColumns+` FROM content_fragments WHERE id = ?`, id)
	f, err := scanFragment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Fragment{}, storage.ErrNotFound
	}
	return f, err
}

// seqScore holds only the row key and score during the scan phase of
// VectorSearch. Full fragments are fetched only for the winners.
type seqScore struct {
	Seq   int64
	Score float32
}

// VectorSearch performs brute-force cosine similarity over every fragment
// that has an embedding and returns the closest limit fragments, most
// similar first.
func (s *SQLiteStore) VectorSearch(ctx context.Context, vec []float32, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only seq + embedding to find the top candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT seq, embedding FROM content_fragments WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	h := &seqScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	var mismatched int
	for rows.Next() {
		var seq int64
		var blob []byte
		if err := rows.Scan(&seq, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for row %d: %w", seq, err)
		}

		// Embeddings from another model live in a different space.
		if len(buf) != len(vec) {
			mismatched++
			continue
		}

		score := dotProduct(vec, buf, queryNorm)
		if h.Len() < limit {
			heap.Push(h, seqScore{Seq: seq, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = seqScore{Seq: seq, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	// The store runs on a single connection; release it before phase 2.
	rows.Close()

	if mismatched > 0 {
		s.logger.Debug("skipped embeddings with a different dimension", "count", mismatched, "query_dim", len(vec))
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full fragments only for the winners.
	scores := make(map[int64]float32, h.Len())
	args := make([]any, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(seqScore)
		scores[item.Seq] = item.Score
		args = append(args, item.Seq)
	}

	fullRows, err := s.db.QueryContext(ctx, `SELECT seq, `+fragmentColumns+`
		FROM content_fragments WHERE seq IN (?`+strings.Repeat(",?", len(args)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top fragments: %w", err)
	}
	defer fullRows.Close()

	var results []Result
	for fullRows.Next() {
		var seq int64
		f, err := scanFragment(fullRows, &seq)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Fragment: f, Provenance: ProvenanceVector, Score: scores[seq]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating top fragments: %w", err)
	}

	// The IN query doesn't preserve order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// LexicalSearch runs an FTS5 MATCH and returns up to limit fragments, best
// bm25 rank first. Score is the negated bm25 value so higher is better.
func (s *SQLiteStore) LexicalSearch(ctx context.Context, expr string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT bm25(content_fragments_fts), f.id, f.subject, f.topic, f.text, f.embedding, f.created_at
		FROM content_fragments_fts
		JOIN content_fragments f ON f.seq = content_fragments_fts.rowid
		WHERE content_fragments_fts MATCH ?
		ORDER BY bm25(content_fragments_fts)
		LIMIT ?`, expr, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var rank float64
		f, err := scanFragment(rows, &rank)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Fragment: f, Provenance: ProvenanceKeyword, Score: float32(-rank)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full-text results: %w", err)
	}
	return results, nil
}

// SubstringSearch matches term case-insensitively against subject, topic and
// text in insertion order. LIKE wildcards in term are matched literally.
func (s *SQLiteStore) SubstringSearch(ctx context.Context, term string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fragmentColumns+`
		FROM content_fragments
		WHERE LOWER(subject) LIKE ?1 ESCAPE '\'
		   OR LOWER(topic) LIKE ?1 ESCAPE '\'
		   OR LOWER(text) LIKE ?1 ESCAPE '\'
		ORDER BY seq
		LIMIT ?2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Fragment: f, Provenance: ProvenanceFallback})
	}
	return results, rows.Err()
}

// PendingEmbeddings returns up to limit fragments without an embedding that
// were inserted after the fragment afterID (or from the start when afterID is
// empty), in insertion order.
func (s *SQLiteStore) PendingEmbeddings(ctx context.Context, afterID string, limit int) ([]Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fragmentColumns+`
		FROM content_fragments
		WHERE embedding IS NULL
		  AND seq > COALESCE((SELECT seq FROM content_fragments WHERE id = ?), 0)
		ORDER BY seq
		LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending fragments: %w", err)
	}
	defer rows.Close()

	var frags []Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		frags = append(frags, f)
	}
	return frags, rows.Err()
}

// SetEmbedding stores the embedding for a fragment.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE content_fragments SET embedding = ? WHERE id = ?`, encodeFloat32s(vec), id)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("fragment %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// Coverage counts fragments and how many of them have embeddings.
type Coverage struct {
	Total          int `json:"total"`
	WithEmbeddings int `json:"with_embeddings"`
}

// Percent returns the share of embedded fragments in [0, 100].
func (c Coverage) Percent() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.WithEmbeddings) / float64(c.Total) * 100
}

// Coverage reports embedding coverage over all fragments.
func (s *SQLiteStore) Coverage(ctx context.Context) (Coverage, error) {
	var c Coverage
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(embedding) FROM content_fragments`).Scan(&c.Total, &c.WithEmbeddings)
	if err != nil {
		return Coverage{}, fmt.Errorf("counting fragments: %w", err)
	}
	return c, nil
}

// PreviewMatch is a short view of a fragment used by debug search.
type PreviewMatch struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Topic        string `json:"topic"`
	Preview      string `json:"preview"`
	HasEmbedding bool   `json:"has_embedding"`
}

const previewLength = 100

// Preview lists fragments whose text or topic contains term, with the first
// characters of their text.
func (s *SQLiteStore) Preview(ctx context.Context, term string, limit int) ([]PreviewMatch, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, topic, substr(text, 1, ?1), embedding IS NOT NULL
		FROM content_fragments
		WHERE LOWER(text) LIKE ?2 ESCAPE '\' OR LOWER(topic) LIKE ?2 ESCAPE '\'
		ORDER BY seq
		LIMIT ?3`, previewLength, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("preview search: %w", err)
	}
	defer rows.Close()

	var matches []PreviewMatch
	for rows.Next() {
		var m PreviewMatch
		if err := rows.Scan(&m.ID, &m.Subject, &m.Topic, &m.Preview, &m.HasEmbedding); err != nil {
			return nil, fmt.Errorf("scanning preview: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanFragment scans fragmentColumns, preceded by any extra leading columns.
func scanFragment(row rowScanner, leading ...any) (Fragment, error) {
	var f Fragment
	var blob []byte
	var createdAt string
	dest := append(leading, &f.ID, &f.Subject, &f.Topic, &f.Text, &blob, &createdAt)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Fragment{}, err
		}
		return Fragment{}, fmt.Errorf("scanning fragment: %w", err)
	}
	if blob != nil {
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return Fragment{}, fmt.Errorf("decoding embedding for %s: %w", f.ID, err)
		}
		f.Embedding = vec
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Fragment{}, fmt.Errorf("parsing created_at for %s: %w", f.ID, err)
	}
	f.CreatedAt = t
	return f, nil
}

// escapeLike escapes LIKE wildcards for use with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it only
// when needed. Lengths that are not a multiple of 4 indicate corruption.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// seqScoreHeap is a min-heap of seqScore ordered by Score.
type seqScoreHeap []seqScore

func (h seqScoreHeap) Len() int           { return len(h) }
func (h seqScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h seqScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *seqScoreHeap) Push(x any)        { *h = append(*h, x.(seqScore)) }
func (h *seqScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
