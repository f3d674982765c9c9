/*
Package history persists per prediction records to a local SQLite database
so past runs can be queried and aggregated.
*/
package history

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/swdee/go-roadsense"
)

// schema.sql creates the prediction_history table
//
//go:embed schema.sql
var schemaSQL string

// selectCols is the column list scanned into a Record
const selectCols = `id, timestamp, model_path, source_path, source_type,
	result_path, parameters, success, error_message, inference_time,
	num_detections, created_at`

// Record is one stored prediction outcome
type Record struct {
	// ID is the database row id, assigned on insert
	ID int64
	// Timestamp is when the prediction ran, RFC3339.  Set to the current
	// time when left empty
	Timestamp string
	// ModelPath is the primary model file used
	ModelPath string
	// SourcePath is the input image, folder, or video file
	SourcePath string
	// SourceType is one of image, folder, or video
	SourceType string
	// ResultPath is where the rendered output was saved, empty when
	// outputs were not written
	ResultPath string
	// Parameters records the inference settings used, free form text
	Parameters string
	// Success is false when the prediction failed
	Success bool
	// ErrorMessage carries the failure reason for unsuccessful records
	ErrorMessage string
	// InferenceTime is the model wall time in milliseconds
	InferenceTime float64
	// NumDetections is the fused detection count
	NumDetections int
	// CreatedAt is set by the database on insert
	CreatedAt string
}

// Filter selects a subset of the stored records
type Filter struct {
	// SourceLike matches a substring of the source path or model path
	SourceLike string
	// Since and Until bound the record timestamp, inclusive.  Empty
	// means unbounded
	Since string
	Until string
	// Success filters by outcome when set
	Success *bool
	// Limit caps the number of returned records, zero means no cap
	Limit int
}

// where builds the WHERE clause and arguments for the filter.  Limit is
// handled by the caller as it does not apply to aggregation.
func (f Filter) where() (string, []any) {

	var conds []string
	var args []any

	if f.SourceLike != "" {
		conds = append(conds, "(source_path LIKE ? OR model_path LIKE ?)")
		like := "%" + f.SourceLike + "%"
		args = append(args, like, like)
	}

	if f.Since != "" {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since)
	}

	if f.Until != "" {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Until)
	}

	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *f.Success)
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// Stats summarizes a set of prediction records
type Stats struct {
	// Total is the number of records matched
	Total int
	// SuccessCount and FailureCount split the total by outcome
	SuccessCount int
	FailureCount int
	// AvgInferenceTime is the mean inference time in milliseconds over
	// the successful records only
	AvgInferenceTime float64
	// TotalDetections sums the detection counts
	TotalDetections int
}

// Store reads and writes the prediction history database.  Writes are
// serialized by a store level mutex, reads run concurrently.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// Open opens or creates the history database at the given path and applies
// the schema.  A nil logger disables logging.
func Open(path string, logger *zap.Logger) (*Store, error) {

	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)

	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v",
			roadsense.ErrPersistence, path, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: applying schema to %s: %v",
			roadsense.ErrPersistence, path, err)
	}

	logger.Info("prediction history opened", zap.String("path", path))

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a prediction record and returns its row id
func (s *Store) Record(rec Record) (int64, error) {

	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().Format(time.RFC3339)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO prediction_history
			(timestamp, model_path, source_path, source_type, result_path,
			 parameters, success, error_message, inference_time,
			 num_detections)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.ModelPath, rec.SourcePath, rec.SourceType,
		rec.ResultPath, rec.Parameters, rec.Success, rec.ErrorMessage,
		rec.InferenceTime, rec.NumDetections)

	if err != nil {
		return 0, fmt.Errorf("%w: inserting record: %v",
			roadsense.ErrPersistence, err)
	}

	id, err := res.LastInsertId()

	if err != nil {
		return 0, fmt.Errorf("%w: reading insert id: %v",
			roadsense.ErrPersistence, err)
	}

	s.logger.Debug("prediction recorded",
		zap.Int64("id", id),
		zap.String("source", rec.SourcePath),
		zap.Bool("success", rec.Success),
	)

	return id, nil
}

// Query returns the records matching the filter, newest first
func (s *Store) Query(f Filter) ([]Record, error) {

	where, args := f.where()

	query := "SELECT " + selectCols + " FROM prediction_history" + where +
		" ORDER BY id DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)

	if err != nil {
		return nil, fmt.Errorf("%w: querying history: %v",
			roadsense.ErrPersistence, err)
	}

	defer rows.Close()

	var records []Record

	for rows.Next() {
		var rec Record

		err = rows.Scan(&rec.ID, &rec.Timestamp, &rec.ModelPath,
			&rec.SourcePath, &rec.SourceType, &rec.ResultPath,
			&rec.Parameters, &rec.Success, &rec.ErrorMessage,
			&rec.InferenceTime, &rec.NumDetections, &rec.CreatedAt)

		if err != nil {
			return nil, fmt.Errorf("%w: scanning record: %v",
				roadsense.ErrPersistence, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading records: %v",
			roadsense.ErrPersistence, err)
	}

	return records, nil
}

// Recent returns the newest records up to the given limit
func (s *Store) Recent(limit int) ([]Record, error) {
	return s.Query(Filter{Limit: limit})
}

// Get returns the record with the given id, or sql.ErrNoRows when absent
func (s *Store) Get(id int64) (Record, error) {

	var rec Record

	err := s.db.QueryRow("SELECT "+selectCols+
		" FROM prediction_history WHERE id = ?", id).Scan(
		&rec.ID, &rec.Timestamp, &rec.ModelPath, &rec.SourcePath,
		&rec.SourceType, &rec.ResultPath, &rec.Parameters, &rec.Success,
		&rec.ErrorMessage, &rec.InferenceTime, &rec.NumDetections,
		&rec.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}

	if err != nil {
		return Record{}, fmt.Errorf("%w: reading record %d: %v",
			roadsense.ErrPersistence, id, err)
	}

	return rec, nil
}

// Delete removes the record with the given id, or returns sql.ErrNoRows
// when absent
func (s *Store) Delete(id int64) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM prediction_history WHERE id = ?", id)

	if err != nil {
		return fmt.Errorf("%w: deleting record %d: %v",
			roadsense.ErrPersistence, id, err)
	}

	n, err := res.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: deleting record %d: %v",
			roadsense.ErrPersistence, id, err)
	}

	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// Clear removes all records
func (s *Store) Clear() error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM prediction_history"); err != nil {
		return fmt.Errorf("%w: clearing history: %v",
			roadsense.ErrPersistence, err)
	}

	s.logger.Info("prediction history cleared")

	return nil
}

// Aggregate summarizes the records matching the optional filter.  The
// statistics are computed in a single statement so the counts and the
// average stay consistent with each other under concurrent inserts.
func (s *Store) Aggregate(f *Filter) (Stats, error) {

	var where string
	var args []any

	if f != nil {
		where, args = f.where()
	}

	query := `SELECT COUNT(*),
		COALESCE(SUM(success), 0),
		COALESCE(AVG(CASE WHEN success = 1 THEN inference_time END), 0),
		COALESCE(SUM(num_detections), 0)
		FROM prediction_history` + where

	var stats Stats

	err := s.db.QueryRow(query, args...).Scan(&stats.Total,
		&stats.SuccessCount, &stats.AvgInferenceTime,
		&stats.TotalDetections)

	if err != nil {
		return Stats{}, fmt.Errorf("%w: aggregating history: %v",
			roadsense.ErrPersistence, err)
	}

	stats.FailureCount = stats.Total - stats.SuccessCount

	return stats, nil
}
