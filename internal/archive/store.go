// Package archive is the cold log store: an on-disk SQLite database holding
// finished TaskRun pods, their manifests, and every container's log lines so
// they can be replayed after the cluster has garbage collected the pod.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when the archive has no record for the requested object.
var ErrNotFound = errors.New("not found in archive")

const (
	createSchemaStmt = `
CREATE TABLE IF NOT EXISTS taskruns (
    namespace TEXT NOT NULL,
    name TEXT NOT NULL,
    task_name TEXT,
    pod TEXT,
    pipelinerun TEXT,
    started_at TEXT,
    completed_at TEXT,
    PRIMARY KEY (namespace, name)
);
CREATE TABLE IF NOT EXISTS pods (
    namespace TEXT NOT NULL,
    name TEXT NOT NULL,
    uid TEXT,
    taskrun TEXT,
    manifest TEXT NOT NULL,
    archived_at TEXT NOT NULL,
    PRIMARY KEY (namespace, name)
);
CREATE TABLE IF NOT EXISTS containers (
    namespace TEXT NOT NULL,
    pod TEXT NOT NULL,
    container TEXT NOT NULL,
    lines INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (namespace, pod, container)
);
CREATE TABLE IF NOT EXISTS container_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace TEXT NOT NULL,
    pod TEXT NOT NULL,
    container TEXT NOT NULL,
    seq INTEGER NOT NULL,
    line TEXT NOT NULL
);`
	createIndexesStmt = `
CREATE INDEX IF NOT EXISTS idx_container_logs_seq ON container_logs(namespace, pod, container, seq);
CREATE INDEX IF NOT EXISTS idx_taskruns_pipelinerun ON taskruns(namespace, pipelinerun);`
	insertLineStmt = `INSERT INTO container_logs(namespace, pod, container, seq, line) VALUES(?, ?, ?, ?, ?)`
)

// TaskRunRecord is the archived summary of a Tekton TaskRun.
type TaskRunRecord struct {
	Namespace   string
	Name        string
	TaskName    string
	Pod         string
	PipelineRun string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Store reads and writes a log archive.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating when needed) the archive at path.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("archive path cannot be empty")
	}
	dir := filepath.Dir(p)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}
	return openDatabase(p)
}

// OpenExisting opens the archive at path without creating it. A missing file
// yields an error wrapping ErrNotFound.
func OpenExisting(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, fmt.Errorf("archive path is empty: %w", ErrNotFound)
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("archive %s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return openDatabase(p)
}

func openDatabase(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createSchemaStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure archive tables: %w", err)
	}
	if err := ensureColumn(ctx, db, "taskruns", "completed_at", "TEXT"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, createIndexesStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure archive indexes: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the on-disk location of the archive.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutTaskRun records or replaces a task run summary.
func (s *Store) PutTaskRun(ctx context.Context, rec TaskRunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO taskruns(namespace, name, task_name, pod, pipelinerun, started_at, completed_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.Namespace, rec.Name, rec.TaskName, rec.Pod, rec.PipelineRun, formatTime(rec.StartedAt), formatTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("store task run %s/%s: %w", rec.Namespace, rec.Name, err)
	}
	return nil
}

// PutPod records or replaces a pod manifest.
func (s *Store) PutPod(ctx context.Context, taskRun string, pod *corev1.Pod) error {
	if pod == nil {
		return errors.New("pod is nil")
	}
	manifest, err := yaml.Marshal(pod)
	if err != nil {
		return fmt.Errorf("encode pod manifest: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pods(namespace, name, uid, taskrun, manifest, archived_at) VALUES(?, ?, ?, ?, ?, ?)`,
		pod.Namespace, pod.Name, string(pod.UID), taskRun, string(manifest), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
	return nil
}

// ReplaceLog overwrites a container's archived log with lines.
func (s *Store) ReplaceLog(ctx context.Context, namespace, pod, container string, lines []string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM container_logs WHERE namespace = ? AND pod = ? AND container = ?`, namespace, pod, container); err != nil {
		return fmt.Errorf("clear archived log: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertLineStmt)
	if err != nil {
		return fmt.Errorf("prepare insert statement: %w", err)
	}
	defer stmt.Close()
	for i, line := range lines {
		if _, err = stmt.ExecContext(ctx, namespace, pod, container, i+1, line); err != nil {
			return fmt.Errorf("insert log line: %w", err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO containers(namespace, pod, container, lines) VALUES(?, ?, ?, ?)`,
		namespace, pod, container, len(lines)); err != nil {
		return fmt.Errorf("index archived container: %w", err)
	}
	return tx.Commit()
}

// GetPod returns the archived pod manifest.
func (s *Store) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	var manifest string
	err := s.db.QueryRowContext(ctx, `SELECT manifest FROM pods WHERE namespace = ? AND name = ?`, namespace, name).Scan(&manifest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pod %s/%s: %w", namespace, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read archived pod: %w", err)
	}
	var pod corev1.Pod
	if err := yaml.Unmarshal([]byte(manifest), &pod); err != nil {
		return nil, fmt.Errorf("decode archived pod %s/%s: %w", namespace, name, err)
	}
	return &pod, nil
}

// GetTaskRun returns an archived task run summary.
func (s *Store) GetTaskRun(ctx context.Context, namespace, name string) (TaskRunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT namespace, name, task_name, pod, pipelinerun, started_at, completed_at FROM taskruns WHERE namespace = ? AND name = ?`,
		namespace, name)
	rec, err := scanTaskRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRunRecord{}, fmt.Errorf("task run %s/%s: %w", namespace, name, ErrNotFound)
	}
	return rec, err
}

// ListTaskRuns returns the archived task runs of a pipeline run ordered by start time.
func (s *Store) ListTaskRuns(ctx context.Context, namespace, pipelineRun string) ([]TaskRunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, name, task_name, pod, pipelinerun, started_at, completed_at FROM taskruns
		 WHERE namespace = ? AND pipelinerun = ? ORDER BY started_at, name`,
		namespace, pipelineRun)
	if err != nil {
		return nil, fmt.Errorf("list archived task runs: %w", err)
	}
	defer rows.Close()
	var out []TaskRunRecord
	for rows.Next() {
		rec, err := scanTaskRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTaskRun(scan func(dest ...any) error) (TaskRunRecord, error) {
	var (
		rec                           TaskRunRecord
		taskName, pod, pr, start, end sql.NullString
	)
	if err := scan(&rec.Namespace, &rec.Name, &taskName, &pod, &pr, &start, &end); err != nil {
		return TaskRunRecord{}, err
	}
	rec.TaskName = taskName.String
	rec.Pod = pod.String
	rec.PipelineRun = pr.String
	rec.StartedAt = parseTime(start.String)
	rec.CompletedAt = parseTime(end.String)
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, v)
	return t
}

// ensureColumn adds a column to archives created before it existed.
func ensureColumn(ctx context.Context, db *sql.DB, table, column, decl string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect archive table %s: %w", table, err)
	}
	found := false
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("inspect archive table %s: %w", table, err)
		}
		if name == column {
			found = true
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil || found {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add archive column %s.%s: %w", table, column, err)
	}
	return nil
}
