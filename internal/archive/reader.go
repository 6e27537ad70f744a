// reader.go streams archived container logs back out in their original order.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
)

const logPageSize = 500

// OpenLog returns a reader over an archived container log, one line per row
// terminated by '\n'. Rows are fetched a page at a time so the single database
// connection is never pinned by a slow reader.
func (s *Store) OpenLog(ctx context.Context, namespace, pod, container string) (io.ReadCloser, error) {
	var lines int64
	err := s.db.QueryRowContext(ctx,
		`SELECT lines FROM containers WHERE namespace = ? AND pod = ? AND container = ?`,
		namespace, pod, container).Scan(&lines)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("log of %s/%s[%s]: %w", namespace, pod, container, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup archived container: %w", err)
	}
	return &pagedReader{
		ctx:       ctx,
		store:     s,
		namespace: namespace,
		pod:       pod,
		container: container,
		done:      lines == 0,
	}, nil
}

type pagedReader struct {
	ctx       context.Context
	store     *Store
	namespace string
	pod       string
	container string
	lastSeq   int64
	buf       bytes.Buffer
	done      bool
	closed    bool
}

func (r *pagedReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	for r.buf.Len() == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.fetchPage(); err != nil {
			return 0, err
		}
	}
	return r.buf.Read(p)
}

func (r *pagedReader) fetchPage() error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	rows, err := r.store.db.QueryContext(r.ctx,
		`SELECT seq, line FROM container_logs
		 WHERE namespace = ? AND pod = ? AND container = ? AND seq > ?
		 ORDER BY seq LIMIT ?`,
		r.namespace, r.pod, r.container, r.lastSeq, logPageSize)
	if err != nil {
		return fmt.Errorf("read archived log page: %w", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var (
			seq  int64
			line string
		)
		if err := rows.Scan(&seq, &line); err != nil {
			return err
		}
		r.lastSeq = seq
		r.buf.WriteString(line)
		r.buf.WriteByte('\n')
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if count < logPageSize {
		r.done = true
	}
	return nil
}

func (r *pagedReader) Close() error {
	r.closed = true
	r.buf.Reset()
	return nil
}
