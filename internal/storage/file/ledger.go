package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

// Ledger appends trade rows to a JSONL file. It is safe for concurrent use.
type Ledger struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
	ids  map[string]struct{}
}

// OpenLedger opens (or creates) the JSONL ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, ids: make(map[string]struct{})}
	rows, err := l.readAll()
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		l.ids[r.ID] = struct{}{}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l.file = f
	l.w = bufio.NewWriter(f)
	if err := l.terminateTornLine(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// terminateTornLine makes sure appends start on a new line after a crash left
// a partial record at the end of the file.
func (l *Ledger) terminateTornLine() error {
	r, err := os.Open(l.path)
	if err != nil {
		return err
	}
	defer r.Close()
	info, err := r.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

// Append writes row as one JSON line and flushes it.
func (l *Ledger) Append(_ context.Context, row *domain.TradeRow) error {
	if row == nil || row.ID == "" || row.TradeID == "" {
		return storage.ErrInvalidInput
	}
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return os.ErrClosed
	}
	if _, exists := l.ids[row.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, err := l.w.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	l.ids[row.ID] = struct{}{}
	return nil
}

// GetByTradeID scans the file for rows of one trade, ordered by timestamp ASC.
func (l *Ledger) GetByTradeID(_ context.Context, tradeID string) ([]*domain.TradeRow, error) {
	l.mu.Lock()
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			l.mu.Unlock()
			return nil, err
		}
	}
	l.mu.Unlock()

	rows, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var result []*domain.TradeRow
	for _, r := range rows {
		if r.TradeID == tradeID {
			result = append(result, r)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (l *Ledger) readAll() ([]*domain.TradeRow, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var rows []*domain.TradeRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r domain.TradeRow
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			// A torn final line from a crash is skipped.
			continue
		}
		rows = append(rows, &r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger %s line %d: %w", l.path, line, err)
	}
	return rows, nil
}

// Close flushes and closes the file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	flushErr := l.w.Flush()
	closeErr := l.file.Close()
	l.file, l.w = nil, nil
	return errors.Join(flushErr, closeErr)
}

var _ storage.TradeLedger = (*Ledger)(nil)
