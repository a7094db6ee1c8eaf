// Package migrations holds the schema of the trade ledger (PostgreSQL) and the
// price sample store (ClickHouse) and applies it at startup.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var ledgerSchema embed.FS

//go:embed clickhouse/*.sql
var samplesSchema embed.FS

// script is one migration file.
type script struct {
	name string
	body string
}

// scripts returns the non-empty .sql files of dir ordered by name. Every
// script must be safe to re-run.
func scripts(fsys fs.FS, dir string) ([]script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]script, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if body := strings.TrimSpace(string(data)); body != "" {
			out = append(out, script{name: name, body: body})
		}
	}
	return out, nil
}
