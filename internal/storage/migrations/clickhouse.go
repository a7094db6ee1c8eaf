package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "alpha-mirror/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the sample database named in dsn, applies
// the price sample schema and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	files, err := scripts(samplesSchema, "clickhouse")
	if err != nil {
		return nil, err
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		adminConn.Close()
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	for _, f := range files {
		// The driver runs one statement per Exec.
		stmts, err := splitStatements(f.body)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("parse samples migration %s: %w", f.name, err)
		}
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply samples migration %s: %w", f.name, err)
			}
		}
	}
	return conn, nil
}

// splitStatements splits a script on semicolons outside single-quoted
// literals. Whole-line -- comments are dropped.
func splitStatements(body string) ([]string, error) {
	var (
		stmts  []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		cur.Reset()
	}

	for _, line := range strings.Split(body, "\n") {
		if !quoted && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for i := 0; i < len(line); i++ {
			ch := line[i]
			switch {
			case quoted && ch == '\\' && i+1 < len(line):
				cur.WriteByte(ch)
				i++
				ch = line[i]
			case ch == '\'':
				quoted = !quoted
			case ch == ';' && !quoted:
				flush()
				continue
			}
			cur.WriteByte(ch)
		}
		cur.WriteByte('\n')
	}
	if quoted {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
