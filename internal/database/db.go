package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect はSQL方言を表す。
type Dialect string

const (
	// DialectPostgres はPostgreSQL（lib/pq）を表す。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite は組み込みSQLite（modernc.org/sqlite）を表す。
	DialectSQLite Dialect = "sqlite"
)

// sqlitePragmas はSQLite接続時に適用するプラグマ。
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// DetectDialect は接続URLのスキームからSQL方言を判定する。
func DetectDialect(databaseURL string) (Dialect, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database url scheme: %q", databaseURL)
	}
}

// Open はデータベース接続を開く。
// postgres:// はPostgreSQL、sqlite://<path> は組み込みSQLiteとして開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, Dialect, error) {
	dialect, err := DetectDialect(databaseURL)
	if err != nil {
		return nil, "", err
	}

	switch dialect {
	case DialectSQLite:
		db, err := sql.Open("sqlite", sqliteDSN(databaseURL))
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		// SQLiteは単一ライターのため接続を1本に絞り、書き込み競合を防ぐ
		db.SetMaxOpenConns(1)
		return db, dialect, nil
	default:
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		return db, dialect, nil
	}
}

// sqliteDSN は sqlite:// URL をmodernc.org/sqlite のDSNに変換する。
func sqliteDSN(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite://")
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + sqlitePragmas
}

// Rebind は ? プレースホルダを方言に合わせて書き換える。
// PostgreSQLでは $1, $2, ... に変換し、SQLiteではそのまま返す。
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
