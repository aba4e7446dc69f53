package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
)

// LexicalBackend serves full-text passage search over Postgres.
type LexicalBackend struct {
	db *sql.DB
}

func NewLexicalBackend(db *sql.DB) *LexicalBackend {
	return &LexicalBackend{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (b *LexicalBackend) EnsureSchema(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent api startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS passages (
	doc_id TEXT NOT NULL,
	passage_offset INTEGER NOT NULL,
	tenant_id TEXT NOT NULL,
	case_id TEXT NOT NULL DEFAULT '',
	visibility TEXT NOT NULL DEFAULT 'internal',
	doc_type TEXT NOT NULL DEFAULT '',
	jurisdiction TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', coalesce(title, '') || ' ' || content)) STORED,
	PRIMARY KEY (doc_id, passage_offset)
);

CREATE INDEX IF NOT EXISTS idx_passages_tsv ON passages USING GIN (tsv);
CREATE INDEX IF NOT EXISTS idx_passages_tenant_case ON passages(tenant_id, case_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (b *LexicalBackend) Source() domain.Source {
	return domain.SourceLexical
}

func (b *LexicalBackend) Search(ctx context.Context, queryText string, scope domain.ScopeFilter, filters map[string]string, topK int) ([]domain.EvidenceItem, error) {
	query, args := buildSearchQuery(queryText, scope, filters, topK)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "lexical search", err)
	}
	defer rows.Close()

	var items []domain.EvidenceItem
	for rows.Next() {
		var (
			docID        string
			offset       int
			content      string
			title        string
			docType      string
			jurisdiction string
			caseID       string
			visibility   string
			rank         float64
		)
		if err := rows.Scan(&docID, &offset, &content, &title, &docType, &jurisdiction, &caseID, &visibility, &rank); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		items = append(items, domain.EvidenceItem{
			Source:     domain.SourceLexical,
			DocumentID: docID,
			Offset:     offset,
			Text:       content,
			RawScore:   rank,
			// ts_rank_cd is unbounded above; rank/(rank+1) maps it onto [0,1).
			NormScore: rank / (rank + 1),
			Metadata: map[string]string{
				domain.MetaTenantID:     scope.TenantID,
				domain.MetaCaseID:       caseID,
				domain.MetaVisibility:   visibility,
				domain.MetaDocType:      docType,
				domain.MetaJurisdiction: jurisdiction,
				domain.MetaTitle:        title,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "lexical search", err)
	}
	return items, nil
}

// buildSearchQuery pushes the whole scope down to the server so rows
// outside the tenant never cross the wire.
func buildSearchQuery(queryText string, scope domain.ScopeFilter, filters map[string]string, topK int) (string, []any) {
	var sb strings.Builder
	args := []any{queryText, scope.TenantID}

	sb.WriteString(`
SELECT doc_id, passage_offset, content, title, doc_type, jurisdiction, case_id, visibility,
	ts_rank_cd(tsv, q) AS rank
FROM passages, websearch_to_tsquery('simple', $1) q
WHERE tsv @@ q
	AND tenant_id = $2`)

	appendInClause(&sb, &args, "case_id", scope.AllowedCases)
	appendInClause(&sb, &args, "visibility", scope.AllowedVisibility)

	for _, key := range []string{domain.MetaDocType, domain.MetaJurisdiction} {
		if value, ok := filters[key]; ok {
			args = append(args, value)
			fmt.Fprintf(&sb, "\n\tAND %s = $%d", key, len(args))
		}
	}

	args = append(args, topK)
	fmt.Fprintf(&sb, "\nORDER BY rank DESC, doc_id ASC, passage_offset ASC\nLIMIT $%d", len(args))
	return sb.String(), args
}

func appendInClause(sb *strings.Builder, args *[]any, column string, values []string) {
	if len(values) == 0 {
		return
	}
	placeholders := make([]string, len(values))
	for i, value := range values {
		*args = append(*args, value)
		placeholders[i] = fmt.Sprintf("$%d", len(*args))
	}
	fmt.Fprintf(sb, "\n\tAND %s IN (%s)", column, strings.Join(placeholders, ","))
}
