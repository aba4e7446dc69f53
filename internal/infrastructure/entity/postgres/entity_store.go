package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kodeks-ai/lexrag/internal/core/domain"
	"github.com/kodeks-ai/lexrag/internal/infrastructure/resilience"
)

// EntityStore resolves citation strings against the canonical registry
// of statutes, courts and case numbers.
type EntityStore struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewEntityStore(db *sql.DB) *EntityStore {
	return &EntityStore{db: db}
}

// SetResilienceExecutor wraps lookups in the shared retry and
// circuit-breaker policy; callers fail open, so an open breaker only
// costs verification precision. Set before first use.
func (s *EntityStore) SetResilienceExecutor(executor *resilience.Executor) {
	s.executor = executor
}

func (s *EntityStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082802)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS legal_entities (
	id TEXT PRIMARY KEY,
	canonical TEXT NOT NULL,
	kind TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS legal_entity_aliases (
	alias_norm TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL REFERENCES legal_entities(id) ON DELETE CASCADE
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *EntityStore) Lookup(ctx context.Context, citation string) (*domain.Entity, error) {
	var entity domain.Entity
	call := func(callCtx context.Context) error {
		row := s.db.QueryRowContext(callCtx, `
SELECT e.id, e.canonical, e.kind
FROM legal_entity_aliases a
JOIN legal_entities e ON e.id = a.entity_id
WHERE a.alias_norm = $1
`, normalizeAlias(citation))

		if err := row.Scan(&entity.ID, &entity.Canonical, &entity.Kind); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.WrapError(domain.ErrEntityNotFound, "entity lookup", fmt.Errorf("no entity for %q", citation))
			}
			return domain.WrapError(domain.ErrTemporary, "entity lookup", err)
		}
		return nil
	}

	var err error
	if s.executor == nil {
		err = call(ctx)
	} else {
		err = s.executor.Execute(ctx, "entity.lookup", call, nil)
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// normalizeAlias folds a citation to lowercase alphanumeric tokens so
// "Art. 5 of the GDPR" and "art 5 of the gdpr" resolve identically.
// Aliases are stored pre-normalized the same way.
func normalizeAlias(citation string) string {
	tokens := strings.FieldsFunc(strings.ToLower(citation), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(tokens, " ")
}
