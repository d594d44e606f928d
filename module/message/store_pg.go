package message

import (
	"WaRelay/tools/errs"
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	session_id      TEXT        NOT NULL,
	sender          TEXT        NOT NULL,
	direction       TEXT        NOT NULL,
	type            TEXT        NOT NULL,
	content         TEXT        NOT NULL,
	metadata        JSONB,
	concat_group_id TEXT,
	external_id     TEXT,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS messages_concat_group_uq ON messages (concat_group_id) WHERE concat_group_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS messages_external_uq ON messages (session_id, external_id) WHERE external_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS messages_session_idx ON messages (session_id, created_at);
`

// PgStore messages 表；不持有 pool，调用方负责 Close
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema 幂等建表
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgSchema)
	return err
}

// Insert 唯一冲突（concat_group_id / external_id）时不写入，返回 false
func (s *PgStore) Insert(ctx context.Context, m *Message) (bool, error) {
	if m.SessionID == "" {
		return false, ErrMissingSession
	}
	meta, err := encodeMetadata(m.Metadata)
	if err != nil {
		return false, errs.WrapMsg(err, "", "message", m.ID)
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO messages (id, session_id, sender, direction, type, content, metadata, concat_group_id, external_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT DO NOTHING`,
		m.ID, m.SessionID, m.Sender, m.Direction, m.Type, m.Content,
		meta, nullIfEmpty(m.ConcatGroupID), nullIfEmpty(m.ExternalID), m.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ListBySession(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, sender, direction, type, content, metadata,
       COALESCE(concat_group_id, ''), COALESCE(external_id, ''), created_at
FROM messages WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Message, error) {
		var (
			m    Message
			meta []byte
		)
		if err := row.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Direction, &m.Type, &m.Content,
			&meta, &m.ConcatGroupID, &m.ExternalID, &m.CreatedAt); err != nil {
			return nil, err
		}
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, errs.WrapMsg(err, "", "message", m.ID)
		}
		m.Metadata = md
		return &m, nil
	})
}

// encodeMetadata nil 存为 SQL NULL
func encodeMetadata(md *Metadata) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, errs.ErrInternal.WrapMsg("encode metadata: " + err.Error())
	}
	return b, nil
}

func decodeMetadata(raw []byte) (*Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	md := &Metadata{}
	if err := json.Unmarshal(raw, md); err != nil {
		return nil, errs.ErrInternal.WrapMsg("decode metadata: " + err.Error())
	}
	return md, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
