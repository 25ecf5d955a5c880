package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// SessionRepository 会话聚合的 SQLite 仓储
// 聚合整体序列化为 JSON 存储；回合提交把会话状态与幂等记录放进同一事务，
// 提交失败时两者都不落盘，持久化状态始终等于上一个已提交回合
type SessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSessionRepository 创建会话仓储实例
func NewSessionRepository(db *sql.DB) *SessionRepository {
	if err := initSessionTables(db); err != nil {
		// 初始化失败时记录错误但不阻止创建
		fmt.Printf("failed to init session tables: %v\n", err)
	}
	return &SessionRepository{
		db:     db,
		logger: log.NewModuleLogger("storage", "session"),
	}
}

// initSessionTables 初始化会话相关表
func initSessionTables(db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	createTurnTableSQL := `
	CREATE TABLE IF NOT EXISTS turn_results (
		session_id TEXT NOT NULL,
		idem_key TEXT NOT NULL,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, idem_key)
	);`

	if _, err := db.Exec(createTurnTableSQL); err != nil {
		return fmt.Errorf("failed to create turn_results table: %w", err)
	}

	createIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);`

	if _, err := db.Exec(createIndexSQL); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}

	return nil
}

// Load 读取会话聚合
func (r *SessionRepository) Load(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT state FROM sessions WHERE id = ?`

	var state string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(state), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &sess, nil
}

// Commit 整体提交一个回合
// 会话状态与幂等记录同事务写入；任一失败则全部回滚
func (r *SessionRepository) Commit(ctx context.Context, sess *session.Session, idemKey string, result *session.TurnResult) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsertSQL := `
		INSERT OR REPLACE INTO sessions
		(id, user_id, status, stage, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, upsertSQL,
		sess.ID,
		sess.UserID,
		string(sess.Status),
		string(sess.Stage),
		string(state),
		sess.CreatedAt.UnixMilli(),
		sess.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if idemKey != "" && result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode turn result: %w", err)
		}
		turnSQL := `
			INSERT OR REPLACE INTO turn_results
			(session_id, idem_key, result, created_at)
			VALUES (?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, turnSQL, sess.ID, idemKey, string(encoded), time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to save turn result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	r.logger.Debug("Committed turn",
		"session_id", sess.ID,
		"turn", sess.TurnCounter,
		"stage", sess.Stage,
	)
	return nil
}

// FindTurnResult 按幂等键查找已提交的回合结果，未命中返回 (nil, nil)
func (r *SessionRepository) FindTurnResult(ctx context.Context, sessionID, idemKey string) (*session.TurnResult, error) {
	query := `SELECT result FROM turn_results WHERE session_id = ? AND idem_key = ?`

	var encoded string
	err := r.db.QueryRowContext(ctx, query, sessionID, idemKey).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find turn result: %w", err)
	}

	var result session.TurnResult
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return nil, fmt.Errorf("failed to decode turn result: %w", err)
	}
	return &result, nil
}

// ListByUser 按最近更新排序列出用户的会话
func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	query := `SELECT state FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(state), &sess); err != nil {
			return nil, fmt.Errorf("failed to decode session state: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// Archive 归档会话
func (r *SessionRepository) Archive(ctx context.Context, id string) error {
	sess, err := r.Load(ctx, id)
	if err != nil {
		return err
	}
	sess.Archive()
	return r.Commit(ctx, sess, "", nil)
}
