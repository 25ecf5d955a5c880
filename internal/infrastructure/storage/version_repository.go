package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/thinkinglens/backend/internal/domain/version"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// VersionRepository 版本快照的 SQLite 仓储
// 追加式写入：版本号在事务内按会话取 MAX+1，已写入的行只允许补记导出链接
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewVersionRepository 创建版本仓储实例
func NewVersionRepository(db *sql.DB) *VersionRepository {
	if err := initVersionTable(db); err != nil {
		// 初始化失败时记录错误但不阻止创建
		fmt.Printf("failed to init versions table: %v\n", err)
	}
	return &VersionRepository{
		db:     db,
		logger: log.NewModuleLogger("storage", "version"),
	}
}

// initVersionTable 初始化版本表
func initVersionTable(db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS versions (
		session_id TEXT NOT NULL,
		version_id INTEGER NOT NULL,
		reason TEXT NOT NULL,
		contents TEXT NOT NULL,
		rubric_scores TEXT NOT NULL,
		export_links TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, version_id)
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create versions table: %w", err)
	}
	return nil
}

// Append 追加一个版本并回填分配的版本号
func (r *VersionRepository) Append(ctx context.Context, v *version.Version) error {
	contents, err := json.Marshal(v.Contents)
	if err != nil {
		return fmt.Errorf("failed to encode version contents: %w", err)
	}
	scores, err := json.Marshal(v.RubricScores)
	if err != nil {
		return fmt.Errorf("failed to encode rubric scores: %w", err)
	}
	links, err := json.Marshal(v.ExportLinks)
	if err != nil {
		return fmt.Errorf("failed to encode export links: %w", err)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 同事务内取号并插入，保证会话内版本号单调且无空洞
	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_id), 0) + 1 FROM versions WHERE session_id = ?`,
		v.SessionID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to allocate version id: %w", err)
	}

	insertSQL := `
		INSERT INTO versions
		(session_id, version_id, reason, contents, rubric_scores, export_links, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, insertSQL,
		v.SessionID,
		next,
		v.Reason,
		string(contents),
		string(scores),
		string(links),
		v.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version: %w", err)
	}

	v.VersionID = next
	r.logger.Debug("Appended version",
		"session_id", v.SessionID,
		"version_id", next,
		"reason", v.Reason,
	)
	return nil
}

// Get 按会话与版本号读取
func (r *VersionRepository) Get(ctx context.Context, sessionID string, versionID int64) (*version.Version, error) {
	query := `
		SELECT session_id, version_id, reason, contents, rubric_scores, export_links, created_at
		FROM versions WHERE session_id = ? AND version_id = ?`

	row := r.db.QueryRowContext(ctx, query, sessionID, versionID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, version.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// List 按版本号升序列出会话的全部版本
func (r *VersionRepository) List(ctx context.Context, sessionID string) ([]*version.Version, error) {
	query := `
		SELECT session_id, version_id, reason, contents, rubric_scores, export_links, created_at
		FROM versions WHERE session_id = ? ORDER BY version_id ASC`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*version.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// AttachExportLink 给已有版本补记导出产物链接
func (r *VersionRepository) AttachExportLink(ctx context.Context, sessionID string, versionID int64, link string) error {
	v, err := r.Get(ctx, sessionID, versionID)
	if err != nil {
		return err
	}

	links, err := json.Marshal(append(v.ExportLinks, link))
	if err != nil {
		return fmt.Errorf("failed to encode export links: %w", err)
	}

	updateSQL := `UPDATE versions SET export_links = ? WHERE session_id = ? AND version_id = ?`
	if _, err := r.db.ExecContext(ctx, updateSQL, string(links), sessionID, versionID); err != nil {
		return fmt.Errorf("failed to attach export link: %w", err)
	}
	return nil
}

// rowScanner 兼容 QueryRow 与 Rows 的扫描接口
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*version.Version, error) {
	var (
		v         version.Version
		contents  string
		scores    string
		links     string
		createdAt int64
	)
	err := row.Scan(&v.SessionID, &v.VersionID, &v.Reason, &contents, &scores, &links, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(contents), &v.Contents); err != nil {
		return nil, fmt.Errorf("failed to decode version contents: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &v.RubricScores); err != nil {
		return nil, fmt.Errorf("failed to decode rubric scores: %w", err)
	}
	if err := json.Unmarshal([]byte(links), &v.ExportLinks); err != nil {
		return nil, fmt.Errorf("failed to decode export links: %w", err)
	}
	v.CreatedAt = time.UnixMilli(createdAt)
	return &v, nil
}
