package turn

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/pipeline"
)

const turnColumns = `id, session_id, request, status, state, attempts, max_retries, last_error, error_code, result, created_at, updated_at`

// MySQLStore 使用 MySQL 记录轮次状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runMigrations(ctx, s.db, nil); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 turn_states 表失败")
	}
	return nil
}

// Create 插入新的轮次记录。
func (s *MySQLStore) Create(ctx context.Context, t *Turn) error {
	if t == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "turn 不能为空")
	}
	if strings.TrimSpace(t.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "轮次 ID 不能为空")
	}

	now := time.Now().Unix()
	t.CreatedAt = now
	t.UpdatedAt = now

	request, err := json.Marshal(t.Request)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码轮次请求失败")
	}

	const stmt = `INSERT INTO turn_states
        (id, session_id, request, status, state, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		t.ID,
		t.SessionID,
		string(request),
		t.Status,
		t.State,
		t.Attempts,
		t.MaxRetries,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTurnConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入轮次失败")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*Turn, error) {
	var (
		t         Turn
		request   string
		result    sql.NullString
		lastError sql.NullString
		errorCode sql.NullString
	)
	if err := row.Scan(
		&t.ID,
		&t.SessionID,
		&request,
		&t.Status,
		&t.State,
		&t.Attempts,
		&t.MaxRetries,
		&lastError,
		&errorCode,
		&result,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.LastError = lastError.String
	t.ErrorCode = errorCode.String
	if err := json.Unmarshal([]byte(request), &t.Request); err != nil {
		return nil, fmt.Errorf("解析轮次请求失败: %w", err)
	}
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var decoded pipeline.TurnResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, fmt.Errorf("解析轮次结果失败: %w", err)
		}
		t.Result = &decoded
	}
	return &t, nil
}

// Get 查询指定轮次。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turn_states WHERE id = ?`, id)
	t, err := scanTurn(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTurnNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询轮次失败")
	}
	return t, nil
}

// Claim 将轮次标记为处理中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Turn, error) {
	const updateStmt = `UPDATE turn_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		time.Now().Unix(),
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新轮次状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return t, nil
	}
	switch t.Status {
	case StatusCompleted:
		return t, ErrTurnCompleted
	case StatusSuperseded:
		return t, defi.ErrTurnSuperseded
	case StatusRunning:
		return t, ErrTurnConflict
	default:
		if t.Attempts >= t.MaxRetries {
			return t, ErrTurnExhausted
		}
		return t, ErrTurnConflict
	}
}

func encodeResult(result *pipeline.TurnResult) (sql.NullString, string, error) {
	if result == nil {
		return sql.NullString{}, "", nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, "", err
	}
	return sql.NullString{String: string(raw), Valid: true}, string(result.State), nil
}

// MarkCompleted 记录流水线结果。
func (s *MySQLStore) MarkCompleted(ctx context.Context, id string, result *pipeline.TurnResult) error {
	encoded, state, err := encodeResult(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码轮次结果失败")
	}
	const stmt = `UPDATE turn_states SET status = ?, state = ?, result = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	return s.exec(ctx, "标记轮次完成失败", stmt, StatusCompleted, state, encoded, time.Now().Unix(), id)
}

// MarkFailed 将轮次标记为失败，terminal 为真时耗尽剩余重试次数。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	stmt := `UPDATE turn_states SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	if terminal {
		stmt = `UPDATE turn_states SET status = ?, last_error = ?, error_code = ?, updated_at = ?, attempts = GREATEST(attempts, max_retries) WHERE id = ?`
	}
	return s.exec(ctx, "标记轮次失败失败", stmt, StatusFailed, lastError, string(code), time.Now().Unix(), id)
}

// MarkSuperseded 记录被新轮次取代的轮次。
func (s *MySQLStore) MarkSuperseded(ctx context.Context, id string, result *pipeline.TurnResult) error {
	encoded, _, err := encodeResult(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码轮次结果失败")
	}
	const stmt = `UPDATE turn_states SET status = ?, state = ?, error_code = ?, result = COALESCE(?, result), updated_at = ? WHERE id = ?`
	return s.exec(ctx, "标记轮次取代失败", stmt,
		StatusSuperseded, pipeline.StateSuperseded, string(defi.CodeTurnSuperseded), encoded, time.Now().Unix(), id)
}

// SupersedePending 将会话中仍可被领取的轮次标记为已取代。
func (s *MySQLStore) SupersedePending(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, nil
	}
	const stmt = `UPDATE turn_states SET status = ?, state = ?, error_code = ?, updated_at = ?
        WHERE session_id = ? AND (status = ? OR (status = ? AND attempts < max_retries))`
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSuperseded,
		pipeline.StateSuperseded,
		string(defi.CodeTurnSuperseded),
		time.Now().Unix(),
		sessionID,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "取代排队轮次失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	return int(affected), nil
}

func (s *MySQLStore) exec(ctx context.Context, failure, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrTurnNotFound
	}
	return nil
}

// List 返回符合条件的轮次。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Turn, error) {
	opts.applyDefaults()

	query := `SELECT ` + turnColumns + ` FROM turn_states`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询轮次列表失败")
	}
	defer rows.Close()

	turns := make([]*Turn, 0, opts.Limit)
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析轮次记录失败")
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历轮次失败")
	}
	return turns, nil
}

// Stats 返回符合过滤条件的轮次聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS superseded,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM turn_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{
		string(StatusPending),
		string(StatusRunning),
		string(StatusCompleted),
		string(StatusFailed),
		string(StatusSuperseded),
	}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Completed,
		&stats.Failed,
		&stats.Superseded,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询轮次统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(result IS NOT NULL AND result <> '')")
		} else {
			conditions = append(conditions, "(result IS NULL OR result = '')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR session_id LIKE ? OR request LIKE ? OR last_error LIKE ? OR error_code LIKE ? OR state LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
