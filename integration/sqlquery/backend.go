// Package sqlquery 实现 database_query 集成：按连接描述符打开数据库，执行一条
// 语句并记录行数、耗时与限量结果预览。驱动错误原样作为失败原因。
package sqlquery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // sqlite

	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/types"
)

// EntryType is the entry type served by this backend.
const EntryType = "database_query"

// DefaultMaxRows bounds the result preview when inputs do not.
const DefaultMaxRows = 1000

// Config configures the backend.
type Config struct {
	MaxRows int
}

// Backend executes database_query entries.
type Backend struct {
	maxRows int
	logger  *zap.Logger
}

// New creates a database_query backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	return &Backend{
		maxRows: cfg.MaxRows,
		logger:  logger.With(zap.String("component", "integration"), zap.String("entry_type", EntryType)),
	}
}

type request struct {
	ConnectionString string `json:"connection_string"`
	Query            string `json:"query"`
	Parameters       any    `json:"parameters"`
	MaxRows          int    `json:"max_rows"`
}

func (b *Backend) parse(inputs map[string]any) (*request, error) {
	var req request
	if err := integration.Decode(inputs, &req); err != nil {
		return nil, err
	}
	if req.ConnectionString == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "database_query requires a connection_string")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "database_query requires a query")
	}
	if req.MaxRows <= 0 {
		req.MaxRows = b.maxRows
	}
	return &req, nil
}

// Validate implements integration.Validator.
func (b *Backend) Validate(inputs map[string]any) error {
	_, err := b.parse(inputs)
	return err
}

// Execute implements integration.Backend.
func (b *Backend) Execute(ctx context.Context, inputs map[string]any) (*integration.Result, error) {
	req, err := b.parse(inputs)
	if err != nil {
		return nil, err
	}
	target, err := ParseConnectionString(req.ConnectionString)
	if err != nil {
		return nil, err
	}
	args, err := bindArgs(req.Parameters)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	// :memory: 数据库只在单个连接内可见
	db.SetMaxOpenConns(1)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	outputs := map[string]any{"query": req.Query}
	var columns []string
	results := []map[string]any{}

	if returnsRows(req.Query) {
		var truncated bool
		columns, results, truncated, err = queryRows(ctx, tx, req.Query, args, req.MaxRows)
		if err != nil {
			return nil, err
		}
		outputs["affected_rows"] = nil
		outputs["truncated"] = truncated
	} else {
		res, err := tx.ExecContext(ctx, req.Query, args...)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = -1
		}
		outputs["affected_rows"] = affected
		outputs["truncated"] = false
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	duration := time.Since(start).Seconds()

	if columns == nil {
		columns = []string{}
	}
	outputs["columns"] = columns
	outputs["results"] = results
	outputs["row_count"] = len(results)
	outputs["duration_seconds"] = duration

	b.logger.Debug("query executed",
		zap.String("driver", target.Driver),
		zap.Int("row_count", len(results)),
		zap.Float64("duration_seconds", duration),
	)

	artifact, err := integration.JSONArtifact(map[string]any{
		"columns":          columns,
		"results":          results,
		"row_count":        len(results),
		"duration_seconds": duration,
	}, map[string]any{
		"row_count": len(results),
		"columns":   columns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query artifact: %w", err)
	}
	return &integration.Result{Outputs: outputs, Artifacts: []integration.Artifact{artifact}}, nil
}

func queryRows(ctx context.Context, tx *sql.Tx, query string, args []any, maxRows int) ([]string, []map[string]any, bool, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, err
	}

	results := []map[string]any{}
	truncated := false
	for rows.Next() {
		if len(results) >= maxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, false, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = jsonValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}
	return columns, results, truncated, nil
}

// bindArgs turns a parameter map into named args and a list into positional args.
func bindArgs(params any) ([]any, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		args := make([]any, 0, len(p))
		for k, v := range p {
			args = append(args, sql.Named(k, v))
		}
		return args, nil
	case []any:
		return p, nil
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "parameters must be an object or a list, got %T", params)
	}
}

var rowKeywords = []string{"SELECT", "WITH", "PRAGMA", "SHOW", "EXPLAIN", "VALUES", "DESCRIBE"}

// returnsRows guesses whether a statement yields a result set.
func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimLeft(query, " \t\r\n("))
	for _, kw := range rowKeywords {
		if strings.HasPrefix(q, kw) {
			return true
		}
	}
	return strings.Contains(q, "RETURNING")
}

func jsonValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return v
	}
}
