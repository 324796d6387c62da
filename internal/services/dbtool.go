package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"outreach-mcp/internal/db"
	"outreach-mcp/internal/safety"
	"outreach-mcp/pkg/models"
)

// slowQueryThreshold flags executions the operator should look at.
const slowQueryThreshold = time.Second

// defaultBatchSize bounds bulk-insert batches when the caller passes zero.
const defaultBatchSize = 100

// FetchMode selects how ExecuteQuery shapes its result.
type FetchMode string

const (
	FetchAll    FetchMode = "all"
	FetchOne    FetchMode = "one"
	FetchScalar FetchMode = "scalar"
	FetchNone   FetchMode = "none"
)

// ConflictMode selects bulk-insert duplicate handling.
type ConflictMode string

const (
	ConflictIgnore ConflictMode = "ignore"
	ConflictUpdate ConflictMode = "update"
	ConflictError  ConflictMode = "error"
)

// QueryResult is the response of ExecuteQuery. Exactly one of Rows, Row or
// Scalar is populated depending on the fetch mode.
type QueryResult struct {
	Rows         []map[string]any `json:"rows,omitempty"`
	Row          map[string]any   `json:"row,omitempty"`
	Scalar       any              `json:"scalar,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
	ElapsedMs    int64            `json:"elapsed_ms"`
}

// FailedBatch describes one bulk-insert batch that did not commit.
type FailedBatch struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BulkInsertResult is the response of BulkInsert.
type BulkInsertResult struct {
	InsertedCount int           `json:"inserted_count"`
	FailedBatches []FailedBatch `json:"failed_batches,omitempty"`
}

// TxOperation is one statement inside RunTransaction.
type TxOperation struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

// TxOpStatus is the per-operation outcome, reported up to the failure point.
type TxOpStatus struct {
	Index        int    `json:"index"`
	OK           bool   `json:"ok"`
	RowsAffected int64  `json:"rows_affected"`
	Error        string `json:"error,omitempty"`
}

// TxResult is the response of RunTransaction.
type TxResult struct {
	Results   []TxOpStatus `json:"results"`
	Committed bool         `json:"committed"`
}

// HealthReport is the response of HealthCheck.
type HealthReport struct {
	Status          string           `json:"status"`
	PoolStats       map[string]any   `json:"pool_stats"`
	QueryCount      uint64           `json:"query_count"`
	ErrorCount      uint64           `json:"error_count"`
	TableCounts     map[string]int64 `json:"table_counts,omitempty"`
	CRUDRoundtripOK *bool            `json:"crud_roundtrip_ok,omitempty"`
}

// QueryAnalysis is the response of AnalyzeQuery. It is produced by static
// inspection only; the query is never executed.
type QueryAnalysis struct {
	Complexity  string   `json:"complexity"`
	Suggestions []string `json:"suggestions"`
}

// DatabaseToolService implements the controlled database operations exposed
// to external callers through the MCP server and used internally by the
// orchestrator for checkpoints. Every operation validates before it touches
// a session and releases the session on all paths.
type DatabaseToolService struct {
	sessions *db.SessionFactory
	logger   *zap.Logger

	queryCount atomic.Uint64
	errorCount atomic.Uint64
}

// NewDatabaseToolService creates a new DatabaseToolService.
func NewDatabaseToolService(sessions *db.SessionFactory, logger *zap.Logger) *DatabaseToolService {
	return &DatabaseToolService{sessions: sessions, logger: logger}
}

// ExecuteQuery validates, binds named parameters and runs the query under
// the given timeout. Parameters are always bound, never interpolated.
func (s *DatabaseToolService) ExecuteQuery(ctx context.Context, query string, params map[string]any, mode FetchMode, timeout time.Duration) (*QueryResult, error) {
	if err := safety.ValidateQuery(query); err != nil {
		return nil, err
	}
	switch mode {
	case FetchAll, FetchOne, FetchScalar, FetchNone:
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", mode)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.sessions.Acquire(execCtx)
	if err != nil {
		s.errorCount.Add(1)
		return nil, err
	}
	defer conn.Release()

	s.queryCount.Add(1)
	start := time.Now()

	result := &QueryResult{}
	args := pgx.NamedArgs(params)

	if mode == FetchNone {
		tag, err := conn.Exec(execCtx, query, args)
		if err != nil {
			s.errorCount.Add(1)
			return nil, fmt.Errorf("execute: %w", err)
		}
		result.RowsAffected = tag.RowsAffected()
	} else {
		rows, err := conn.Query(execCtx, query, args)
		if err != nil {
			s.errorCount.Add(1)
			return nil, fmt.Errorf("query: %w", err)
		}
		collected, columns, err := collectRows(rows)
		if err != nil {
			s.errorCount.Add(1)
			return nil, err
		}
		result.RowsAffected = int64(len(collected))
		switch mode {
		case FetchAll:
			result.Rows = collected
		case FetchOne:
			if len(collected) > 0 {
				result.Row = collected[0]
			}
		case FetchScalar:
			if len(collected) > 0 && len(columns) > 0 {
				result.Scalar = collected[0][columns[0]]
			}
		}
	}

	elapsed := time.Since(start)
	result.ElapsedMs = elapsed.Milliseconds()
	if elapsed > slowQueryThreshold {
		s.logger.Warn("slow query",
			zap.String("query", query),
			zap.Duration("elapsed", elapsed),
		)
	}
	return result, nil
}

func collectRows(rows pgx.Rows) ([]map[string]any, []string, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = string(fd.Name)
	}

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, columns, nil
}

// BulkInsert partitions records into batches and inserts each batch in its
// own transaction. Conflict handling follows the requested mode; under
// ConflictError a failed batch aborts the remaining ones and the result
// reports how many records committed before the failure.
func (s *DatabaseToolService) BulkInsert(ctx context.Context, table string, records []map[string]any, batchSize int, onConflict ConflictMode) (*BulkInsertResult, error) {
	if err := safety.ValidateTable(table); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &BulkInsertResult{}, nil
	}
	switch onConflict {
	case ConflictIgnore, ConflictUpdate, ConflictError:
	default:
		return nil, fmt.Errorf("unknown conflict mode %q", onConflict)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	columns := make([]string, 0, len(records[0]))
	for col := range records[0] {
		// Column names flow into generated SQL; only plain identifiers pass.
		if err := safety.ValidateColumn(col); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)

	if onConflict == ConflictUpdate {
		if _, ok := records[0]["id"]; !ok {
			return nil, fmt.Errorf("conflict mode %q requires an %q column", ConflictUpdate, "id")
		}
		if len(columns) == 1 {
			return nil, fmt.Errorf("conflict mode %q requires at least one non-id column", ConflictUpdate)
		}
	}

	result := &BulkInsertResult{}
	for batchIdx := 0; batchIdx*batchSize < len(records); batchIdx++ {
		lo := batchIdx * batchSize
		hi := lo + batchSize
		if hi > len(records) {
			hi = len(records)
		}
		batch := records[lo:hi]

		query, args := buildInsert(table, columns, batch, onConflict)
		var affected int64
		err := s.sessions.WithSession(ctx, func(tx pgx.Tx) error {
			tag, execErr := tx.Exec(ctx, query, args...)
			if execErr != nil {
				return execErr
			}
			affected = tag.RowsAffected()
			return nil
		})
		s.queryCount.Add(1)
		if err != nil {
			s.errorCount.Add(1)
			result.FailedBatches = append(result.FailedBatches, FailedBatch{Index: batchIdx, Reason: err.Error()})
			if onConflict == ConflictError {
				return result, fmt.Errorf("batch %d failed after %d records committed: %w", batchIdx, result.InsertedCount, err)
			}
			continue
		}
		result.InsertedCount += int(affected)
	}
	return result, nil
}

func buildInsert(table string, columns []string, batch []map[string]any, onConflict ConflictMode) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	args := make([]any, 0, len(batch)*len(columns))
	n := 1
	for i, rec := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			args = append(args, rec[col])
			n++
		}
		sb.WriteString(")")
	}

	switch onConflict {
	case ConflictIgnore:
		sb.WriteString(" ON CONFLICT DO NOTHING")
	case ConflictUpdate:
		sb.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
		first := true
		for _, col := range columns {
			if col == "id" {
				continue
			}
			if !first {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s = EXCLUDED.%s", col, col)
			first = false
		}
	}
	return sb.String(), args
}

// RunTransaction executes ops as one atomic unit under the requested
// isolation level. All queries are validated before the transaction opens, so
// a rejected statement never touches a session. On failure the whole
// sequence rolls back and Results covers operations up to and including the
// failed one.
func (s *DatabaseToolService) RunTransaction(ctx context.Context, ops []TxOperation, isolationLevel string) (*TxResult, error) {
	if len(ops) == 0 {
		return &TxResult{Committed: true}, nil
	}
	for i, op := range ops {
		if err := safety.ValidateQuery(op.Query); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}

	iso, err := parseIsolationLevel(isolationLevel)
	if err != nil {
		return nil, err
	}

	conn, err := s.sessions.Acquire(ctx)
	if err != nil {
		s.errorCount.Add(1)
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		s.errorCount.Add(1)
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result := &TxResult{}
	for i, op := range ops {
		s.queryCount.Add(1)
		tag, execErr := tx.Exec(ctx, op.Query, pgx.NamedArgs(op.Params))
		if execErr != nil {
			s.errorCount.Add(1)
			result.Results = append(result.Results, TxOpStatus{Index: i, OK: false, Error: execErr.Error()})
			return result, nil
		}
		result.Results = append(result.Results, TxOpStatus{Index: i, OK: true, RowsAffected: tag.RowsAffected()})
	}

	if err := tx.Commit(ctx); err != nil {
		s.errorCount.Add(1)
		return result, fmt.Errorf("commit: %w", err)
	}
	result.Committed = true
	return result, nil
}

func parseIsolationLevel(level string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "read committed":
		return pgx.ReadCommitted, nil
	case "repeatable read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", fmt.Errorf("unknown isolation level %q", level)
	}
}

// HealthCheck reports pool utilization and cumulative counters. With
// includeStats it also counts core tables; with testOps it performs a full
// CRUD round-trip against the probe table.
func (s *DatabaseToolService) HealthCheck(ctx context.Context, includeStats, testOps bool) (*HealthReport, error) {
	stat := s.sessions.Stats()
	report := &HealthReport{
		Status: "ok",
		PoolStats: map[string]any{
			"total_conns":    stat.TotalConns(),
			"idle_conns":     stat.IdleConns(),
			"acquired_conns": stat.AcquiredConns(),
			"max_conns":      stat.MaxConns(),
		},
		QueryCount: s.queryCount.Load(),
		ErrorCount: s.errorCount.Load(),
	}

	if includeStats {
		report.TableCounts = map[string]int64{}
		for _, table := range []string{"prospects", "campaigns", "workflow_checkpoints"} {
			res, err := s.ExecuteQuery(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table), nil, FetchScalar, 5*time.Second)
			if err != nil {
				report.Status = "degraded"
				continue
			}
			if n, ok := res.Scalar.(int64); ok {
				report.TableCounts[table] = n
			}
		}
	}

	if testOps {
		ok := s.crudRoundtrip(ctx) == nil
		report.CRUDRoundtripOK = &ok
		if !ok {
			report.Status = "degraded"
		}
	}
	return report, nil
}

func (s *DatabaseToolService) crudRoundtrip(ctx context.Context) error {
	return s.sessions.WithSession(ctx, func(tx pgx.Tx) error {
		probe := fmt.Sprintf("probe-%d", time.Now().UnixNano())
		if _, err := tx.Exec(ctx, "INSERT INTO health_probe (marker) VALUES ($1)", probe); err != nil {
			return err
		}
		var got string
		if err := tx.QueryRow(ctx, "SELECT marker FROM health_probe WHERE marker = $1", probe).Scan(&got); err != nil {
			return err
		}
		if got != probe {
			return fmt.Errorf("probe mismatch: %q", got)
		}
		_, err := tx.Exec(ctx, "DELETE FROM health_probe WHERE marker = $1", probe)
		return err
	})
}

// CheckpointRecord persists the workflow record after a stage transition so
// a crash never loses completed work. Uses the same validated execution path
// as external callers.
func (s *DatabaseToolService) CheckpointRecord(ctx context.Context, rec *models.WorkflowRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.ExecuteQuery(ctx,
		`INSERT INTO workflow_checkpoints (workflow_id, prospect_id, current_stage, record, updated_at)
		 VALUES (@workflow_id, @prospect_id, @current_stage, @record, now())
		 ON CONFLICT (workflow_id) DO UPDATE
		 SET current_stage = EXCLUDED.current_stage, record = EXCLUDED.record, updated_at = now()`,
		map[string]any{
			"workflow_id":   rec.WorkflowID,
			"prospect_id":   rec.ProspectID,
			"current_stage": string(rec.CurrentStage),
			"record":        payload,
		},
		FetchNone, 10*time.Second)
	return err
}

// LoadCheckpoint restores the last persisted record for a workflow, or nil
// when none exists.
func (s *DatabaseToolService) LoadCheckpoint(ctx context.Context, workflowID string) (*models.WorkflowRecord, error) {
	res, err := s.ExecuteQuery(ctx,
		"SELECT record FROM workflow_checkpoints WHERE workflow_id = @workflow_id",
		map[string]any{"workflow_id": workflowID},
		FetchOne, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if res.Row == nil {
		return nil, nil
	}

	raw, err := json.Marshal(res.Row["record"])
	if err != nil {
		return nil, fmt.Errorf("re-encode checkpoint: %w", err)
	}
	if b, ok := res.Row["record"].([]byte); ok {
		raw = b
	}
	var rec models.WorkflowRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &rec, nil
}

// AnalyzeQuery classifies query complexity and suggests indexes from the
// filter and join shape. Static analysis only; nothing is executed.
func (s *DatabaseToolService) AnalyzeQuery(query string) (*QueryAnalysis, error) {
	if err := safety.ValidateQuery(query); err != nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	joins := strings.Count(lower, " join ")
	subqueries := strings.Count(lower, "select") - 1
	if subqueries < 0 {
		subqueries = 0
	}
	aggregates := 0
	for _, kw := range []string{"group by", "having", "distinct", "union"} {
		if strings.Contains(lower, kw) {
			aggregates++
		}
	}

	score := joins*2 + subqueries*2 + aggregates
	complexity := "simple"
	switch {
	case score >= 6:
		complexity = "complex"
	case score >= 2:
		complexity = "moderate"
	}

	var suggestions []string
	if cols := filterColumns(lower); len(cols) > 0 {
		suggestions = append(suggestions, fmt.Sprintf("consider an index covering filter columns: %s", strings.Join(cols, ", ")))
	}
	if joins > 0 {
		suggestions = append(suggestions, "ensure join keys are indexed on both sides")
	}
	if strings.Contains(lower, "select *") {
		suggestions = append(suggestions, "select only needed columns instead of *")
	}
	if strings.Contains(lower, " like '%") || strings.Contains(lower, " like \"%") {
		suggestions = append(suggestions, "leading-wildcard LIKE cannot use a btree index; consider trigram indexing")
	}
	if strings.Contains(lower, "order by") && !strings.Contains(lower, "limit") {
		suggestions = append(suggestions, "ORDER BY without LIMIT sorts the full result set")
	}

	return &QueryAnalysis{Complexity: complexity, Suggestions: suggestions}, nil
}

var filterColumnPattern = strings.NewReplacer("(", " ", ")", " ")

// filterColumns extracts column names compared in the WHERE clause.
func filterColumns(lowerQuery string) []string {
	idx := strings.Index(lowerQuery, " where ")
	if idx < 0 {
		return nil
	}
	clause := lowerQuery[idx+len(" where "):]
	for _, stop := range []string{" group by ", " order by ", " limit ", ";"} {
		if i := strings.Index(clause, stop); i >= 0 {
			clause = clause[:i]
		}
	}
	clause = filterColumnPattern.Replace(clause)

	var cols []string
	seen := map[string]bool{}
	for _, tok := range strings.Fields(clause) {
		if i := strings.IndexAny(tok, "=<>"); i > 0 {
			tok = tok[:i]
		}
		if tok == "" || seen[tok] {
			continue
		}
		if isIdentifier(tok) && tok != "and" && tok != "or" && tok != "not" && tok != "in" && tok != "like" && tok != "is" && tok != "null" && tok != "between" {
			cols = append(cols, tok)
			seen[tok] = true
		}
	}
	return cols
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_', r == '.':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return len(s) > 0
}
