package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/llm/provider"
)

// ErrNotReadOnly is returned for statements that could modify the warehouse.
var ErrNotReadOnly = errors.New("only a single read-only SELECT statement is allowed")

var (
	sqlFence     = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	writeKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|create|truncate|replace|attach|detach|pragma|grant|revoke|copy|vacuum|call|exec|execute)\b`)
	readLeading  = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
)

// WarehouseOptions configures a Warehouse.
type WarehouseOptions struct {
	// Driver is "sqlite" or "postgres".
	Driver       string
	DSN          string
	Dataset      string
	SampleRows   int
	MaxRows      int
	QueryTimeout time.Duration
	Model        string
	Logger       *zap.Logger
}

// Warehouse is the reference SQL collaborator. It translates questions to
// SQL with an LLM, runs them read-only and describes its own schema.
type Warehouse struct {
	db     *sql.DB
	kind   string
	opts   WarehouseOptions
	llm    provider.Provider
	logger *zap.Logger
}

// OpenWarehouse opens and pings the warehouse.
func OpenWarehouse(ctx context.Context, opts WarehouseOptions, llm provider.Provider) (*Warehouse, error) {
	driver := opts.Driver
	switch driver {
	case "sqlite":
	case "postgres":
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", opts.Driver)
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return NewWarehouse(db, opts, llm), nil
}

// NewWarehouse wraps an open database.
func NewWarehouse(db *sql.DB, opts WarehouseOptions, llm provider.Provider) *Warehouse {
	if opts.SampleRows < 0 {
		opts.SampleRows = 0
	} else if opts.SampleRows == 0 {
		opts.SampleRows = 3
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 1000
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.Dataset == "" {
		if opts.Driver == "postgres" {
			opts.Dataset = "public"
		} else {
			opts.Dataset = "main"
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warehouse{db: db, kind: opts.Driver, opts: opts, llm: llm, logger: logger}
}

// Kind returns the warehouse kind.
func (w *Warehouse) Kind() string { return w.kind }

// DB exposes the underlying database handle.
func (w *Warehouse) DB() *sql.DB { return w.db }

// Ping checks connectivity.
func (w *Warehouse) Ping(ctx context.Context) error { return w.db.PingContext(ctx) }

// Close closes the database.
func (w *Warehouse) Close() error { return w.db.Close() }

// Introspect lists tables, columns and a few sample rows per table.
func (w *Warehouse) Introspect(ctx context.Context) (*capability.WarehouseSchema, error) {
	tables, err := w.listTables(ctx)
	if err != nil {
		return nil, err
	}

	schema := &capability.WarehouseSchema{Kind: w.kind, Dataset: w.opts.Dataset}
	for _, name := range tables {
		cols, err := w.listColumns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("columns of %s: %w", name, err)
		}
		t := capability.Table{Name: name, Columns: cols}
		if w.opts.SampleRows > 0 {
			t.SampleRows, err = w.sampleRows(ctx, name, w.opts.SampleRows)
			if err != nil {
				return nil, fmt.Errorf("sample rows of %s: %w", name, err)
			}
		}
		schema.Tables = append(schema.Tables, t)
	}
	schema.Text = schema.Render()
	return schema, nil
}

func (w *Warehouse) listTables(ctx context.Context) ([]string, error) {
	var q string
	var args []any
	if w.kind == "postgres" {
		q = `SELECT table_name FROM information_schema.tables
		     WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`
		args = []any{w.opts.Dataset}
	} else {
		q = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}

	rows, err := w.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (w *Warehouse) listColumns(ctx context.Context, table string) ([]capability.Column, error) {
	if w.kind == "postgres" {
		rows, err := w.db.QueryContext(ctx, `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`, w.opts.Dataset, table)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var cols []capability.Column
		for rows.Next() {
			var c capability.Column
			if err := rows.Scan(&c.Name, &c.Type); err != nil {
				return nil, err
			}
			cols = append(cols, c)
		}
		return cols, rows.Err()
	}

	rows, err := w.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []capability.Column
	for rows.Next() {
		var (
			cid     int
			c       capability.Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (w *Warehouse) sampleRows(ctx context.Context, table string, n int) ([][]string, error) {
	q := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), n)
	if w.kind == "postgres" {
		q = fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", quoteIdent(w.opts.Dataset), quoteIdent(table), n)
	}
	cols, rows, err := w.query(ctx, q, n)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = make([]string, len(cols))
		for j, c := range cols {
			out[i][j] = cell(r[c])
		}
	}
	return out, nil
}

// Invoke answers a SQL question. Questions that already are a SELECT
// statement run as-is; otherwise the LLM writes the query from the schema in
// the request context.
func (w *Warehouse) Invoke(ctx context.Context, req capability.ProviderRequest) (*capability.ProviderResponse, error) {
	stmt := strings.TrimSpace(req.Question)
	if !readLeading.MatchString(stmt) {
		generated, err := w.generateSQL(ctx, req)
		if err != nil {
			return nil, err
		}
		stmt = generated
	}

	stmt, err := ReadOnly(stmt)
	if err != nil {
		return nil, capability.Permanent(err)
	}

	qctx, cancel := context.WithTimeout(ctx, w.opts.QueryTimeout)
	defer cancel()

	w.logger.Debug("running warehouse query", zap.String("warehouse", w.kind), zap.String("sql", stmt))
	cols, rows, err := w.query(qctx, stmt, w.opts.MaxRows)
	if err != nil {
		if qctx.Err() != nil {
			return nil, fmt.Errorf("query timed out: %w", err)
		}
		return nil, capability.Permanent(fmt.Errorf("query failed: %w", err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query returned %d row(s).\n\n", len(rows))
	b.WriteString(FormatTable(cols, rows, 20))
	fmt.Fprintf(&b, "\n\nSQL:\n```sql\n%s\n```", stmt)

	return &capability.ProviderResponse{Text: b.String(), Data: rows}, nil
}

func (w *Warehouse) generateSQL(ctx context.Context, req capability.ProviderRequest) (string, error) {
	if w.llm == nil {
		return "", capability.Permanent(errors.New("no language model configured for SQL generation"))
	}
	schema := req.Context[capability.ContextSchema]
	if schema == "" {
		s, err := w.Introspect(ctx)
		if err != nil {
			return "", err
		}
		schema = s.Text
	}

	resp, err := w.llm.CreateCompletion(ctx, provider.CompletionRequest{
		Model: w.opts.Model,
		Messages: []provider.Message{
			provider.System(fmt.Sprintf(SQLInstruction, w.kind) + "\n\nSchema:\n" + schema),
			provider.User(req.Question),
		},
	})
	if err != nil {
		return "", err
	}
	return ExtractSQL(resp.Content), nil
}

func (w *Warehouse) query(ctx context.Context, stmt string, maxRows int) ([]string, []map[string]any, error) {
	rows, err := w.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]any
	for rows.Next() && len(out) < maxRows {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return x
	}
}

// ExtractSQL strips markdown fences and surrounding prose markers.
func ExtractSQL(s string) string {
	if m := sqlFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimSpace(s)
}

// ReadOnly validates that stmt is one SELECT or WITH statement and returns
// it without a trailing semicolon.
func ReadOnly(stmt string) (string, error) {
	stmt = strings.TrimSpace(stmt)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	switch {
	case stmt == "":
		return "", fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	case strings.Contains(stmt, ";"):
		return "", fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	case !readLeading.MatchString(stmt):
		return "", ErrNotReadOnly
	case writeKeyword.MatchString(stripLiterals(stmt)):
		return "", fmt.Errorf("%w: contains %q", ErrNotReadOnly, writeKeyword.FindString(stripLiterals(stmt)))
	}
	return stmt, nil
}

var stringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)

func stripLiterals(s string) string {
	return stringLiteral.ReplaceAllString(s, "''")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
