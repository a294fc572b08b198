// tools/database.go
package tools

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sammcj/toolloop/registry"
	"github.com/sammcj/toolloop/types"
)

// forbiddenStatements matches anything other than a read-only query
var forbiddenStatements = regexp.MustCompile(`(?i)\b(drop|alter|delete|update|insert|replace|create|attach|detach|pragma|vacuum)\b`)

// QueryInput holds the SQL for query_database
type QueryInput struct {
	Query string `json:"query" jsonschema_description:"SQL query to execute"`
}

// DatabaseTool handles database operations
type DatabaseTool struct {
	db      *sql.DB
	schemas map[string]TableSchema
}

// TableSchema represents a database table schema
type TableSchema struct {
	Name    string
	Columns []ColumnSchema
}

// ColumnSchema represents a database column schema
type ColumnSchema struct {
	Name string
	Type string
}

// NewDatabaseTool opens the sqlite database at dbPath and reads its schema
func NewDatabaseTool(dbPath string) (*DatabaseTool, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, &types.DatabaseError{Operation: "open", Message: "failed to open database", Err: err}
	}

	tool := &DatabaseTool{
		db:      db,
		schemas: make(map[string]TableSchema),
	}

	if err := tool.loadSchemas(); err != nil {
		db.Close()
		return nil, &types.DatabaseError{Operation: "load_schemas", Message: "failed to load schemas", Err: err}
	}

	return tool, nil
}

// loadSchemas reads the database schema
func (t *DatabaseTool) loadSchemas() error {
	rows, err := t.db.Query(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	rows.Close()

	for _, tableName := range tables {
		schema, err := t.getTableSchema(tableName)
		if err != nil {
			return fmt.Errorf("failed to get schema for %s: %w", tableName, err)
		}
		t.schemas[tableName] = schema
	}

	return nil
}

// getTableSchema reads the schema for a specific table
func (t *DatabaseTool) getTableSchema(tableName string) (TableSchema, error) {
	schema := TableSchema{Name: tableName}

	rows, err := t.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", tableName))
	if err != nil {
		return schema, fmt.Errorf("failed to get table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, typ string
		var notNull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return schema, fmt.Errorf("failed to scan column info: %w", err)
		}

		schema.Columns = append(schema.Columns, ColumnSchema{Name: name, Type: typ})
	}

	return schema, rows.Err()
}

// Tool returns the registry entry; the description lists the available tables
func (t *DatabaseTool) Tool() registry.Tool {
	names := make([]string, 0, len(t.schemas))
	for name := range t.schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	var schemaDesc strings.Builder
	for _, name := range names {
		schema := t.schemas[name]
		schemaDesc.WriteString(fmt.Sprintf("\nTable %s:\n", schema.Name))
		for _, col := range schema.Columns {
			schemaDesc.WriteString(fmt.Sprintf("  - %s (%s)\n", col.Name, col.Type))
		}
	}

	return registry.NewTool(
		"query_database",
		fmt.Sprintf("Execute read-only SQL queries against the SQLite database. Available schemas: %s", schemaDesc.String()),
		t.Execute,
	)
}

// Execute runs a SQL query and returns one map per row
func (t *DatabaseTool) Execute(ctx context.Context, in QueryInput) (interface{}, error) {
	if err := t.validateQuery(in.Query); err != nil {
		return nil, &types.DatabaseError{Operation: "validate", Query: in.Query, Message: "invalid query", Err: err}
	}

	rows, err := t.db.QueryContext(ctx, in.Query)
	if err != nil {
		return nil, &types.DatabaseError{Operation: "query", Query: in.Query, Message: "failed to execute query", Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &types.DatabaseError{Operation: "columns", Query: in.Query, Message: "failed to get columns", Err: err}
	}

	results := make([]map[string]interface{}, 0)
	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, &types.DatabaseError{Operation: "scan", Query: in.Query, Message: "failed to scan row", Err: err}
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// Convert []byte to string for better readability
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.DatabaseError{Operation: "iterate", Query: in.Query, Message: "failed to read rows", Err: err}
	}

	return results, nil
}

// validateQuery allows only read-only statements that reference a known table
func (t *DatabaseTool) validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query must not be empty")
	}
	if forbiddenStatements.MatchString(query) {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	lowerQuery := strings.ToLower(query)
	for tableName := range t.schemas {
		if strings.Contains(lowerQuery, strings.ToLower(tableName)) {
			return nil
		}
	}

	return fmt.Errorf("query must reference a valid table")
}

// Close releases database resources
func (t *DatabaseTool) Close() error {
	return t.db.Close()
}
