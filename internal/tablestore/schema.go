package tablestore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vault-md/walrusdb/internal/mirror"
)

// Row is one table row keyed by column name.
type Row = mirror.Row

// ColumnDef is a logical column definition as persisted in schema blobs.
type ColumnDef struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	PrimaryKey    bool   `json:"primaryKey,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
	NotNull       bool   `json:"notNull,omitempty"`
	Unique        bool   `json:"unique,omitempty"`
	DefaultValue  any    `json:"defaultValue,omitempty"`
}

// Schema is the definition passed to CreateTable.
type Schema struct {
	Columns []ColumnDef `json:"columns"`
}

// TableMeta is the per-table entry of the database metadata blob.
type TableMeta struct {
	Columns     []ColumnDef `json:"columns"`
	CreatedAt   time.Time   `json:"created_at"`
	RecordCount int64       `json:"record_count"`
}

// Metadata is the database metadata blob, re-stored whenever tables change.
type Metadata struct {
	Name      string                `json:"name"`
	Version   int                   `json:"version"`
	Tables    map[string]*TableMeta `json:"tables"`
	CreatedAt time.Time             `json:"created_at"`
	LastSync  *time.Time            `json:"last_sync"`
}

// clone detaches a snapshot from the store's live entry.
func (m *TableMeta) clone() *TableMeta {
	copied := *m
	copied.Columns = append([]ColumnDef(nil), m.Columns...)
	return &copied
}

func newMetadata(name string) Metadata {
	return Metadata{
		Name:      name,
		Version:   1,
		Tables:    map[string]*TableMeta{},
		CreatedAt: time.Now().UTC(),
	}
}

var sqlTypes = map[string]string{
	"string":   "TEXT",
	"text":     "TEXT",
	"integer":  "INTEGER",
	"int":      "INTEGER",
	"float":    "REAL",
	"real":     "REAL",
	"boolean":  "INTEGER",
	"bool":     "INTEGER",
	"date":     "TEXT",
	"datetime": "TEXT",
	"json":     "TEXT",
}

// SQLType maps a logical column type onto mirror storage. Unknown types are
// stored as TEXT.
func SQLType(logical string) string {
	if t, ok := sqlTypes[strings.ToLower(logical)]; ok {
		return t
	}
	return "TEXT"
}

func (s Schema) validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: schema must have at least one column", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		if err := mirror.ValidateIdentifier(col.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

func mirrorColumns(defs []ColumnDef) []mirror.Column {
	columns := make([]mirror.Column, 0, len(defs))
	for _, def := range defs {
		columns = append(columns, mirror.Column{
			Name:          def.Name,
			Type:          SQLType(def.Type),
			PrimaryKey:    def.PrimaryKey,
			AutoIncrement: def.AutoIncrement,
			NotNull:       def.NotNull,
			Unique:        def.Unique,
			Default:       defaultLiteral(def.DefaultValue),
		})
	}
	return columns
}

func primaryKeys(defs []ColumnDef) []string {
	var keys []string
	for _, def := range defs {
		if def.PrimaryKey {
			keys = append(keys, def.Name)
		}
	}
	return keys
}

// defaultLiteral renders a default value as a SQL literal.
func defaultLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// idRange returns the min and max numeric "id" across records, treating a
// missing or non-numeric id as 0.
func idRange(records []Row) (int64, int64) {
	if len(records) == 0 {
		return 0, 0
	}
	lo, hi := int64(0), int64(0)
	for i, rec := range records {
		id := numericID(rec["id"])
		if i == 0 || id < lo {
			lo = id
		}
		if i == 0 || id > hi {
			hi = id
		}
	}
	return lo, hi
}

func numericID(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return int64(f)
		}
	}
	return 0
}
