package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/blobstore"
	"github.com/vault-md/walrusdb/internal/services"
	"github.com/vault-md/walrusdb/internal/tablestore"
	"github.com/vault-md/walrusdb/internal/usecase"
)

// Server exposes blobs, documents and tables as MCP tools.
type Server struct {
	server *mcp.Server
	app    *application.App

	mu        sync.Mutex
	databases map[string]*tablestore.Store
}

// NewServer creates a new MCP server instance over app.
func NewServer(app *application.App, version string) (*Server, error) {
	if app == nil {
		return nil, errors.New("application is required")
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "walrusdb",
		Version: version,
	}, nil)

	s := &Server{
		server:    mcpServer,
		app:       app,
		databases: map[string]*tablestore.Store{},
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeDatabases()
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "blob_store",
		Description: "Store text content as a new blob",
	}, s.handleBlobStore)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "blob_get",
		Description: "Retrieve a blob by id",
	}, s.handleBlobGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "blob_list",
		Description: "List or search stored blobs",
	}, s.handleBlobList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "doc_version",
		Description: "Store a new version of a document",
	}, s.handleDocVersion)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "doc_get",
		Description: "Get the current version of a document",
	}, s.handleDocGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "doc_history",
		Description: "List every version of a document, newest first",
	}, s.handleDocHistory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "doc_rollback",
		Description: "Make an existing version the current one",
	}, s.handleDocRollback)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "table_select",
		Description: "Query rows from a table in the local mirror",
	}, s.handleTableSelect)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "table_insert",
		Description: "Insert rows into a table and sync them",
	}, s.handleTableInsert)
}

type BlobStoreInput struct {
	Content     string   `json:"content" jsonschema:"The content to store"`
	Name        *string  `json:"name,omitempty" jsonschema:"Human readable name"`
	Description *string  `json:"description,omitempty" jsonschema:"Optional description"`
	Tags        []string `json:"tags,omitempty" jsonschema:"Tags for search"`
	Deletable   *bool    `json:"deletable,omitempty" jsonschema:"Allow the blob to be deleted later"`
	Epochs      *int     `json:"epochs,omitempty" jsonschema:"Storage epochs (default 3)"`
}

type BlobStoreOutput struct {
	BlobID   string `json:"blobId"`
	Size     int64  `json:"size"`
	TxDigest string `json:"txDigest,omitempty"`
}

type BlobGetInput struct {
	BlobID       string `json:"blobId" jsonschema:"The blob id"`
	ForceNetwork *bool  `json:"forceNetwork,omitempty" jsonschema:"Skip the local metadata index"`
}

type BlobGetOutput struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type BlobListInput struct {
	Search *string  `json:"search,omitempty" jsonschema:"Substring matched against name, description and preview"`
	Tags   []string `json:"tags,omitempty" jsonschema:"Every tag must be present"`
	Limit  *int     `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
	Offset *int     `json:"offset,omitempty" jsonschema:"Results to skip"`
}

type BlobListOutput struct {
	Blobs []BlobEntry `json:"blobs"`
}

type BlobEntry struct {
	BlobID      string   `json:"blobId"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	ContentType string   `json:"contentType"`
	Size        int64    `json:"size"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

type DocVersionInput struct {
	Document    string  `json:"document" jsonschema:"Document name"`
	Content     string  `json:"content" jsonschema:"Content of the new version"`
	Description *string `json:"description,omitempty" jsonschema:"Version description"`
}

type DocVersionOutput struct {
	Document string `json:"document"`
	Version  int64  `json:"version"`
	BlobID   string `json:"blobId"`
}

type DocInput struct {
	Document string `json:"document" jsonschema:"Document name"`
}

type DocGetOutput struct {
	Document    string `json:"document"`
	Version     int64  `json:"version"`
	BlobID      string `json:"blobId"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"createdAt"`
}

type DocHistoryOutput struct {
	Versions []DocVersionEntry `json:"versions"`
}

type DocVersionEntry struct {
	Version     int64  `json:"version"`
	BlobID      string `json:"blobId"`
	Description string `json:"description,omitempty"`
	IsCurrent   bool   `json:"isCurrent"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"createdAt"`
}

type DocRollbackInput struct {
	Document string `json:"document" jsonschema:"Document name"`
	Version  int64  `json:"version" jsonschema:"Version to make current"`
}

type DocRollbackOutput struct {
	Message string `json:"message"`
}

type TableSelectInput struct {
	Database string  `json:"database" jsonschema:"Database name"`
	Table    string  `json:"table" jsonschema:"Table name"`
	Columns  *string `json:"columns,omitempty" jsonschema:"Column list (default *)"`
	Where    *string `json:"where,omitempty" jsonschema:"Filter predicate"`
	OrderBy  *string `json:"orderBy,omitempty" jsonschema:"Ordering clause"`
	Limit    *int    `json:"limit,omitempty" jsonschema:"Maximum rows"`
	Offset   *int    `json:"offset,omitempty" jsonschema:"Rows to skip"`
}

type TableSelectOutput struct {
	Rows []map[string]any `json:"rows"`
}

type TableInsertInput struct {
	Database string           `json:"database" jsonschema:"Database name"`
	Table    string           `json:"table" jsonschema:"Table name"`
	Rows     []map[string]any `json:"rows" jsonschema:"Rows to insert"`
}

type TableInsertOutput struct {
	Inserted int `json:"inserted"`
}

func (s *Server) handleBlobStore(ctx context.Context, req *mcp.CallToolRequest, input BlobStoreInput) (*mcp.CallToolResult, BlobStoreOutput, error) {
	opts := blobstore.StoreOptions{
		Name:        deref(input.Name),
		Description: deref(input.Description),
		Tags:        input.Tags,
		Deletable:   deref(input.Deletable),
		Epochs:      deref(input.Epochs),
	}

	res, err := s.app.Blobs.StoreString(ctx, input.Content, opts)
	if err != nil {
		return nil, BlobStoreOutput{}, fmt.Errorf("failed to store blob: %w", err)
	}
	return nil, BlobStoreOutput{BlobID: res.BlobID, Size: res.Size, TxDigest: res.TxDigest}, nil
}

func (s *Server) handleBlobGet(ctx context.Context, req *mcp.CallToolRequest, input BlobGetInput) (*mcp.CallToolResult, BlobGetOutput, error) {
	res, err := s.app.Blobs.Retrieve(ctx, input.BlobID, blobstore.RetrieveOptions{ForceNetwork: deref(input.ForceNetwork)})
	if err != nil {
		return nil, BlobGetOutput{}, fmt.Errorf("failed to get blob: %w", err)
	}

	out := BlobGetOutput{
		Content:     string(res.Content),
		ContentType: res.ContentType,
		Size:        res.Size,
	}
	if res.Metadata != nil {
		out.Name = res.Metadata.Name
		out.Description = res.Metadata.Description
	}
	return nil, out, nil
}

func (s *Server) handleBlobList(ctx context.Context, req *mcp.CallToolRequest, input BlobListInput) (*mcp.CallToolResult, BlobListOutput, error) {
	recs, err := s.app.Index.List(ctx, services.ListOptions{
		Search: deref(input.Search),
		Tags:   input.Tags,
		Limit:  deref(input.Limit),
		Offset: deref(input.Offset),
	})
	if err != nil {
		return nil, BlobListOutput{}, fmt.Errorf("failed to list blobs: %w", err)
	}

	blobs := make([]BlobEntry, 0, len(recs))
	for _, rec := range recs {
		blobs = append(blobs, BlobEntry{
			BlobID:      rec.BlobID,
			Name:        rec.Name,
			Description: rec.Description,
			ContentType: rec.ContentType,
			Size:        rec.Size,
			Tags:        rec.Tags,
			CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, BlobListOutput{Blobs: blobs}, nil
}

func (s *Server) handleDocVersion(ctx context.Context, req *mcp.CallToolRequest, input DocVersionInput) (*mcp.CallToolResult, DocVersionOutput, error) {
	res, err := s.app.Documents.StoreVersion(ctx, input.Document, []byte(input.Content), usecase.StoreVersionInput{
		Description: deref(input.Description),
	})
	if err != nil {
		return nil, DocVersionOutput{}, fmt.Errorf("failed to store version: %w", err)
	}
	return nil, DocVersionOutput{Document: res.DocumentName, Version: res.Version, BlobID: res.BlobID}, nil
}

func (s *Server) handleDocGet(ctx context.Context, req *mcp.CallToolRequest, input DocInput) (*mcp.CallToolResult, DocGetOutput, error) {
	cur, err := s.app.Documents.GetCurrentVersion(ctx, input.Document)
	if err != nil {
		return nil, DocGetOutput{}, fmt.Errorf("failed to get document: %w", err)
	}
	return nil, DocGetOutput{
		Document:    cur.DocumentName,
		Version:     cur.Version,
		BlobID:      cur.BlobID,
		Description: cur.Description,
		Content:     string(cur.Content),
		Size:        cur.Size,
		CreatedAt:   cur.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *Server) handleDocHistory(ctx context.Context, req *mcp.CallToolRequest, input DocInput) (*mcp.CallToolResult, DocHistoryOutput, error) {
	history, err := s.app.Documents.GetHistory(ctx, input.Document)
	if err != nil {
		return nil, DocHistoryOutput{}, fmt.Errorf("failed to get history: %w", err)
	}

	versions := make([]DocVersionEntry, 0, len(history))
	for _, v := range history {
		versions = append(versions, DocVersionEntry{
			Version:     v.Version,
			BlobID:      v.BlobID,
			Description: v.Description,
			IsCurrent:   v.IsCurrent,
			Size:        v.Size,
			CreatedAt:   v.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, DocHistoryOutput{Versions: versions}, nil
}

func (s *Server) handleDocRollback(ctx context.Context, req *mcp.CallToolRequest, input DocRollbackInput) (*mcp.CallToolResult, DocRollbackOutput, error) {
	if err := s.app.Documents.SetCurrentVersion(ctx, input.Document, input.Version); err != nil {
		return nil, DocRollbackOutput{}, fmt.Errorf("failed to roll back: %w", err)
	}
	return nil, DocRollbackOutput{
		Message: fmt.Sprintf("Document '%s' is now at version %d", input.Document, input.Version),
	}, nil
}

func (s *Server) handleTableSelect(ctx context.Context, req *mcp.CallToolRequest, input TableSelectInput) (*mcp.CallToolResult, TableSelectOutput, error) {
	db, err := s.database(ctx, input.Database)
	if err != nil {
		return nil, TableSelectOutput{}, err
	}

	rows, err := db.Select(ctx, input.Table, tablestore.SelectOptions{
		Columns: deref(input.Columns),
		Where:   deref(input.Where),
		OrderBy: deref(input.OrderBy),
		Limit:   deref(input.Limit),
		Offset:  deref(input.Offset),
	})
	if err != nil {
		return nil, TableSelectOutput{}, fmt.Errorf("failed to select: %w", err)
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	return nil, TableSelectOutput{Rows: out}, nil
}

func (s *Server) handleTableInsert(ctx context.Context, req *mcp.CallToolRequest, input TableInsertInput) (*mcp.CallToolResult, TableInsertOutput, error) {
	db, err := s.database(ctx, input.Database)
	if err != nil {
		return nil, TableInsertOutput{}, err
	}

	rows := make([]tablestore.Row, 0, len(input.Rows))
	for _, row := range input.Rows {
		rows = append(rows, row)
	}

	n, err := db.Insert(ctx, input.Table, rows, tablestore.InsertOptions{})
	if err != nil {
		return nil, TableInsertOutput{}, fmt.Errorf("failed to insert: %w", err)
	}
	return nil, TableInsertOutput{Inserted: n}, nil
}

// database returns an open table store, opening it on first use.
func (s *Server) database(ctx context.Context, name string) (*tablestore.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.databases[name]; ok {
		return db, nil
	}
	db, err := s.app.OpenDatabase(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", name, err)
	}
	s.databases[name] = db
	return db, nil
}

func (s *Server) closeDatabases() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, db := range s.databases {
		_ = db.Close()
		delete(s.databases, name)
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
