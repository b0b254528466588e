package sqldb

import (
	"context"
	"strings"
)

// ListBlobsParams filters the blob listing. The filter is built at runtime
// because the tag list varies in length, so it lives outside the generated files.
type ListBlobsParams struct {
	Search string
	Tags   []string
	Limit  int64
	Offset int64
}

func (q *Queries) ListBlobs(ctx context.Context, arg ListBlobsParams) ([]Blob, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + blobColumns + ` FROM blobs WHERE 1=1`)

	if arg.Search != "" {
		pattern := "%" + arg.Search + "%"
		sb.WriteString(` AND (name LIKE ? OR description LIKE ? OR content_preview LIKE ?)`)
		args = append(args, pattern, pattern, pattern)
	}

	for _, tag := range arg.Tags {
		sb.WriteString(` AND tags LIKE ?`)
		args = append(args, `%"`+tag+`"%`)
	}

	sb.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	args = append(args, arg.Limit, arg.Offset)

	rows, err := q.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return collectBlobs(rows)
}
