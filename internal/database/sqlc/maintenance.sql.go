package sqldb

import "context"

const deleteAllBlobVersions = `DELETE FROM blob_versions`

func (q *Queries) DeleteAllBlobVersions(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllBlobVersions)
	return err
}

const deleteAllBlobs = `DELETE FROM blobs`

func (q *Queries) DeleteAllBlobs(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllBlobs)
	return err
}

const deleteAllDataChunks = `DELETE FROM data_chunks`

func (q *Queries) DeleteAllDataChunks(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllDataChunks)
	return err
}

const deleteAllTableSchemas = `DELETE FROM table_schemas`

func (q *Queries) DeleteAllTableSchemas(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllTableSchemas)
	return err
}

const deleteAllSyncLog = `DELETE FROM sync_log`

func (q *Queries) DeleteAllSyncLog(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllSyncLog)
	return err
}

const deleteAllDatabaseInfo = `DELETE FROM database_info`

func (q *Queries) DeleteAllDatabaseInfo(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllDatabaseInfo)
	return err
}
