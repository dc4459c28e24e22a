package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nzhao20-glitch/filing-etl/internal/records"
)

// maxShardBytes caps one output shard so the downstream indexer can load
// any shard fully in memory.
const maxShardBytes = 10 << 20

// shardWriter accumulates page records and uploads them as JSONL shards,
// rolling to a new part whenever the serialized size would cross the cap.
type shardWriter struct {
	store         ObjectStore
	bucket        string
	prefix        string
	exchange      string
	arrayIndex    int
	part          int
	lines         [][]byte
	size          int
	shardsWritten int
}

func newShardWriter(store ObjectStore, bucket, prefix, exchange string, arrayIndex int) *shardWriter {
	ex := strings.ToLower(exchange)
	if ex == "" {
		ex = "unknown"
	}
	return &shardWriter{
		store:      store,
		bucket:     bucket,
		prefix:     prefix,
		exchange:   ex,
		arrayIndex: arrayIndex,
	}
}

func (w *shardWriter) key() string {
	return fmt.Sprintf("%s/%s/batch_%06d_%03d.jsonl", w.prefix, w.exchange, w.arrayIndex, w.part)
}

// add buffers one record, flushing the current shard first if the record
// would push it over the size cap.
func (w *shardWriter) add(ctx context.Context, rec records.PageRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal page record %s: %w", rec.UniquePageID, err)
	}
	if w.size > 0 && w.size+len(line)+1 > maxShardBytes {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	w.lines = append(w.lines, line)
	w.size += len(line) + 1
	return nil
}

// flush uploads the buffered records, if any, and advances to the next
// part number.
func (w *shardWriter) flush(ctx context.Context) error {
	if len(w.lines) == 0 {
		return nil
	}
	body := bytes.Join(w.lines, []byte("\n"))
	if err := w.store.Upload(ctx, w.bucket, w.key(), body, "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload shard %s: %w", w.key(), err)
	}
	w.part++
	w.shardsWritten++
	w.lines = w.lines[:0]
	w.size = 0
	return nil
}
