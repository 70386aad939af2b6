package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// DecisionArchiver writes each decision batch as one JSONL object under
//
//	{prefix}/YYYY/MM/DD/HH/{first_decided_unix_ns}-{uuid}.jsonl
//
// keyed by the batch's first decision time.
type DecisionArchiver struct {
	writer  domain.ObjectWriter
	prefix  string
	objects atomic.Uint64
	bytes   atomic.Uint64
}

// NewDecisionArchiver creates a DecisionArchiver.
func NewDecisionArchiver(writer domain.ObjectWriter, prefix string) *DecisionArchiver {
	return &DecisionArchiver{writer: writer, prefix: prefix}
}

func (a *DecisionArchiver) Name() string { return "s3" }

func (a *DecisionArchiver) objectKey(first time.Time) string {
	t := first.UTC()
	name := fmt.Sprintf("%d-%s.jsonl", t.UnixNano(), uuid.NewString())
	return path.Join(a.prefix, t.Format("2006/01/02/15"), name)
}

func encodeJSONL(batch []domain.DecisionRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("s3blob: encode decision %s: %w", rec.PlanID, err)
		}
	}
	return buf.Bytes(), nil
}

// WriteDecisions uploads batch as one object.
func (a *DecisionArchiver) WriteDecisions(ctx context.Context, batch []domain.DecisionRecord) error {
	if len(batch) == 0 {
		return nil
	}
	data, err := encodeJSONL(batch)
	if err != nil {
		return err
	}
	if err := a.writer.PutObject(ctx, a.objectKey(batch[0].DecidedAt), data, contentTypeJSONL); err != nil {
		return err
	}
	a.objects.Add(1)
	a.bytes.Add(uint64(len(data)))
	return nil
}

// Stats returns the number of objects and bytes written.
func (a *DecisionArchiver) Stats() (objects, bytes uint64) {
	return a.objects.Load(), a.bytes.Load()
}
