// Package archive stores a compressed audit record of every billing run in
// S3. Records are zstd-compressed JSON under
// billing-runs/YYYY/MM/<run_id>.json.zst, where YYYY/MM is the billed period.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"stowage/internal/types"
)

const (
	keyPrefix       = "billing-runs"
	contentType     = "application/json"
	contentEncoding = "zstd"
)

// ObjectStore is the subset of *s3.Client used by the archiver.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RunRecord is the archived outcome of one billing run.
type RunRecord struct {
	RunID           string                   `json:"run_id"`
	Trigger         string                   `json:"trigger"`
	StartedAt       time.Time                `json:"started_at"`
	FinishedAt      time.Time                `json:"finished_at"`
	DryRun          bool                     `json:"dry_run"`
	Simulation      *types.SimulationResult  `json:"simulation"`
	Materialization *types.MaterializeResult `json:"materialization,omitempty"`
}

// Key returns the object key of the record.
func (r RunRecord) Key() string {
	period := r.StartedAt
	if r.Simulation != nil && !r.Simulation.Window.NextCutoff.IsZero() {
		period = r.Simulation.Window.NextCutoff
	}
	return fmt.Sprintf("%s/%04d/%02d/%s.json.zst", keyPrefix, period.Year(), int(period.Month()), r.RunID)
}

// Archiver writes and reads run records.
type Archiver struct {
	store  ObjectStore
	bucket string
	logger *slog.Logger

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewArchiver creates an Archiver for bucket.
func NewArchiver(store ObjectStore, bucket string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:  store,
		bucket: bucket,
		logger: logger,
		encoderPool: sync.Pool{
			New: func() any {
				e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
				}
				return e
			},
		},
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// Archive uploads rec and returns its key.
func (a *Archiver) Archive(ctx context.Context, rec RunRecord) (string, error) {
	if rec.RunID == "" {
		return "", types.NewAppError(types.ErrCodeInternalArchive, "run record has no run id", nil)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalArchive, "failed to encode run record", err)
	}

	enc := a.encoderPool.Get().(*zstd.Encoder)
	compressed := enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))
	a.encoderPool.Put(enc)

	key := rec.Key()
	if _, err := a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String(contentType),
		ContentEncoding: aws.String(contentEncoding),
		Metadata: map[string]string{
			"run-id":  rec.RunID,
			"trigger": rec.Trigger,
		},
	}); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalArchive,
			fmt.Sprintf("failed to upload run record %s", key), err)
	}

	types.LoggerFromContext(ctx, a.logger).InfoContext(ctx, "Billing run archived",
		"bucket", a.bucket,
		"key", key,
		"raw_bytes", len(raw),
		"compressed_bytes", len(compressed),
	)
	return key, nil
}

// Load reads and decodes the record stored at key.
func (a *Archiver) Load(ctx context.Context, key string) (*RunRecord, error) {
	out, err := a.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalArchive,
			fmt.Sprintf("failed to fetch run record %s", key), err)
	}
	defer out.Body.Close()

	compressed, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalArchive,
			fmt.Sprintf("failed to read run record %s", key), err)
	}

	dec := a.decoderPool.Get().(*zstd.Decoder)
	raw, err := dec.DecodeAll(compressed, nil)
	a.decoderPool.Put(dec)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalArchive,
			fmt.Sprintf("failed to decompress run record %s", key), err)
	}

	var rec RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalArchive,
			fmt.Sprintf("failed to decode run record %s", key), err)
	}
	return &rec, nil
}
