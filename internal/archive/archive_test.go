package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stowage/internal/types"
)

type memStore struct {
	objects map[string][]byte
	inputs  []*s3.PutObjectInput
	putErr  error
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.inputs = append(m.inputs, params)
	m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *memStore) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	body, ok := m.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecord() RunRecord {
	started := time.Date(2025, 3, 25, 6, 0, 0, 0, time.UTC)
	return RunRecord{
		RunID:      "run-123",
		Trigger:    "schedule",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Simulation: &types.SimulationResult{
			AsOf: started,
			Window: types.BillingWindow{
				PreviousCutoff: time.Date(2025, 2, 25, 0, 0, 0, 0, time.UTC),
				NextCutoff:     time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC),
				DueDate:        time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC),
			},
			Invoices:    []types.Invoice{},
			Skipped:     []types.SkippedContainer{{ContainerCode: "MSCU1", Reason: "no base cost"}},
			TotalAmount: 420.5,
		},
		Materialization: &types.MaterializeResult{Count: 0, Succeeded: []types.Invoice{}, Failed: []types.MaterializeFailure{}},
	}
}

func TestRunRecordKey(t *testing.T) {
	rec := sampleRecord()
	assert.Equal(t, "billing-runs/2025/03/run-123.json.zst", rec.Key())

	rec.Simulation = nil
	rec.StartedAt = time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "billing-runs/2024/12/run-123.json.zst", rec.Key())
}

func TestArchive_RoundTrip(t *testing.T) {
	store := newMemStore()
	a := NewArchiver(store, "stowage-archive", testLogger())

	key, err := a.Archive(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, "billing-runs/2025/03/run-123.json.zst", key)

	require.Len(t, store.inputs, 1)
	in := store.inputs[0]
	assert.Equal(t, "zstd", aws.ToString(in.ContentEncoding))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, "schedule", in.Metadata["trigger"])

	got, err := a.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "run-123", got.RunID)
	require.NotNil(t, got.Simulation)
	assert.Equal(t, 420.5, got.Simulation.TotalAmount)
	assert.Equal(t, "MSCU1", got.Simulation.Skipped[0].ContainerCode)
}

func TestArchive_StoresZstd(t *testing.T) {
	store := newMemStore()
	a := NewArchiver(store, "b", testLogger())

	key, err := a.Archive(context.Background(), sampleRecord())
	require.NoError(t, err)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(store.objects["b/"+key], nil)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"run_id":"run-123"`)
}

func TestArchive_Errors(t *testing.T) {
	t.Run("missing run id", func(t *testing.T) {
		a := NewArchiver(newMemStore(), "b", testLogger())
		rec := sampleRecord()
		rec.RunID = ""
		_, err := a.Archive(context.Background(), rec)
		assertArchiveError(t, err)
	})

	t.Run("upload failure", func(t *testing.T) {
		store := newMemStore()
		store.putErr = errors.New("AccessDenied")
		a := NewArchiver(store, "b", testLogger())
		_, err := a.Archive(context.Background(), sampleRecord())
		assertArchiveError(t, err)
		assert.ErrorIs(t, err, store.putErr)
	})

	t.Run("load missing key", func(t *testing.T) {
		a := NewArchiver(newMemStore(), "b", testLogger())
		_, err := a.Load(context.Background(), "billing-runs/2025/03/nope.json.zst")
		assertArchiveError(t, err)
	})

	t.Run("load corrupt object", func(t *testing.T) {
		store := newMemStore()
		store.objects["b/bad"] = []byte("not zstd")
		a := NewArchiver(store, "b", testLogger())
		_, err := a.Load(context.Background(), "bad")
		assertArchiveError(t, err)
	})
}

func assertArchiveError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalArchive, appErr.Code)
}
