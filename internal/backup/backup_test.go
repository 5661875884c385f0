package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fleetsync/internal/record"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_Archive(t *testing.T) {
	put := &fakePutter{}
	a := &S3Archiver{client: put, bucket: "snapshots", prefix: "/fleetsync/"}

	rec := record.New("t1")
	rec.Set(record.ColStatus, "em rota")
	at := time.Date(2025, 12, 3, 10, 15, 0, 0, time.UTC)
	snap := NewSnapshot("ENTREGAS", "reconcile removed 3", []string{record.ColID, record.ColStatus}, []record.Record{rec}, at)

	key, err := a.Archive(context.Background(), snap)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.HasPrefix(key, "fleetsync/entregas/20251203T101500Z-") || !strings.HasSuffix(key, ".json.gz") {
		t.Fatalf("key=%q", key)
	}
	if aws.ToString(put.input.Bucket) != "snapshots" || aws.ToString(put.input.Key) != key {
		t.Fatalf("input=%+v", put.input)
	}

	zr, err := gzip.NewReader(bytes.NewReader(put.body))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	var got Snapshot
	if err := json.NewDecoder(zr).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Collection != "ENTREGAS" || len(got.Records) != 1 || got.Records[0][record.ColStatus] != "em rota" {
		t.Fatalf("snapshot=%+v", got)
	}
}

func TestNewSnapshot_DoesNotAlias(t *testing.T) {
	rec := record.New("a")
	snap := NewSnapshot("X", "", nil, []record.Record{rec}, time.Now())
	snap.Records[0]["Nome"] = "changed"
	if rec.Get("Nome") != nil {
		t.Fatalf("snapshot aliases the source record")
	}
}
