package filetransport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

func newCtx() *reqcontext.Context {
	return reqcontext.New("GET", "/x", "127.0.0.1", nil)
}

func TestWriteThenReadLocalFileRoundTrips(t *testing.T) {
	tr := &Transport{}
	path := filepath.Join(t.TempDir(), "entry.json")

	writeResult := tr.Run(ztypes.Effect{
		Kind:    ztypes.EffectFileWrite,
		Target:  path,
		Payload: []byte(`{"ok":true}`),
	}, newCtx(), nil, nil)
	if !writeResult.Success {
		t.Fatalf("expected write to succeed, got %+v", writeResult)
	}

	readResult := tr.Run(ztypes.Effect{Kind: ztypes.EffectFileRead, Target: path}, newCtx(), nil, nil)
	if !readResult.Success || string(readResult.Bytes) != `{"ok":true}` {
		t.Fatalf("expected round-tripped contents, got %+v", readResult)
	}
}

func TestReadMissingLocalFileReturnsNotFound(t *testing.T) {
	tr := &Transport{}
	path := filepath.Join(t.TempDir(), "absent.json")

	result := tr.Run(ztypes.Effect{Kind: ztypes.EffectFileRead, Target: path}, newCtx(), nil, nil)
	if result.Success || result.Err.Kind != ztypes.ErrNotFound {
		t.Fatalf("expected ErrNotFound for a missing file, got %+v", result)
	}
}

func TestSplitS3ParsesBucketAndKey(t *testing.T) {
	bucket, key, ok := splitS3("s3://my-bucket/path/to/object.json")
	if !ok || bucket != "my-bucket" || key != "path/to/object.json" {
		t.Fatalf("expected bucket=my-bucket key=path/to/object.json, got bucket=%q key=%q ok=%v", bucket, key, ok)
	}
}

func TestSplitS3RejectsNonS3Target(t *testing.T) {
	if _, _, ok := splitS3("/tmp/local/path"); ok {
		t.Fatal("expected a local path to not parse as an s3:// target")
	}
}

func TestSplitS3RejectsMissingKey(t *testing.T) {
	if _, _, ok := splitS3("s3://bucket-only"); ok {
		t.Fatal("expected a bucket with no key to be rejected")
	}
}

func TestWriteCreatesParentlessFileInTempDir(t *testing.T) {
	tr := &Transport{}
	path := filepath.Join(t.TempDir(), "nested.bin")
	result := tr.Run(ztypes.Effect{Kind: ztypes.EffectFileWrite, Target: path, Payload: []byte{1, 2, 3}}, newCtx(), nil, nil)
	if !result.Success {
		t.Fatalf("expected write to succeed, got %+v", result)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	if info.Size() != 3 {
		t.Fatalf("expected 3 bytes written, got %d", info.Size())
	}
}
