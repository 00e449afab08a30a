package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

// storesUnderTest builds one of each backend against fresh state.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	return map[string]Store{
		"memory":     NewMemory(),
		"filesystem": fs,
		"s3":         NewMockS3ForTests(),
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			body := "summary payload"
			info, err := store.Put(ctx, "reports/2026-08-25/run/summary.json", strings.NewReader(body), PutOptions{
				ContentType: "application/json",
				Metadata:    map[string]string{"run": "abc"},
			})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != int64(len(body)) {
				t.Fatalf("size = %d, want %d", info.Size, len(body))
			}

			got, rc, err := store.Get(ctx, "reports/2026-08-25/run/summary.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer func() { _ = rc.Close() }()
			data, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if string(data) != body {
				t.Fatalf("payload = %q, want %q", data, body)
			}
			if got.ContentType != "application/json" {
				t.Fatalf("content type lost: %q", got.ContentType)
			}
		})
	}
}

func TestStorePutIsCreateOnly(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "k", strings.NewReader("one"), PutOptions{}); err != nil {
				t.Fatalf("first put: %v", err)
			}
			if _, err := store.Put(ctx, "k", strings.NewReader("two"), PutOptions{}); err == nil {
				t.Fatal("second put on same key must fail")
			}
		})
	}
}

func TestStoreDeleteMissingIsNotAnError(t *testing.T) {
	// S3 deletes are idempotent and always report true, so it is exercised
	// separately in TestS3DeleteIsIdempotent.
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	for name, store := range map[string]Store{"memory": NewMemory(), "filesystem": fs} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			existed, err := store.Delete(ctx, "absent")
			if err != nil {
				t.Fatalf("delete absent: %v", err)
			}
			if existed {
				t.Fatal("absent key reported as deleted")
			}

			if _, err := store.Put(ctx, "present", strings.NewReader("x"), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			existed, err = store.Delete(ctx, "present")
			if err != nil || !existed {
				t.Fatalf("delete present = (%v, %v)", existed, err)
			}
			if _, err := store.Head(ctx, "present"); err == nil {
				t.Fatal("deleted key still visible")
			}
		})
	}
}

func TestS3DeleteIsIdempotent(t *testing.T) {
	store := NewMockS3ForTests()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 2; i++ {
		existed, err := store.Delete(ctx, "k")
		if err != nil || !existed {
			t.Fatalf("delete round %d = (%v, %v)", i, existed, err)
		}
	}
	if _, err := store.Head(ctx, "k"); err == nil {
		t.Fatal("deleted key still visible")
	}
}

func TestStoreListOrderedByKeyUnderPrefix(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"reports/b", "reports/a", "other/z"} {
				if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "reports/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(infos) != 2 || infos[0].Key != "reports/a" || infos[1].Key != "reports/b" {
				t.Fatalf("listing wrong: %+v", infos)
			}
		})
	}
}

func TestMemoryGetMissing(t *testing.T) {
	_, _, err := NewMemory().Get(context.Background(), "absent")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	_, err := NewMemory().PresignURL(context.Background(), "k", SignedURLOptions{})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	for _, key := range []string{"../escape", "/abs", "."} {
		if _, err := fs.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("key %q must be rejected", key)
		}
	}
}

func TestFilesystemPresignReturnsFileURL(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	ctx := context.Background()
	if _, err := fs.Put(ctx, "reports/summary.json", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	u, err := fs.PresignURL(ctx, "reports/summary.json", SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(u, "file://") {
		t.Fatalf("expected file URL, got %q", u)
	}
	if _, err := fs.PresignURL(ctx, "reports/summary.json", SignedURLOptions{Method: "PUT"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("PUT presign must be unsupported, got %v", err)
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	t.Setenv("CARBONCORE_BLOB_DRIVER", "fs")
	t.Setenv("CARBONCORE_BLOB_FS_ROOT", t.TempDir())
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %q, want fs", store.Driver())
	}

	t.Setenv("CARBONCORE_BLOB_DRIVER", "memory")
	store, err = Open(context.Background())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %q, want memory", store.Driver())
	}
}

func TestS3PresignURL(t *testing.T) {
	store := NewMockS3ForTests()
	ctx := context.Background()
	if _, err := store.Put(ctx, "reports/summary.json", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	u, err := store.PresignURL(ctx, "reports/summary.json", SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(u, "reports/summary.json") {
		t.Fatalf("presigned URL missing key: %q", u)
	}
	if _, err := store.PresignURL(ctx, "reports/summary.json", SignedURLOptions{Method: "PUT"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("PUT presign must be unsupported, got %v", err)
	}
}
