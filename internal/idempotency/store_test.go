package idempotency

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing key")
	}

	if err := store.Save(ctx, "abc", NewRecord(200, "text/plain", []byte("7"), time.Minute)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := store.Get(ctx, "abc")
	if got == nil || string(got.Response) != "7" || got.ContentType != "text/plain" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := store.Save(ctx, "old", NewRecord(200, "text/plain", []byte("1"), -time.Second)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if got, _ := store.Get(ctx, "old"); got != nil {
		t.Fatalf("expected expired record to be hidden, got %+v", got)
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "idem.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, "key", NewRecord(200, "text/plain", []byte("resp"), time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, "key")
	if got == nil || string(got.Response) != "resp" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestStoresPurgeExpired(t *testing.T) {
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "idem.json"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ctx := context.Background()

	for name, store := range map[string]Store{"memory": NewMemoryStore(), "file": fileStore} {
		if err := store.Save(ctx, "live", NewRecord(200, "text/plain", []byte("1"), time.Hour)); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		if err := store.Save(ctx, "gone", NewRecord(200, "text/plain", []byte("2"), -time.Second)); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}

		n, err := store.Purge(ctx)
		if err != nil || n != 1 {
			t.Fatalf("%s: purge = %d, %v; want 1", name, n, err)
		}
		if got, _ := store.Get(ctx, "live"); got == nil {
			t.Fatalf("%s: live record purged", name)
		}
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestKeyLockSerializesSameKey(t *testing.T) {
	locks := NewKeyLock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("0xabc")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen)
	}
	if len(locks.locks) != 0 {
		t.Fatalf("expected lock table to drain, has %d", len(locks.locks))
	}
}

func TestKeyLockIndependentKeys(t *testing.T) {
	locks := NewKeyLock()
	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
