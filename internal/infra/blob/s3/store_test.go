package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"creatureledger/internal/blob/core"
)

func newFakeStore(t *testing.T) (*Store, *Fake) {
	t.Helper()
	store, fake, err := NewFake(context.Background(), "ledger-archive")
	if err != nil {
		t.Fatalf("new fake: %v", err)
	}
	return store, fake
}

func TestStoreBasicFlow(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeStore(t)
	if store.Driver() != core.DriverS3 || store.Bucket() != "ledger-archive" {
		t.Fatalf("unexpected store %s/%s", store.Driver(), store.Bucket())
	}
	payload := "{\"kind\":\"transferred\"}\n"
	info, err := store.Put(ctx, "events/1.jsonl", bytes.NewReader([]byte(payload)), core.PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"events": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "events/1.jsonl" || info.ContentType != "application/x-ndjson" || info.Size != int64(len(payload)) || info.ETag == "" {
		t.Fatalf("unexpected info %#v", info)
	}
	if info.Metadata["events"] != "1" {
		t.Fatalf("expected metadata round trip, got %v", info.Metadata)
	}
	if _, err := store.Put(ctx, "events/1.jsonl", strings.NewReader("ignored"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists error, got %v", err)
	}
	for _, key := range []string{"", "/events/1.jsonl", "events/../1.jsonl"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected invalid key, got %v", key, err)
		}
	}

	_, rc, err := store.Get(ctx, "events/1.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != payload {
		t.Fatalf("get mismatch: %q", data)
	}

	if fake.Len() != 1 {
		t.Fatalf("expected one object, got %d", fake.Len())
	}
}

func TestStoreMissingKeys(t *testing.T) {
	store, _ := newFakeStore(t)
	ctx := context.Background()
	if _, err := store.Head(ctx, "events/missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected head not found, got %v", err)
	}
	if _, _, err := store.Get(ctx, "events/missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected get not found, got %v", err)
	}
}

func TestStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeStore(t)
	fake.PageSize = 2
	for i := 5; i >= 1; i-- {
		key := fmt.Sprintf("events/%03d.jsonl", i)
		if _, err := store.Put(ctx, key, strings.NewReader("e\n"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "other/x", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "events/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 keys across pages, got %+v", list)
	}
	for i, info := range list {
		if want := fmt.Sprintf("events/%03d.jsonl", i+1); info.Key != want || info.Size != 2 {
			t.Fatalf("position %d: unexpected %+v", i, info)
		}
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket required")
	}
}

func TestDecodeChunked(t *testing.T) {
	framed := "5;chunk-signature=abc\r\nhello\r\n6\r\n world\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"
	got, err := decodeChunked([]byte(framed))
	if err != nil || string(got) != "hello world" {
		t.Fatalf("decode: %q %v", got, err)
	}
	if _, err := decodeChunked([]byte("zz\r\n")); err == nil {
		t.Fatalf("expected bad size error")
	}
	if _, err := decodeChunked([]byte("5\r\nhi")); err == nil {
		t.Fatalf("expected truncated chunk error")
	}
}
