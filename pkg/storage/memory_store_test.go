package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")
	if err := s.Put(ctx, "u1/a.stl", strings.NewReader("solid"), 5, "model/stl"); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, err := s.Get(ctx, "u1/a.stl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer obj.Body.Close()
	data, _ := io.ReadAll(obj.Body)
	if string(data) != "solid" || obj.ContentType != "model/stl" || obj.Size != 5 {
		t.Fatalf("unexpected object %+v data=%q", obj, data)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")
	for _, key := range []string{"u1/projects/a/x.stl", "u1/projects/a/y.stl", "u1/projects/b/z.stl", "u2/projects/a/x.stl"} {
		_ = s.Put(ctx, key, strings.NewReader("x"), 1, "")
	}
	if err := s.DeletePrefix(ctx, ProjectPrefix("u1", "a")); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	keys, _ := s.List(ctx, "")
	if len(keys) != 2 || keys[0] != "u1/projects/b/z.stl" || keys[1] != "u2/projects/a/x.stl" {
		t.Fatalf("unexpected keys %v", keys)
	}
	_ = s.DeletePrefix(ctx, UserPrefix("u1"))
	if s.Exists("u1/projects/b/z.stl") {
		t.Fatalf("user prefix delete left objects behind")
	}
}

func TestMemoryStoreCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("test")
	_ = s.Put(ctx, "src", strings.NewReader("abc"), 3, "text/plain")
	if err := s.Copy(ctx, "src", "dst"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if !s.Exists("src") || !s.Exists("dst") {
		t.Fatalf("copy should keep source and create destination")
	}
	if err := s.Copy(ctx, "missing", "x"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found on copy, got %v", err)
	}
}

func TestProjectKeys(t *testing.T) {
	if got := ProjectFileKey("u1", "gear", "part.stl"); got != "u1/projects/gear/part.stl" {
		t.Fatalf("unexpected file key %q", got)
	}
	if got := UserPrefix("u1"); got != "u1/" {
		t.Fatalf("unexpected user prefix %q", got)
	}
}
