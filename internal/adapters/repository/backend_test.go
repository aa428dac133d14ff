package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestEscapeKey(t *testing.T) {
	cases := map[string]string{
		"acme":           "issuer-acme",
		"ACME GmbH":      "issuer-ACME%20GmbH",
		"a/b":            "issuer-a%2Fb",
		"de:DE123456789": "issuer-de:DE123456789",
	}
	for in, want := range cases {
		if got := escapeKey(in); got != want {
			t.Errorf("escapeKey(%q) = %q, want %q", in, got, want)
		}
	}
	if escapeKey("a/b") == escapeKey("a%2Fb") {
		t.Error("distinct keys must not collide")
	}
}

func TestMemoryBackendVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	if _, v, found, err := m.GetVersion(ctx, "k"); err != nil || found || v != 0 {
		t.Fatalf("absent key: v=%d found=%v err=%v", v, found, err)
	}
	if err := m.SetIfVersion(ctx, "k", []byte("a"), 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for wrong version on absent key, got %v", err)
	}
	if err := m.SetIfVersion(ctx, "k", []byte("a"), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.SetIfVersion(ctx, "k", []byte("b"), 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on second create, got %v", err)
	}
	if err := m.Set(ctx, "k", []byte("c")); err != nil {
		t.Fatalf("set: %v", err)
	}
	blob, v, found, err := m.GetVersion(ctx, "k")
	if err != nil || !found || v != 2 || string(blob) != "c" {
		t.Fatalf("after set: blob=%q v=%d found=%v err=%v", blob, v, found, err)
	}

	blob[0] = 'x'
	again, _, _ := m.Get(ctx, "k")
	if string(again) != "c" {
		t.Fatal("stored blob aliased by caller")
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}
}

func TestMemoryBackendCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemoryBackend()
	if err := m.Set(ctx, "k", []byte("a")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatal("cancelled write must not store anything")
	}
}

func TestKeyLock(t *testing.T) {
	l := newKeyLock(1)
	unlock, err := l.lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.lock(ctx, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while stripe is held, got %v", err)
	}

	unlock()
	unlock2, err := l.lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock2()

	if got := len(newKeyLock(0).stripes); got != 1 {
		t.Fatalf("zero stripes should fall back to 1, got %d", got)
	}
}

func TestMapGCSError(t *testing.T) {
	if err := mapGCSError(&googleapi.Error{Code: http.StatusPreconditionFailed}); !errors.Is(err, ErrConflict) {
		t.Fatalf("412 should map to ErrConflict, got %v", err)
	}
	wrapped := fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})
	if err := mapGCSError(wrapped); !errors.Is(err, ErrConflict) {
		t.Fatalf("wrapped 412 should map to ErrConflict, got %v", err)
	}
	other := &googleapi.Error{Code: http.StatusForbidden}
	if err := mapGCSError(other); err != other {
		t.Fatalf("403 should pass through, got %v", err)
	}
	if mapGCSError(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestMapFirestoreError(t *testing.T) {
	for _, c := range []codes.Code{codes.AlreadyExists, codes.FailedPrecondition, codes.NotFound} {
		if err := mapFirestoreError(status.Error(c, "precondition")); !errors.Is(err, ErrConflict) {
			t.Fatalf("%s should map to ErrConflict, got %v", c, err)
		}
	}
	other := status.Error(codes.PermissionDenied, "denied")
	if err := mapFirestoreError(other); err != other {
		t.Fatalf("PermissionDenied should pass through, got %v", err)
	}
	if mapFirestoreError(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestGCSObjectName(t *testing.T) {
	b := NewGCSBackend(nil, "bucket", "templates/")
	if got := b.objectName("ACME GmbH"); got != "templates/issuer-ACME%20GmbH.json" {
		t.Fatalf("objectName = %q", got)
	}
}

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=localhost user=fieldmemo dbname=fieldmemo sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	return db
}

func TestPostgresQueries(t *testing.T) {
	db := dryRunDB(t)

	upsert := db.ToSQL(func(tx *gorm.DB) *gorm.DB { return upsertQuery(tx, "acme", []byte(`{"regions":[]}`)) })
	for _, want := range []string{`INSERT INTO "issuer_templates"`, `ON CONFLICT ("issuer_key") DO UPDATE`, `issuer_templates.version + 1`} {
		if !strings.Contains(upsert, want) {
			t.Errorf("upsert SQL %q missing %q", upsert, want)
		}
	}

	insert := db.ToSQL(func(tx *gorm.DB) *gorm.DB { return insertQuery(tx, "acme", []byte(`{}`)) })
	if !strings.Contains(insert, "ON CONFLICT DO NOTHING") {
		t.Errorf("insert SQL %q should not overwrite existing rows", insert)
	}

	update := db.ToSQL(func(tx *gorm.DB) *gorm.DB { return updateQuery(tx, "acme", []byte(`{}`), 3) })
	for _, want := range []string{`UPDATE "issuer_templates"`, `issuer_key = 'acme' AND version = 3`, `"version"=4`} {
		if !strings.Contains(update, want) {
			t.Errorf("update SQL %q missing %q", update, want)
		}
	}
}
