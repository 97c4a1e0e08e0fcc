package vault

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"tasksnap/internal/tasksnap"
)

// runVaultContract exercises the behavior every Vault implementation shares.
func runVaultContract(t *testing.T, newVault func(t *testing.T) tasksnap.Vault) {
	t.Run("put and get", func(t *testing.T) {
		tests := []struct {
			name    string
			key     string
			content string
		}{
			{"artifact", "snapshots/20240115T103000.000Z.json", `{"tasks":[]}`},
			{"empty", "snapshots/empty.json", ""},
			{"large", "snapshots/large.json", strings.Repeat("x", 10000)},
		}
		v := newVault(t)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := v.Put(tt.key, strings.NewReader(tt.content), int64(len(tt.content))); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				var buf bytes.Buffer
				if err := v.Get(tt.key, &buf); err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if buf.String() != tt.content {
					t.Errorf("Get() = %q, want %q", buf.String(), tt.content)
				}
			})
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		v := newVault(t)
		mustPut(t, v, "snapshots/a.json", "first")
		mustPut(t, v, "snapshots/a.json", "second")

		var buf bytes.Buffer
		if err := v.Get("snapshots/a.json", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "second" {
			t.Errorf("Get() = %q, want %q", buf.String(), "second")
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		v := newVault(t)
		if err := v.Put("snapshots/bad.json", strings.NewReader("hello"), 100); err == nil {
			t.Error("Put() with wrong size should fail")
		}
		if err := v.Get("snapshots/bad.json", &bytes.Buffer{}); !errors.Is(err, tasksnap.ErrObjectNotFound) {
			t.Errorf("object stored despite size mismatch: Get() error = %v", err)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		v := newVault(t)
		for _, key := range []string{"", "/abs/path", "../escape", "a//b", "snapshots/./x"} {
			if err := v.Put(key, strings.NewReader("x"), 1); err == nil {
				t.Errorf("Put(%q) should fail", key)
			}
		}
	})

	t.Run("get missing", func(t *testing.T) {
		v := newVault(t)
		err := v.Get("snapshots/missing.json", &bytes.Buffer{})
		if !errors.Is(err, tasksnap.ErrObjectNotFound) {
			t.Errorf("Get() error = %v, want ErrObjectNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		v := newVault(t)
		mustPut(t, v, "snapshots/a.json", "data")

		if err := v.Delete("snapshots/a.json"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := v.Get("snapshots/a.json", &bytes.Buffer{}); !errors.Is(err, tasksnap.ErrObjectNotFound) {
			t.Errorf("Get() after Delete() error = %v, want ErrObjectNotFound", err)
		}
		if err := v.Delete("snapshots/a.json"); !errors.Is(err, tasksnap.ErrObjectNotFound) {
			t.Errorf("second Delete() error = %v, want ErrObjectNotFound", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		v := newVault(t)
		mustPut(t, v, "snapshots/b.json", "b")
		mustPut(t, v, "snapshots/a.json", "a")
		mustPut(t, v, "snapshots/a.meta.json", "am")
		mustPut(t, v, "other/c.json", "c")

		got, err := v.List("snapshots/")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{"snapshots/a.json", "snapshots/a.meta.json", "snapshots/b.json"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("List() = %v, want %v", got, want)
		}

		none, err := v.List("nothing/")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(none) != 0 {
			t.Errorf("List(nothing/) = %v, want empty", none)
		}
	})

	t.Run("metadata", func(t *testing.T) {
		v := newVault(t)

		version, err := v.GetMetadataVersion("host-1", "db")
		if err != nil {
			t.Fatalf("GetMetadataVersion() error = %v", err)
		}
		if version != 0 {
			t.Errorf("GetMetadataVersion() before put = %d, want 0", version)
		}
		if err := v.GetMetadata("host-1", "db", &bytes.Buffer{}); !errors.Is(err, tasksnap.ErrObjectNotFound) {
			t.Errorf("GetMetadata() missing error = %v, want ErrObjectNotFound", err)
		}

		data := "sqlite bytes"
		if err := v.PutMetadata("host-1", "db", strings.NewReader(data), int64(len(data)), 7); err != nil {
			t.Fatalf("PutMetadata() error = %v", err)
		}
		if err := v.PutMetadata("host-2", "db", strings.NewReader("other"), 5, 3); err != nil {
			t.Fatalf("PutMetadata() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.GetMetadata("host-1", "db", &buf); err != nil {
			t.Fatalf("GetMetadata() error = %v", err)
		}
		if buf.String() != data {
			t.Errorf("GetMetadata() = %q, want %q", buf.String(), data)
		}
		if version, _ := v.GetMetadataVersion("host-1", "db"); version != 7 {
			t.Errorf("GetMetadataVersion(host-1) = %d, want 7", version)
		}
		if version, _ := v.GetMetadataVersion("host-2", "db"); version != 3 {
			t.Errorf("GetMetadataVersion(host-2) = %d, want 3", version)
		}

		// Metadata never shows up as an object.
		keys, err := v.List("")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(keys) != 0 {
			t.Errorf("List(\"\") = %v, want no objects", keys)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := newVault(t).ValidateSetup(); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

func mustPut(t *testing.T, v tasksnap.Vault, key, content string) {
	t.Helper()
	if err := v.Put(key, strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put(%q) error = %v", key, err)
	}
}
