package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveOutDir(t *testing.T) {
	t.Run("explicit output wins", func(t *testing.T) {
		want := filepath.Join(t.TempDir(), "nested", "sweep")

		got, defaulted, err := resolveOutDir(want)
		if err != nil {
			t.Fatalf("resolveOutDir returned error: %v", err)
		}
		if defaulted {
			t.Fatalf("expected explicit output to not be defaulted")
		}
		if got != want {
			t.Fatalf("unexpected output path: got %q want %q", got, want)
		}
		if _, err := os.Stat(got); err != nil {
			t.Fatalf("expected output directory to exist: %v", err)
		}
	})

	t.Run("env output dir overrides default", func(t *testing.T) {
		envDir := filepath.Join(t.TempDir(), "sweep-out")
		t.Setenv(envOutDir, envDir)

		got, defaulted, err := resolveOutDir("")
		if err != nil {
			t.Fatalf("resolveOutDir returned error: %v", err)
		}
		if !defaulted {
			t.Fatalf("expected output to be defaulted")
		}
		if got != envDir {
			t.Fatalf("unexpected output path: got %q want %q", got, envDir)
		}
	})
}

func TestResolveDatabasePath(t *testing.T) {
	t.Run("flag wins over env", func(t *testing.T) {
		t.Setenv(envDatabase, filepath.Join(t.TempDir(), "env.db"))
		want := filepath.Join(t.TempDir(), "sub", "runs.db")

		got, err := resolveDatabasePath(want)
		if err != nil {
			t.Fatalf("resolveDatabasePath returned error: %v", err)
		}
		if got != want {
			t.Fatalf("unexpected path: got %q want %q", got, want)
		}
		if _, err := os.Stat(filepath.Dir(got)); err != nil {
			t.Fatalf("expected parent directory to exist: %v", err)
		}
	})

	t.Run("env fallback", func(t *testing.T) {
		want := filepath.Join(t.TempDir(), "env.db")
		t.Setenv(envDatabase, want)

		got, err := resolveDatabasePath("")
		if err != nil {
			t.Fatalf("resolveDatabasePath returned error: %v", err)
		}
		if got != want {
			t.Fatalf("unexpected path: got %q want %q", got, want)
		}
	})
}

func TestResolveModelDir(t *testing.T) {
	writeCheckpointDir := func(t *testing.T, root, name string) string {
		t.Helper()
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		return dir
	}

	t.Run("explicit model wins", func(t *testing.T) {
		want := t.TempDir()
		got, err := resolveModelDir(want, "")
		if err != nil {
			t.Fatalf("resolveModelDir returned error: %v", err)
		}
		if got != want {
			t.Fatalf("unexpected path: got %q want %q", got, want)
		}
	})

	t.Run("single checkpoint discovered", func(t *testing.T) {
		root := t.TempDir()
		want := writeCheckpointDir(t, root, "llama-2-7b")
		if err := os.MkdirAll(filepath.Join(root, "not-a-checkpoint"), 0o755); err != nil {
			t.Fatal(err)
		}

		got, err := resolveModelDir("", root)
		if err != nil {
			t.Fatalf("resolveModelDir returned error: %v", err)
		}
		if got != want {
			t.Fatalf("unexpected path: got %q want %q", got, want)
		}
	})

	t.Run("multiple checkpoints require --model", func(t *testing.T) {
		root := t.TempDir()
		writeCheckpointDir(t, root, "a")
		writeCheckpointDir(t, root, "b")

		if _, err := resolveModelDir("", root); err == nil {
			t.Fatal("expected error for ambiguous models directory")
		}
	})

	t.Run("nothing set", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		if _, err := resolveModelDir("", ""); err == nil {
			t.Fatal("expected error when no model source is configured")
		}
	})
}
