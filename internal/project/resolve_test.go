package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBasenameFallback(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "my-service")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	res := NewResolver().Resolve(dir, "")
	if res.ProjectID != "my-service" {
		t.Errorf("expected basename id, got %q", res.ProjectID)
	}
	if res.DetectionMethod != "basename" {
		t.Errorf("expected basename method, got %q", res.DetectionMethod)
	}
}

func TestGitRootDetection(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "repo-name")
	nested := filepath.Join(repo, "internal", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := NewResolver().Resolve(nested, "")
	if res.ProjectID != "repo-name" {
		t.Errorf("expected git root name, got %q", res.ProjectID)
	}
	if res.DetectionMethod != "git" {
		t.Errorf("expected git method, got %q", res.DetectionMethod)
	}
}

func TestGitFileCountsAsRepo(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "worktree")
	if err := os.Mkdir(repo, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, ".git"), []byte("gitdir: elsewhere"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewResolver().Resolve(repo, "")
	if res.ProjectID != "worktree" || res.DetectionMethod != "git" {
		t.Errorf("unexpected resolution: %+v", res)
	}
}

func TestEnvOverridesDetection(t *testing.T) {
	t.Setenv("MNEMO_PROJECT_ID", "forced-id")

	res := NewResolver().Resolve(t.TempDir(), "")
	if res.ProjectID != "forced-id" {
		t.Errorf("expected env id, got %q", res.ProjectID)
	}
	if res.DetectionMethod != "env" {
		t.Errorf("expected env method, got %q", res.DetectionMethod)
	}
}

func TestExplicitWinsAndFlagsMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "detected-name")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	res := NewResolver().Resolve(dir, "other-name")
	if res.ProjectID != "other-name" {
		t.Errorf("explicit id must win, got %q", res.ProjectID)
	}
	if !res.ExplicitMismatch {
		t.Error("mismatch not flagged")
	}
	if res.DetectionMethod != "explicit" {
		t.Errorf("expected explicit method, got %q", res.DetectionMethod)
	}
}

func TestExplicitAgreementIsNotAMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "same-name")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	res := NewResolver().Resolve(dir, "same-name")
	if res.ExplicitMismatch {
		t.Error("agreement flagged as mismatch")
	}
}

func TestNormalizedRootIsAbsolute(t *testing.T) {
	res := NewResolver().Resolve(".", "")
	if !filepath.IsAbs(res.NormalizedRoot) {
		t.Errorf("root not normalized: %q", res.NormalizedRoot)
	}
}
