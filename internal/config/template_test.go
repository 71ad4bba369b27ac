package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestTemplateExclusions(t *testing.T) {
	dir := t.TempDir()

	got, err := TemplateExclusions(dir)
	if err != nil || got != nil {
		t.Fatalf("expected no exclusions without a config, got %v, %v", got, err)
	}

	content := `ignoredFiles: ["examples/**"]
templateIgnoredFiles: ["demo.md"]
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err = TemplateExclusions(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"examples/**", "demo.md"}; !reflect.DeepEqual(got, want) {
		t.Errorf("TemplateExclusions() = %v, want %v", got, want)
	}
}

func TestTemplateExclusions_Ownership(t *testing.T) {
	dir := t.TempDir()
	content := "templatePaths: [\"**\"]\nignoredFiles: [\".github/**\"]\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := TemplateExclusions(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{".github/**"}; !reflect.DeepEqual(got, want) {
		t.Errorf("TemplateExclusions() = %v, want %v", got, want)
	}
}

func TestTemplateExclusions_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("ignoredFiles: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := TemplateExclusions(dir); err == nil {
		t.Fatal("expected error for invalid template config")
	}
}
