package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/quizpack/internal/models"
	cfgPkg "github.com/xhad/quizpack/pkg/config"
	"github.com/xhad/quizpack/pkg/packager"
	"github.com/xhad/quizpack/pkg/testsupport"
)

func writeConfig(t *testing.T, workDir string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  provider: mock\noutput:\n  lang: en\n  work_dir: " + workDir + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("DATABASE_URL", "")
	t.Setenv("QUIZPACK_LLM_PROVIDER", "")

	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGenerateDryRun(t *testing.T) {
	workDir := t.TempDir()
	input := testsupport.WorkbookFile(t, testsupport.Fractions(), []models.StudentRecord{
		{FullName: "Ali", AverageScore: 14, Notes: "struggles with word problems"},
		{FullName: "Sara", AverageScore: 18},
		{FullName: "ali", AverageScore: 11},
	})
	output := filepath.Join(t.TempDir(), "out.zip")

	out, err := execute(t, "generate", "--config", writeConfig(t, workDir),
		"--input", input, "--output", output, "--dry-run", "--temperature", "0.3")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	entries, err := packager.Extract(data)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Contains(t, entries, "Ali.html")
	assert.Contains(t, entries, "Sara.html")
	assert.Contains(t, entries, "ali (2).html")

	left, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, left)

	listing, err := execute(t, "inspect", output)
	require.NoError(t, err)
	assert.Contains(t, listing, "Ali.html")
	assert.Contains(t, listing, "3 pages")
}

func TestGenerateKeep(t *testing.T) {
	workDir := t.TempDir()
	input := testsupport.WorkbookFile(t, testsupport.Fractions(), []models.StudentRecord{{FullName: "Ali", AverageScore: 14}})
	output := filepath.Join(t.TempDir(), "out.zip")

	_, err := execute(t, "generate", "--config", writeConfig(t, workDir),
		"--input", input, "--output", output, "--dry-run", "--keep")
	require.NoError(t, err)

	runs, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	_, err = os.Stat(filepath.Join(workDir, runs[0].Name(), "Ali.html"))
	assert.NoError(t, err)
}

func TestGenerateErrors(t *testing.T) {
	workDir := t.TempDir()
	cfg := writeConfig(t, workDir)
	input := testsupport.WorkbookFile(t, testsupport.Fractions(), []models.StudentRecord{{FullName: "Ali", AverageScore: 14}})

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing input", args: []string{"generate", "--config", cfg, "--dry-run"}},
		{name: "unreadable input", args: []string{"generate", "--config", cfg, "--dry-run", "--input", filepath.Join(workDir, "missing.xlsx")}},
		{name: "temperature out of range", args: []string{"generate", "--config", cfg, "--dry-run", "--input", input, "--temperature", "1.2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestGenerateMissingToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	input := testsupport.WorkbookFile(t, testsupport.Fractions(), []models.StudentRecord{{FullName: "Ali", AverageScore: 14}})

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: openai\n"), 0o644))

	_, err := execute(t, "generate", "--config", path, "--input", input,
		"--output", filepath.Join(t.TempDir(), "out.zip"))
	assert.Error(t, err)
}

func TestInspectRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := execute(t, "inspect", path)
	assert.Error(t, err)
}

func TestGenerateMockProviderWithoutToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	input := testsupport.WorkbookFile(t, testsupport.Fractions(), []models.StudentRecord{{FullName: "Ali", AverageScore: 14}})
	output := filepath.Join(t.TempDir(), "out.zip")

	_, err := execute(t, "generate", "--config", writeConfig(t, t.TempDir()), "--input", input, "--output", output)
	require.NoError(t, err)
	assert.FileExists(t, output)
}

func TestCredentialOptional(t *testing.T) {
	tests := []struct {
		provider string
		dryRun   bool
		want     bool
	}{
		{provider: "openai", want: false},
		{provider: "openai", dryRun: true, want: true},
		{provider: "ollama", want: true},
		{provider: "mock", want: true},
	}

	for _, tt := range tests {
		cfg := &cfgPkg.Config{}
		cfg.LLM.Provider = tt.provider
		assert.Equal(t, tt.want, credentialOptional(cfg, tt.dryRun), "%s dry-run=%v", tt.provider, tt.dryRun)
	}
}
