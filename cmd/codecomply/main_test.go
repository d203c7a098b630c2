package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codecomply/config"
	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/export"
)

const testRequirements = `
source: Test Code
requirements:
  - clause_id: "1.1"
    subject: corridor width
    operator: MIN
    thresholds: [{value: 1100, unit: mm}]
  - clause_id: "1.2"
    subject: guard height
    operator: MIN
    thresholds: [{value: 42, unit: in}]
`

// execute runs the root command with an isolated home directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func writeInputs(t *testing.T, corridor float64) (string, string) {
	t.Helper()
	dir := t.TempDir()
	reqs := filepath.Join(dir, "code.yaml")
	require.NoError(t, os.WriteFile(reqs, []byte(testRequirements), 0644))

	drawing := filepath.Join(dir, "level-1.json")
	doc := map[string]any{
		"units": "mm",
		"measurements": []map[string]any{
			{"subject": "corridor width", "value": corridor, "layer": "A-CORR"},
			{"subject": "guard height", "value": 1100, "layer": "A-GUARD"},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(drawing, data, 0644))
	return reqs, drawing
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "codecomply version "+Version)
}

func TestUnits(t *testing.T) {
	out, err := execute(t, "units")
	require.NoError(t, err)
	assert.Contains(t, out, "UNIT")
	assert.Regexp(t, `(?m)^ft\s+length\s+mm\s+304\.8\s+foot, feet`, out)
}

func TestCheck_JSON(t *testing.T) {
	reqs, drawing := writeInputs(t, 1200)

	out, err := execute(t, "check", "-r", reqs, "-d", drawing, "--format", "json")
	require.NoError(t, err)

	var doc export.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "level-1", doc.Drawing)
	assert.NotEmpty(t, doc.RunID)
	// 1100 mm is just under 42 in (1066.8 mm), so the guard passes too.
	assert.Equal(t, engine.StatusPass, doc.Report.Summary.Overall)
	assert.Equal(t, 2, doc.Report.Summary.Pass)
	assert.Len(t, doc.Inputs, 2)
}

func TestCheck_FailOnFail(t *testing.T) {
	reqs, drawing := writeInputs(t, 1000)

	out, err := execute(t, "check", "-r", reqs, "-d", drawing)
	require.NoError(t, err, "failing drawings only change the exit code with --fail-on-fail")
	assert.Contains(t, out, "Overall Status: FAIL")

	_, err = execute(t, "check", "-r", reqs, "-d", drawing, "--fail-on-fail")
	var ee *exitError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Equal(t, exitCodeFail, ee.code)
}

func TestCheck_OutputDir(t *testing.T) {
	reqs, drawing := writeInputs(t, 1200)
	second := filepath.Join(filepath.Dir(drawing), "level-2.json")
	data, err := os.ReadFile(drawing)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(second, data, 0644))

	dir := filepath.Join(t.TempDir(), "reports")
	glob := filepath.Join(filepath.Dir(drawing), "level-*.json")
	out, err := execute(t, "check", "-r", reqs, "-d", glob, "--format", "markdown", "--output-dir", dir)
	require.NoError(t, err)
	assert.Empty(t, out)

	for _, name := range []string{"level-1-report.md", "level-2-report.md"} {
		content, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(content), "**Overall: PASS**")
	}
}

func TestCheck_ConfigInputs(t *testing.T) {
	reqs, drawing := writeInputs(t, 1200)
	cfg := config.DefaultConfig()
	cfg.Inputs.Requirements = []string{reqs}
	cfg.Inputs.Drawings = []string{drawing}
	cfg.Output.Format = "yaml"
	path := filepath.Join(t.TempDir(), "codecomply.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	out, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "overall: PASS")
}

func TestCheck_Errors(t *testing.T) {
	reqs, drawing := writeInputs(t, 1200)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no requirements", []string{"check", "-d", drawing}, "no requirements documents"},
		{"no drawings", []string{"check", "-r", reqs}, "no drawing documents"},
		{"bad format", []string{"check", "-r", reqs, "-d", drawing, "--format", "pdf"}, "invalid configuration"},
		{"missing drawing", []string{"check", "-r", reqs, "-d", drawing + ".missing"}, "drawings"},
		{"glob without match", []string{"check", "-r", reqs, "-d", filepath.Join(t.TempDir(), "*.json")}, "drawings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestConfigInit(t *testing.T) {
	home := t.TempDir()
	var out bytes.Buffer
	cmd := rootCmd()
	t.Setenv("HOME", home)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init"})
	require.NoError(t, cmd.Execute())

	want := filepath.Join(home, config.UserConfigDir, config.UserConfigFile)
	assert.Equal(t, want+"\n", out.String())
	_, err := config.LoadFromFile(want)
	assert.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "format: text")
	assert.Contains(t, out, "subject: codecomply.reports")
}

func TestHistory_NeedsNATS(t *testing.T) {
	_, err := execute(t, "history")
	assert.ErrorContains(t, err, "history needs a NATS server")
}
