package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/mwem/cmd/cli/commands"
	"github.com/inferloop/mwem/internal/workload"
	"github.com/inferloop/mwem/pkg/models"
)

func newTestGlobals(t *testing.T) (*commands.Globals, *bytes.Buffer) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "ages.csv", []byte("age\n10\n20\n20\n30\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "workload.json", []byte("[[0,15],[15,25],[25,35]]"), 0o644))

	out := &bytes.Buffer{}
	return &commands.Globals{Fs: fs, Out: out}, out
}

func execute(t *testing.T, globals *commands.Globals, args ...string) error {
	t.Helper()
	cmd := newRootCmd(globals)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.Execute()
}

func TestWorkloadCommand(t *testing.T) {
	globals, out := newTestGlobals(t)

	require.NoError(t, execute(t, globals, "workload", "--domain-size", "50", "--count", "20", "--seed", "3"))
	queries, err := workload.Decode(strings.NewReader(out.String()))
	require.NoError(t, err)
	require.Len(t, queries, 20)
	for _, q := range queries {
		assert.True(t, q.Lower >= 0 && q.Lower <= q.Upper && q.Upper <= 50, "query %s", q)
	}

	first := out.String()
	out.Reset()
	require.NoError(t, execute(t, globals, "workload", "--domain-size", "50", "--count", "20", "--seed", "3"))
	assert.Equal(t, first, out.String())

	require.NoError(t, execute(t, globals, "workload", "--domain-size", "4", "--prefixes", "--output", "prefixes.json"))
	prefixes, err := workload.LoadFile(globals.Fs, "prefixes.json")
	require.NoError(t, err)
	assert.Equal(t, []models.Query{{Lower: 0, Upper: 1}, {Lower: 0, Upper: 2}, {Lower: 0, Upper: 3}, {Lower: 0, Upper: 4}}, prefixes)

	assert.Error(t, execute(t, globals, "workload", "--domain-size", "0"))
}

func TestReleaseAnswerSampleCommands(t *testing.T) {
	globals, out := newTestGlobals(t)

	require.NoError(t, execute(t, globals, "release",
		"--data", "ages.csv", "--header",
		"--domain-size", "40",
		"--workload", "workload.json",
		"--epsilon", "1", "--iterations", "3",
		"--name", "ages", "--label", "team=census",
		"--output", "release.json"))
	assert.Empty(t, out.String())

	data, err := afero.ReadFile(globals.Fs, "release.json")
	require.NoError(t, err)
	var release models.Release
	require.NoError(t, json.Unmarshal(data, &release))
	assert.Equal(t, "ages", release.Name)
	assert.Equal(t, 4, release.RecordCount)
	assert.Equal(t, 3, release.Iterations)
	assert.Len(t, release.Trace, 3)
	assert.Equal(t, map[string]string{"team": "census"}, release.Labels)

	require.NoError(t, execute(t, globals, "answer", "--release", "release.json", "--lower", "0", "--upper", "40"))
	var answer struct {
		ReleaseID string  `json:"release_id"`
		Answer    float64 `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &answer))
	assert.Equal(t, release.ID, answer.ReleaseID)
	assert.InDelta(t, 4.0, answer.Answer, 1e-9)

	out.Reset()
	require.NoError(t, execute(t, globals, "sample", "--release", "release.json", "--count", "5", "--seed", "7"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "value", lines[0])

	first := out.String()
	out.Reset()
	require.NoError(t, execute(t, globals, "sample", "--release", "release.json", "--count", "5", "--seed", "7"))
	assert.Equal(t, first, out.String())

	out.Reset()
	require.NoError(t, execute(t, globals, "sample", "--release", "release.json", "--count", "4", "--format", "json"))
	var records []int
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	assert.Len(t, records, 4)
}

func TestCommandErrors(t *testing.T) {
	globals, _ := newTestGlobals(t)

	assert.Error(t, execute(t, globals, "release", "--data", "missing.csv", "--domain-size", "40", "--workload", "workload.json"))
	assert.Error(t, execute(t, globals, "release", "--data", "ages.csv", "--header", "--domain-size", "40",
		"--workload", "workload.json", "--epsilon", "-1"))
	assert.Error(t, execute(t, globals, "release", "--data", "ages.csv", "--header", "--domain-size", "40",
		"--workload", "workload.json", "--label", "nokey"))
	assert.Error(t, execute(t, globals, "answer", "--lower", "0", "--upper", "1"))
	assert.Error(t, execute(t, globals, "answer", "--release", "missing.json", "--lower", "0", "--upper", "1"))
	assert.Error(t, execute(t, globals, "sample", "--release", "release.json", "--format", "xml"))
	assert.Error(t, execute(t, globals, "sample", "--release", "release.json", "--count", "-1"))
}

func TestEvaluateCommand(t *testing.T) {
	globals, out := newTestGlobals(t)

	require.NoError(t, execute(t, globals, "release",
		"--data", "ages.csv", "--header",
		"--domain-size", "40",
		"--workload", "workload.json",
		"--epsilon", "2", "--iterations", "2",
		"--output", "release.json"))

	require.NoError(t, execute(t, globals, "evaluate", "--release", "release.json", "--data", "ages.csv", "--header", "--per-query"))
	var report struct {
		Queries     int     `json:"queries"`
		RecordCount int     `json:"record_count"`
		MaxAbsError float64 `json:"max_abs_error"`
		Passed      bool    `json:"passed"`
		PerQuery    []struct {
			True float64 `json:"true"`
		} `json:"per_query"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 3, report.Queries)
	assert.Equal(t, 4, report.RecordCount)
	assert.True(t, report.Passed)
	require.Len(t, report.PerQuery, 3)
	assert.Equal(t, 2.0, report.PerQuery[1].True)

	assert.Error(t, execute(t, globals, "evaluate", "--release", "release.json", "--data", "ages.csv", "--header", "--max-error", "0.0000001"))
}
