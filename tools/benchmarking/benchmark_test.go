package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSmallCase(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	config := &BenchmarkConfig{
		Name:        "test",
		Repetitions: 2,
		Seed:        3,
		Cases:       []CaseConfig{{Name: "tiny", DomainSize: 16, Records: 50, WorkloadSize: 10, Iterations: 3, Epsilon: 1, Workers: 2}},
	}

	result, err := NewBenchmark(config, logger).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Cases, 1)
	assert.Equal(t, 2, result.Cases[0].Runs)
	assert.GreaterOrEqual(t, result.Cases[0].MeanMaxError, result.Cases[0].MeanAbsError)

	config.Repetitions = 0
	_, err = NewBenchmark(config, logger).Run(context.Background())
	assert.Error(t, err)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: nightly
repetitions: 3
cases:
  - name: prefixes
    domain_size: 128
    records: 500
    workload_size: 40
    iterations: 8
    epsilon: 0.5
`), 0o644))

	config, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", config.Name)
	assert.Equal(t, 3, config.Repetitions)
	require.Len(t, config.Cases, 1)
	assert.Equal(t, 128, config.Cases[0].DomainSize)
	assert.Equal(t, 0.5, config.Cases[0].Epsilon)
	assert.Equal(t, "table", config.Report.Format)
}

func TestTableReport(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.txt")
	err := writeReport(&BenchmarkResult{Name: "r", Cases: []CaseResult{{Name: "tiny", Runs: 1}}}, ReportConfig{Format: "table", OutputFile: out})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("tiny")))
}
