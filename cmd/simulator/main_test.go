package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSynthetic(t *testing.T) {
	var out bytes.Buffer
	// A long training window keeps the held-out stretch short.
	err := run([]string{"-synthetic", "-strategies", "mean", "-score-days", "55"}, &out)
	require.NoError(t, err)

	report := out.String()
	assert.Contains(t, report, "Synthetic Ridge")
	assert.Contains(t, report, "mean")
	assert.Contains(t, report, "held-out days: 5")
}

func TestRunWithoutDataset(t *testing.T) {
	var out bytes.Buffer
	err := run(nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")
}

func TestRunMissingDatasetDir(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{t.TempDir() + "/does-not-exist"}, &out)
	require.Error(t, err)
}

func TestSplitStrategies(t *testing.T) {
	assert.Nil(t, splitStrategies(""))
	assert.Equal(t, []string{"mean"}, splitStrategies("mean"))
	assert.Equal(t, []string{"weighted_average", "mean"}, splitStrategies(" weighted_average , mean ,"))
}
