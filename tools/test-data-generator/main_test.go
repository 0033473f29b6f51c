package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateStaysInDomainAndIsSeeded(t *testing.T) {
	config := getDefaultConfig(50)
	config.Records = 2000

	first, err := NewGenerator(config, logrus.New())
	require.NoError(t, err)
	values := first.Generate()
	require.Len(t, values, 2000)
	for _, v := range values {
		assert.True(t, v >= 0 && v < 50, "value %d", v)
	}

	second, err := NewGenerator(config, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, values, second.Generate())
}

func TestWriteHeader(t *testing.T) {
	config := getDefaultConfig(10)
	config.Records = 3
	config.Header = true

	generator, err := NewGenerator(config, logrus.New())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, generator.write(&buf, []int{1, 2, 9}))
	assert.Equal(t, []string{"value", "1", "2", "9"}, strings.Split(strings.TrimSpace(buf.String()), "\n"))
}

func TestNewGeneratorRejectsBadConfig(t *testing.T) {
	for _, config := range []*Config{
		{Records: -1, DomainSize: 10, Components: []Component{{Type: "uniform", Weight: 1}}},
		{Records: 1, DomainSize: 0, Components: []Component{{Type: "uniform", Weight: 1}}},
		{Records: 1, DomainSize: 10},
		{Records: 1, DomainSize: 10, Components: []Component{{Type: "uniform", Weight: 0}}},
		{Records: 1, DomainSize: 10, Components: []Component{{Type: "cauchy", Weight: 1}}},
	} {
		_, err := NewGenerator(config, logrus.New())
		assert.Error(t, err)
	}
}
