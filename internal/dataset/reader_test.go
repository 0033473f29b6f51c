package dataset

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/mwem/pkg/errors"
)

func TestReadNewlineSeparated(t *testing.T) {
	values, err := Read(strings.NewReader("10\n20\n\n# comment\n 20\n30\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 20, 30}, values)
}

func TestReadCSVColumn(t *testing.T) {
	input := "id,age,zip\n1,34,02139\n2,51,10001\n3,34,94110\n"

	values, err := Read(strings.NewReader(input), Options{Column: 1, Header: true})
	require.NoError(t, err)
	assert.Equal(t, []int{34, 51, 34}, values)

	zips, err := Read(strings.NewReader(input), Options{Column: 2, Header: true})
	require.NoError(t, err)
	assert.Equal(t, []int{2139, 10001, 94110}, zips)
}

func TestReadCustomDelimiter(t *testing.T) {
	values, err := Read(strings.NewReader("a;5\nb;7\n"), Options{Column: 1, Comma: ';'})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 7}, values)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader("1\nabc\n"), Options{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidFormat, errors.Code(err))
	assert.Contains(t, err.Error(), "line 2")

	_, err = Read(strings.NewReader("1,2\n3\n"), Options{Column: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = Read(strings.NewReader("1\n"), Options{Column: -1})
	assert.Error(t, err)
}

func TestReadEmptyInput(t *testing.T) {
	values, err := Read(strings.NewReader(""), Options{})
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestReadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/ages.csv", []byte("age\n40\n41\n"), 0o644))

	values, err := ReadFile(fs, "/data/ages.csv", Options{Header: true})
	require.NoError(t, err)
	assert.Equal(t, []int{40, 41}, values)

	_, err = ReadFile(fs, "/data/missing.csv", Options{})
	assert.Equal(t, errors.CodeInvalidInput, errors.Code(err))
}
