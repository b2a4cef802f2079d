package stops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `stop_id,stop_code,stop_name,tts_stop_name,stop_desc,stop_lat,stop_lon
2,2,A Ave & Chandler,,Eastbound stop in Lake Oswego,45.420595,-122.675676
3,3,A Ave & Second St,,Eastbound stop,45.419386,-122.665341
abc,4,Broken Row,,,45.0,-122.0
6,6,"Lincoln ""Street"" & 8th",,,45.5,-122.6
7,7
8,8,  Padded Name  ,,,45.5,-122.6
`

func TestParse_SkipsHeaderAndMalformedRows(t *testing.T) {
	table, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, 4, table.Len())
	assert.Equal(t, 3, table.Skipped()) // header, non-numeric id, short row

	name, ok := table.Name(2)
	require.True(t, ok)
	assert.Equal(t, "A Ave & Chandler", name)

	name, ok = table.Name(6)
	require.True(t, ok)
	assert.Equal(t, `Lincoln "Street" & 8th`, name)

	name, ok = table.Name(8)
	require.True(t, ok)
	assert.Equal(t, "Padded Name", name)

	_, ok = table.Name(4)
	assert.False(t, ok)
}

func TestParse_FirstDuplicateWins(t *testing.T) {
	table, err := Parse(strings.NewReader("10,x,First\n10,y,Second\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	name, _ := table.Name(10)
	assert.Equal(t, "First", name)
}

func TestParse_ByteOrderMark(t *testing.T) {
	table, err := Parse(strings.NewReader("\ufeff12,12,Main St\n"))
	require.NoError(t, err)

	name, ok := table.Name(12)
	require.True(t, ok)
	assert.Equal(t, "Main St", name)
}

func TestParse_Empty(t *testing.T) {
	table, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, table.Len())
}

func TestNameOf(t *testing.T) {
	table, err := Parse(strings.NewReader("2,2,A Ave & Chandler\n"))
	require.NoError(t, err)

	name, ok := table.NameOf("2")
	require.True(t, ok)
	assert.Equal(t, "A Ave & Chandler", name)

	_, ok = table.NameOf("")
	assert.False(t, ok)
	_, ok = table.NameOf("two")
	assert.False(t, ok)
}

func TestNilTable(t *testing.T) {
	var table *Table
	_, ok := table.Name(1)
	assert.False(t, ok)
	assert.Zero(t, table.Len())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stops.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	table, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
