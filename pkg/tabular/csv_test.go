package tabular

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phimask/phimask/pkg/records"
)

func TestRead(t *testing.T) {
	in := "MRN,First Name,Notes\nM001,Maria,\"likes tea, not coffee\"\nM002,,\n"

	rs, err := Read(strings.NewReader(in), "sf")
	require.NoError(t, err)

	assert.Equal(t, "sf", rs.Name)
	assert.Equal(t, []string{"MRN", "First Name", "Notes"}, rs.Columns)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, "likes tea, not coffee", rs.Rows[0].Get("Notes").String())
	assert.True(t, rs.Rows[1].Get("First Name").IsNull())
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty file", in: ""},
		{name: "ragged row", in: "a,b\n1\n"},
		{name: "unterminated quote", in: "a\n\"open\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in), "x")
			require.Error(t, err)
		})
	}

	_, err := Read(strings.NewReader(""), "x")
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestWrite_NoIndexColumn(t *testing.T) {
	rs := records.New("out", []string{"mrn", "first_name"})
	require.NoError(t, rs.Append(records.String("M001"), records.String("Ann")))
	require.NoError(t, rs.Append(records.String("M002"), records.Null()))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rs))
	assert.Equal(t, "mrn,first_name\nM001,Ann\nM002,\n", buf.String())
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "patients_mock.csv")

	rs := records.New("patients", []string{"mrn", "address"})
	require.NoError(t, rs.Append(records.String("M001"), records.String("1 Main St, Springfield, IL 62701")))

	require.NoError(t, Save(path, rs))

	got, err := Load(path, "patients")
	require.NoError(t, err)
	assert.Equal(t, rs.Columns, got.Columns)
	assert.Equal(t, "1 Main St, Springfield, IL 62701", got.Rows[0].Get("address").String())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"), "x")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
