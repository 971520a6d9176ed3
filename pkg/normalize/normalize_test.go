package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phimask/phimask/pkg/records"
)

func testAliases() map[string][]string {
	return map[string][]string{
		"mrn":        {"Patient_ID__c", "patient id", "MRN"},
		"first_name": {"First_Name__c", "given name", "Prénom"},
		"last_name":  {"Last_Name__c", "surname"},
		"dob":        {"DOB__c", "date of birth", "patient_date_of_birth_date_time"},
	}
}

func newTable(t *testing.T) *AliasTable {
	t.Helper()
	table, err := NewAliasTable(testAliases())
	require.NoError(t, err)
	return table
}

func TestKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"First_Name__c", "firstnamec"},
		{"first name", "firstname"},
		{"DOB", "dob"},
		{"Prénom", "prenom"},
		{"Date-of-Birth (UTC)", "dateofbirthutc"},
		{"__", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.input))
		})
	}
}

func TestNewAliasTable_Ambiguous(t *testing.T) {
	_, err := NewAliasTable(map[string][]string{
		"first_name": {"name"},
		"last_name":  {"NAME"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousAlias)

	var aliasErr *AliasError
	require.ErrorAs(t, err, &aliasErr)
	assert.Equal(t, "last_name", aliasErr.Canonical)
	assert.Equal(t, "first_name", aliasErr.Other)
}

func TestNewAliasTable_CanonicalCollidesWithAlias(t *testing.T) {
	_, err := NewAliasTable(map[string][]string{
		"dob":      {"birth_date"},
		"birthday": {"DOB"},
	})
	require.ErrorIs(t, err, ErrAmbiguousAlias)
}

func TestNewAliasTable_EmptyAlias(t *testing.T) {
	_, err := NewAliasTable(map[string][]string{"mrn": {"--"}})
	require.ErrorIs(t, err, ErrEmptyAlias)
}

func TestNewAliasTable_DuplicateWithinCanonicalIsFine(t *testing.T) {
	table, err := NewAliasTable(map[string][]string{"mrn": {"MRN", "m.r.n.", "mrn"}})
	require.NoError(t, err)
	c, ok := table.Resolve("M-R-N")
	assert.True(t, ok)
	assert.Equal(t, "mrn", c)
}

func TestNormalize(t *testing.T) {
	rs := records.New("salesforce", []string{"Id", "Patient_ID__c", "First_Name__c", "Last_Name__c", "Gender__c"})
	require.NoError(t, rs.Append(
		records.String("a01"), records.String("M001"), records.String("Maria"), records.String("Lopez"), records.String("F"),
	))

	out, report := Normalize(rs, newTable(t))

	assert.Equal(t, []string{"mrn", "first_name", "last_name"}, out.Columns)
	assert.Equal(t, "M001", out.Rows[0].Get("mrn").String())
	assert.Equal(t, "Maria", out.Rows[0].Get("first_name").String())
	assert.Equal(t, []string{"Id", "Gender__c"}, report.Dropped)
	assert.Equal(t, []string{"dob"}, report.Missing)
	assert.Equal(t, "mrn", report.Renamed["Patient_ID__c"])

	// Input untouched
	assert.Equal(t, "Patient_ID__c", rs.Columns[1])
	_, ok := rs.Rows[0]["mrn"]
	assert.False(t, ok)
}

func TestNormalize_Collision(t *testing.T) {
	rs := records.New("mysql", []string{"patient id", "MRN"})
	require.NoError(t, rs.Append(records.String("M001"), records.String("other")))

	out, report := Normalize(rs, newTable(t))
	assert.Equal(t, []string{"mrn"}, out.Columns)
	assert.Equal(t, "M001", out.Rows[0].Get("mrn").String())
	assert.Equal(t, []string{"MRN"}, report.Collisions)
}

func TestNormalize_Idempotent(t *testing.T) {
	rs := records.New("canonical", []string{"dob", "mrn", "first_name", "last_name"})
	require.NoError(t, rs.Append(records.String("1970-01-01"), records.String("M001"), records.String("Maria"), records.Null()))

	table := newTable(t)
	once, _ := Normalize(rs, table)
	twice, report := Normalize(once, table)

	assert.Equal(t, rs.Columns, once.Columns)
	assert.Equal(t, rs.Rows, once.Rows)
	assert.Equal(t, once, twice)
	assert.Empty(t, report.Dropped)
	assert.Empty(t, report.Missing)
	assert.Empty(t, report.Renamed)
}

func TestRequireColumns(t *testing.T) {
	rs := records.New("patients", []string{"mrn"})
	require.NoError(t, RequireColumns(rs, "mrn"))

	err := RequireColumns(rs, "mrn", "dob", "facility_id")
	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "dob, facility_id")
}
