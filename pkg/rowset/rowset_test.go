package rowset_test

import (
	"testing"

	"github.com/bayuaji732/data-prep-api/pkg/rowset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	got := rowset.NormalizeHeader([]string{" Customer ID ", "Amount ($)", "", "amount", "Amount", "2nd"})
	assert.Equal(t, []string{"customer_id", "amount", "column_3", "amount_2", "amount_3", "c_2nd"}, got)
}

func TestFromStrings(t *testing.T) {
	rs, err := rowset.FromStrings(
		[]string{"id", "score", "active", "name"},
		[][]string{
			{"1", "0.5", "true", "alice"},
			{"", "", "", ""},
			{"2", "3", "FALSE", ""},
			{"3"},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, 3, rs.Len())
	assert.Equal(t, []rowset.Field{
		{Name: "id", Type: rowset.Int},
		{Name: "score", Type: rowset.Float},
		{Name: "active", Type: rowset.Bool},
		{Name: "name", Type: rowset.String},
	}, rs.Schema())
	assert.Equal(t, []interface{}{int64(1), 0.5, true, "alice"}, rs.Row(0))
	assert.Equal(t, []interface{}{int64(2), float64(3), false, nil}, rs.Row(1))
	assert.Equal(t, []interface{}{int64(3), nil, nil, nil}, rs.Row(2))
}

func TestFromStringsKeepsText(t *testing.T) {
	cases := []struct {
		name  string
		cells []string
		want  rowset.FieldType
	}{
		{"leading zeros", []string{"007", "010", "123"}, rowset.String},
		{"zero and fractions", []string{"0", "0.5", "-0.25"}, rowset.Float},
		{"exponent", []string{"1e3", "2.5E-2"}, rowset.Float},
		{"nan and inf", []string{"nan", "inf", "1"}, rowset.String},
		{"hex float", []string{"0x1p-2"}, rowset.String},
		{"dangling dot", []string{"1.", "2"}, rowset.String},
		{"signed ints", []string{"+5", "-12", "0"}, rowset.Int},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cells := make([][]string, len(c.cells))
			for i, v := range c.cells {
				cells[i] = []string{v}
			}
			rs, err := rowset.FromStrings([]string{"v"}, cells)
			require.NoError(t, err)
			assert.Equal(t, c.want, rs.Schema()[0].Type)
			if c.want == rowset.String {
				assert.Equal(t, c.cells[0], rs.Row(0)[0])
			}
		})
	}
}

func TestNew(t *testing.T) {
	schema := []rowset.Field{{Name: "k", Type: rowset.String}, {Name: "v", Type: rowset.Int}}

	t.Run("rejects wrong width", func(t *testing.T) {
		_, err := rowset.New(schema, [][]interface{}{{"a"}})
		assert.Error(t, err)
	})

	t.Run("rejects mismatched type", func(t *testing.T) {
		_, err := rowset.New(schema, [][]interface{}{{"a", "1"}})
		assert.Error(t, err)
	})

	t.Run("rejects duplicate field", func(t *testing.T) {
		_, err := rowset.New([]rowset.Field{{Name: "a"}, {Name: "a"}}, nil)
		assert.Error(t, err)
	})

	t.Run("copies input", func(t *testing.T) {
		row := []interface{}{"a", int64(1)}
		rs, err := rowset.New(schema, [][]interface{}{row})
		require.NoError(t, err)
		row[0] = "changed"
		assert.Equal(t, "a", rs.Row(0)[0])

		out := rs.Row(0)
		out[1] = int64(99)
		assert.Equal(t, int64(1), rs.Row(0)[1])
	})
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", rowset.FormatValue(nil))
	assert.Equal(t, "42", rowset.FormatValue(int64(42)))
	assert.Equal(t, "0.25", rowset.FormatValue(0.25))
	assert.Equal(t, "true", rowset.FormatValue(true))
	assert.Equal(t, "x", rowset.FormatValue("x"))
}
