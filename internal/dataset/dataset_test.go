package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRadarCSV = `cell_id,mcs_type,Rmj,MeanZ,note
c1,CC,10,40,a
c2,MSL,30,,b
c3,SLP,25,50,c
c4,CC,12,NaN,d
`
	testLabelsCSV = `cell_id,is_heavy_rainfall,top10_mean_rr_mmh,top10_mean_rr_mmh_30min,note
c1,1,42.5,44,x
c2,0,inf,3,y
c4,true,,7,z
`
)

func mustFrame(t *testing.T, s string) *Frame {
	t.Helper()
	f, err := ReadCSV(strings.NewReader(s))
	require.NoError(t, err)
	return f
}

func TestReadCSV(t *testing.T) {
	f := mustFrame(t, testRadarCSV)
	assert.Equal(t, []string{"cell_id", "mcs_type", "Rmj", "MeanZ", "note"}, f.Columns)
	assert.Len(t, f.Rows, 4)
	assert.Equal(t, "30", f.Value(1, "Rmj"))
	assert.Empty(t, f.Value(0, "absent"))

	_, err := ReadCSV(strings.NewReader(""))
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	merged, err := Merge(mustFrame(t, testRadarCSV), mustFrame(t, testLabelsCSV))
	require.NoError(t, err)

	// c3 has no label row and is dropped by the inner join.
	assert.Len(t, merged.Rows, 3)
	assert.True(t, merged.Has("note_label"), "colliding label column gets a suffix")
	assert.Equal(t, "x", merged.Value(0, "note_label"))
	assert.Equal(t, "a", merged.Value(0, "note"))

	_, err = Merge(mustFrame(t, "id,x\n1,2\n"), mustFrame(t, testLabelsCSV))
	require.ErrorIs(t, err, domain.ErrDataQuality)
}

func TestTable_Clean(t *testing.T) {
	merged, err := Merge(mustFrame(t, testRadarCSV), mustFrame(t, testLabelsCSV))
	require.NoError(t, err)
	tbl := FromFrame(merged)
	tbl.Clean()

	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []domain.Category{domain.CategoryCC, domain.CategoryMSL, domain.CategoryCC}, tbl.Categories)

	x, err := tbl.Matrix([]string{"Rmj", "MeanZ"}, []int{0, 1, 2})
	require.NoError(t, err)
	// MeanZ is missing for c2 and NaN for c4: both become the mean of the finite values.
	assert.Equal(t, 40.0, x[1][1])
	assert.Equal(t, 40.0, x[2][1])

	top10, err := tbl.Target(domain.RoleRegressorTop10, domain.Horizon60, []int{0, 1, 2})
	require.NoError(t, err)
	// Targets: inf and empty become zero.
	assert.Equal(t, []float64{42.5, 0, 0}, top10)

	heavy, err := tbl.Target(domain.RoleClassifier, domain.Horizon30, []int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1}, heavy)
}

func TestTable_TargetHorizonOverride(t *testing.T) {
	merged, err := Merge(mustFrame(t, testRadarCSV), mustFrame(t, testLabelsCSV))
	require.NoError(t, err)
	tbl := FromFrame(merged)
	tbl.Clean()

	y, err := tbl.Target(domain.RoleRegressorTop10, domain.Horizon30, []int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{44, 3, 7}, y)

	_, err = tbl.Target(domain.RoleRegressorMean, domain.Horizon30, []int{0})
	require.ErrorIs(t, err, domain.ErrDataQuality)
}

func TestTable_Rows(t *testing.T) {
	tbl := FromFrame(mustFrame(t, testRadarCSV))
	assert.Equal(t, []int{0, 3}, tbl.Rows(domain.CategoryCC))
	assert.Equal(t, []int{0, 1, 2, 3}, tbl.Rows(domain.CategoryALL))
	assert.Empty(t, tbl.Rows(domain.CategoryMCC))
}

func TestTable_MatrixMissingColumns(t *testing.T) {
	tbl := FromFrame(mustFrame(t, testRadarCSV))
	_, err := tbl.Matrix([]string{"Rmj", "MaxVIL"}, []int{0})
	require.ErrorIs(t, err, domain.ErrDataQuality)
	assert.Contains(t, err.Error(), "MaxVIL")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	radar := filepath.Join(dir, "radar.csv")
	labels := filepath.Join(dir, "labels.csv")
	require.NoError(t, os.WriteFile(radar, []byte(testRadarCSV), 0o600))
	require.NoError(t, os.WriteFile(labels, []byte(testLabelsCSV), 0o600))

	tbl, err := Load([]string{radar}, []string{labels})
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	_, err = Load([]string{filepath.Join(dir, "absent.csv")}, []string{labels})
	require.Error(t, err)

	_, err = Load(nil, []string{labels})
	require.Error(t, err)
}

func TestConcat(t *testing.T) {
	a := mustFrame(t, "cell_id,x\n1,2\n")
	b := mustFrame(t, "cell_id,y\n3,4\n")
	c := Concat(a, b)
	assert.Equal(t, []string{"cell_id", "x", "y"}, c.Columns)
	assert.Equal(t, [][]string{{"1", "2", ""}, {"3", "", "4"}}, c.Rows)
}
