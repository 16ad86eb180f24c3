package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func month(s string) time.Time {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		panic(err)
	}
	return t
}

func rangeOf(from, to string) DateRange {
	return DateRange{From: month(from), To: month(to)}
}

// sampleTable 三个州的已清洗数据，其中一行州缺失
func sampleTable(t *testing.T) *Table {
	t.Helper()
	table, err := LoadTable([][]string{
		{"RegionName", "State", "Metro", "CountyName", "2010-01", "2010-02", "2010-03"},
		{"Springfield", "IL", "M", "C", "1000", "1100", "1200"},
		{"Chicago", "IL", "M", "C", "2000", "2100", ""},
		{"Austin", "TX", "M", "C", "1500", "1600", "1700"},
		{"Springfield", "MO", "M", "C", "800", "900", "1000"},
		{"Boston", "MA", "M", "C", "", "", ""},
		{"Ghost", "", "M", "C", "5000", "5000", "5000"},
		{"Aurora", "IL", "M", "C", "3000", "3000", "3000"},
	}, nil)
	require.NoError(t, err)
	return table
}

func TestMelt(t *testing.T) {
	table := sampleTable(t)
	long := Melt(table.DataFrame(), []string{ColRegionName}, []string{"2010-01", "2010-02"}, ColDate, ColPrice)
	require.NoError(t, long.Err)

	assert.Equal(t, []string{ColRegionName, ColDate, ColPrice}, long.Names())
	assert.Equal(t, 2*table.Nrow(), long.Nrow())
	// 日期优先
	dates := long.Col(ColDate).Records()
	assert.Equal(t, "2010-01", dates[table.Nrow()-1])
	assert.Equal(t, "2010-02", dates[table.Nrow()])

	bad := Melt(table.DataFrame(), []string{"Nope"}, nil, ColDate, ColPrice)
	assert.ErrorContains(t, bad.Err, `"Nope"`)
	bad = Melt(table.DataFrame(), []string{ColRegionName}, []string{"2099-01"}, ColDate, ColPrice)
	assert.ErrorContains(t, bad.Err, `"2099-01"`)
}

func TestSeriesByState(t *testing.T) {
	table := sampleTable(t)
	points := SeriesByState(table, rangeOf("2010-02", "2010-03"))

	assert.Equal(t, []StatePoint{
		{"IL", "2010-02", 2066.6666666666665},
		{"MO", "2010-02", 900},
		{"TX", "2010-02", 1600},
		{"IL", "2010-03", 2100},
		{"MO", "2010-03", 1000},
		{"TX", "2010-03", 1700},
	}, points)
}

func TestSeriesByStateEmptyRanges(t *testing.T) {
	table := sampleTable(t)
	assert.Empty(t, SeriesByState(table, DateRange{}))
	assert.Empty(t, SeriesByState(table, rangeOf("2010-03", "2010-01")))
	assert.Empty(t, SeriesByState(table, rangeOf("2015-01", "2015-12")))
	assert.NotNil(t, SeriesByState(table, DateRange{}))
}

func TestChoroplethSummary(t *testing.T) {
	table := sampleTable(t)
	summary := ChoroplethSummary(table, rangeOf("2010-01", "2010-03"))

	require.Len(t, summary, 3)
	assert.Equal(t, "IL", summary[0].State)
	assert.InDelta(t, (2000.0+2066.6666666666665+2100)/3, summary[0].Value, 1e-9)
	assert.Equal(t, StateSummary{"MO", 900}, summary[1])
	assert.Equal(t, StateSummary{"TX", 1600}, summary[2])

	assert.Empty(t, ChoroplethSummary(table, rangeOf("2011-01", "2010-01")))
}

func TestSelectCities(t *testing.T) {
	cities, truncated := SelectCities([]string{"A", "B", "C", "D", "E"}, "Z", 3)
	assert.Equal(t, []string{"A", "B", "C"}, cities)
	assert.True(t, truncated)

	cities, truncated = SelectCities([]string{"B", "B", "A"}, "Z", 0)
	assert.Equal(t, []string{"B", "A"}, cities)
	assert.False(t, truncated)

	cities, _ = SelectCities(nil, "Z", 3)
	assert.Equal(t, []string{"Z"}, cities)

	cities, _ = SelectCities(nil, "", 3)
	assert.Empty(t, cities)
}

func TestCitySeries(t *testing.T) {
	table := sampleTable(t)
	points := CitySeries(table, rangeOf("2010-01", "2010-02"), []string{"Austin", "Springfield"}, "Chicago", 3)

	assert.Equal(t, []CityPoint{
		{"Austin", "TX", "2010-01", 1500},
		{"Austin", "TX", "2010-02", 1600},
		{"Springfield", "IL", "2010-01", 1000},
		{"Springfield", "IL", "2010-02", 1100},
		{"Springfield", "MO", "2010-01", 800},
		{"Springfield", "MO", "2010-02", 900},
	}, points)
}

func TestCitySeriesSelectionLimit(t *testing.T) {
	table := sampleTable(t)
	points := CitySeries(table, rangeOf("2010-01", "2010-01"),
		[]string{"Aurora", "Chicago", "Austin", "Boston", "Springfield"}, "", 3)

	var cities []string
	for _, p := range points {
		cities = append(cities, p.RegionName)
	}
	assert.Equal(t, []string{"Aurora", "Chicago", "Austin"}, cities)
}

func TestCitySeriesFallbackAndEmpty(t *testing.T) {
	table := sampleTable(t)
	rng := rangeOf("2010-01", "2010-03")

	points := CitySeries(table, rng, nil, "Chicago", 3)
	assert.Len(t, points, 2, "缺失价格不输出")

	assert.Empty(t, CitySeries(table, rng, nil, "", 3))
	assert.Empty(t, CitySeries(table, rng, []string{"Atlantis"}, "", 3))
	assert.Empty(t, CitySeries(table, rangeOf("2010-03", "2010-01"), []string{"Austin"}, "", 3))
	assert.Empty(t, CitySeries(table, rng, []string{"Boston"}, "", 3))
}

func TestCitiesForStateAndStates(t *testing.T) {
	table := sampleTable(t)
	assert.Equal(t, []string{"Aurora", "Chicago", "Springfield"}, CitiesForState(table, "IL"))
	assert.Empty(t, CitiesForState(table, "ZZ"))
	assert.Empty(t, CitiesForState(table, ""))
	assert.Equal(t, []string{"IL", "MA", "MO", "TX"}, States(table))
}

func TestRowsForState(t *testing.T) {
	table := sampleTable(t)
	rows := RowsForState(table, "IL")
	assert.Equal(t, []string{"Springfield", "Chicago", "Aurora"}, rows.Strings(ColRegionName))
	assert.Equal(t, table.DataFrame().Names(), rows.DataFrame().Names())

	empty := RowsForState(table, "ZZ")
	assert.Equal(t, 0, empty.Nrow())
	assert.Len(t, empty.Records(), 1)
}

func TestParseDateRange(t *testing.T) {
	rng, err := ParseDateRange("2010-02", "2019-12-01")
	require.NoError(t, err)
	assert.True(t, rng.Valid())
	assert.True(t, rng.Contains(month("2010-02")))
	assert.True(t, rng.Contains(month("2019-12")))
	assert.False(t, rng.Contains(month("2010-01")))

	_, err = ParseDateRange("Feb 2010", "2019-12")
	assert.Error(t, err)
}
