package processor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"ApartmentFinder/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/stat"
)

// 长表的列名
const (
	ColDate  = "Date"
	ColPrice = "Price"
)

// DefaultMaxSelection 对比图最多城市数
const DefaultMaxSelection = 3

// DateRange 闭区间，零值或反向区间不包含任何日期
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange 解析 YYYY-MM / YYYY-MM-DD 形式的起止日期
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := utils.ParseDate(from)
	if err != nil {
		return DateRange{}, fmt.Errorf("起始日期: %w", err)
	}
	t, err := utils.ParseDate(to)
	if err != nil {
		return DateRange{}, fmt.Errorf("结束日期: %w", err)
	}
	return DateRange{From: f, To: t}, nil
}

func (r DateRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && !r.To.Before(r.From)
}

func (r DateRange) Contains(t time.Time) bool {
	return r.Valid() && !t.Before(r.From) && !t.After(r.To)
}

// columns 区间内的日期列名，保持表中顺序
func (r DateRange) columns(dates []DateColumn) []string {
	var names []string
	for _, d := range dates {
		if r.Contains(d.Month) {
			names = append(names, d.Name)
		}
	}
	return names
}

// StatePoint 某州某月的平均租金
type StatePoint struct {
	State string  `json:"state"`
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// StateSummary 某州在区间内的平均租金
type StateSummary struct {
	State string  `json:"state"`
	Value float64 `json:"value"`
}

// CityPoint 某城市某月的租金
type CityPoint struct {
	RegionName string  `json:"region_name"`
	State      string  `json:"state"`
	Date       string  `json:"date"`
	Price      float64 `json:"price"`
}

// Melt 宽表转长表: 对每个valueVar依次展开所有行(日期优先)，
// 输出列为 idVars..., varName, valueName
func Melt(df dataframe.DataFrame, idVars, valueVars []string, varName, valueName string) dataframe.DataFrame {
	if df.Err != nil {
		return df
	}
	for _, name := range append(append([]string(nil), idVars...), valueVars...) {
		if !utils.HasColumn(df, name) {
			return dataframe.DataFrame{Err: fmt.Errorf("melt: 找不到列 %q", name)}
		}
	}
	n := df.Nrow()
	total := n * len(valueVars)

	idCols := make([]series.Series, len(idVars))
	for k, id := range idVars {
		idCols[k] = df.Col(id)
	}

	ids := make([][]string, len(idVars))
	for k := range ids {
		ids[k] = make([]string, 0, total)
	}
	vars := make([]string, 0, total)
	vals := make([]float64, 0, total)

	for _, v := range valueVars {
		floats := df.Col(v).Float()
		for i := 0; i < n; i++ {
			for k, idCol := range idCols {
				ids[k] = append(ids[k], idCol.Elem(i).String())
			}
			vars = append(vars, v)
			vals = append(vals, floats[i])
		}
	}

	out := make([]series.Series, 0, len(idVars)+2)
	for k, id := range idVars {
		out = append(out, series.New(ids[k], series.String, id))
	}
	out = append(out,
		series.New(vars, series.String, varName),
		series.New(vals, series.Float, valueName),
	)
	return dataframe.New(out...)
}

// StateMeans 各州每个日期的平均租金，忽略缺失值；州按字母序，缺失州不参与
func StateMeans(t *Table) ([]string, [][]float64) {
	states := t.Strings(ColState)
	rows := t.Rows()

	groups := make(map[string][]int)
	for i, s := range states {
		if s == "" {
			continue
		}
		groups[s] = append(groups[s], i)
	}
	names := make([]string, 0, len(groups))
	for s := range groups {
		names = append(names, s)
	}
	sort.Strings(names)

	means := make([][]float64, len(names))
	buf := make([]float64, 0, len(rows))
	for si, s := range names {
		means[si] = make([]float64, len(t.dates))
		for j := range t.dates {
			buf = buf[:0]
			for _, i := range groups[s] {
				if v := rows[i][j]; !math.IsNaN(v) {
					buf = append(buf, v)
				}
			}
			if len(buf) == 0 {
				means[si][j] = math.NaN()
				continue
			}
			means[si][j] = stat.Mean(buf, nil)
		}
	}
	return names, means
}

// stateMeansFrame 州 x 日期 的均值宽表
func stateMeansFrame(t *Table) dataframe.DataFrame {
	names, means := StateMeans(t)
	cols := make([]series.Series, 0, len(t.dates)+1)
	cols = append(cols, series.New(names, series.String, ColState))
	for j, d := range t.dates {
		col := make([]float64, len(names))
		for si := range names {
			col[si] = means[si][j]
		}
		cols = append(cols, series.New(col, series.Float, d.Name))
	}
	return dataframe.New(cols...)
}

// SeriesByState 折线图数据: 按日期再按州排列，均值无定义的点省略
func SeriesByState(t *Table, rng DateRange) []StatePoint {
	points := []StatePoint{}
	dates := rng.columns(t.dates)
	if len(dates) == 0 {
		return points
	}

	long := Melt(stateMeansFrame(t), []string{ColState}, dates, ColDate, ColPrice)
	if long.Err != nil {
		return points
	}
	states := long.Col(ColState).Records()
	dateNames := long.Col(ColDate).Records()
	prices := long.Col(ColPrice).Float()
	for i, p := range prices {
		if math.IsNaN(p) {
			continue
		}
		points = append(points, StatePoint{State: states[i], Date: dateNames[i], Price: p})
	}
	return points
}

// ChoroplethSummary 地图数据: 各州区间内逐月均值的平均
func ChoroplethSummary(t *Table, rng DateRange) []StateSummary {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, p := range SeriesByState(t, rng) {
		sums[p.State] += p.Price
		counts[p.State]++
	}

	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, s)
	}
	sort.Strings(states)

	out := make([]StateSummary, 0, len(states))
	for _, s := range states {
		out = append(out, StateSummary{State: s, Value: sums[s] / float64(counts[s])})
	}
	return out
}

// SelectCities 取前limit个选择并去重；没有选择时使用fallback。
// truncated 表示选择数超过了limit。
func SelectCities(selected []string, fallback string, limit int) (cities []string, truncated bool) {
	if limit <= 0 {
		limit = DefaultMaxSelection
	}
	if len(selected) == 0 {
		if fallback == "" {
			return []string{}, false
		}
		return []string{fallback}, false
	}

	truncated = len(selected) > limit
	if truncated {
		selected = selected[:limit]
	}
	cities = make([]string, 0, len(selected))
	for _, c := range selected {
		if !utils.Contains(cities, c) {
			cities = append(cities, c)
		}
	}
	return cities, truncated
}

// CitySeries 对比图数据: 按选择顺序、表内行序、日期排列，缺失价格省略
func CitySeries(t *Table, rng DateRange, selected []string, fallback string, maxSelection int) []CityPoint {
	points := []CityPoint{}
	dates := rng.columns(t.dates)
	if len(dates) == 0 {
		return points
	}
	cities, _ := SelectCities(selected, fallback, maxSelection)
	regions := t.Strings(ColRegionName)

	for _, city := range cities {
		for i, region := range regions {
			if region != city {
				continue
			}
			long := Melt(t.df.Subset([]int{i}), []string{ColRegionName, ColState}, dates, ColDate, ColPrice)
			if long.Err != nil {
				continue
			}
			states := long.Col(ColState)
			dateNames := long.Col(ColDate).Records()
			for k, p := range long.Col(ColPrice).Float() {
				if math.IsNaN(p) {
					continue
				}
				state := ""
				if e := states.Elem(k); !e.IsNA() {
					state = e.String()
				}
				points = append(points, CityPoint{RegionName: city, State: state, Date: dateNames[k], Price: p})
			}
		}
	}
	return points
}

// CitiesForState 某州的城市，去重后按字母序
func CitiesForState(t *Table, state string) []string {
	cities := []string{}
	if state == "" {
		return cities
	}
	regions := t.Strings(ColRegionName)
	seen := make(map[string]struct{})
	for i, s := range t.Strings(ColState) {
		if s != state || regions[i] == "" {
			continue
		}
		if _, ok := seen[regions[i]]; ok {
			continue
		}
		seen[regions[i]] = struct{}{}
		cities = append(cities, regions[i])
	}
	sort.Strings(cities)
	return cities
}

// States 表中出现的州，按字母序
func States(t *Table) []string {
	seen := make(map[string]struct{})
	states := []string{}
	for _, s := range t.Strings(ColState) {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			states = append(states, s)
		}
	}
	sort.Strings(states)
	return states
}

// RowsForState 某州的所有行，保持表内顺序
func RowsForState(t *Table, state string) *Table {
	var rows []int
	for i, s := range t.Strings(ColState) {
		if state != "" && s == state {
			rows = append(rows, i)
		}
	}
	return t.subset(rows)
}
