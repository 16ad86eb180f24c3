package processor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ApartmentFinder/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// 宽表的元数据列
const (
	ColRegionName = "RegionName"
	ColState      = "State"
	ColMetro      = "Metro"
	ColCountyName = "CountyName"
)

// EssentialColumns 输出时元数据列的固定顺序
var EssentialColumns = []string{ColRegionName, ColState, ColMetro, ColCountyName}

// DefaultNAValues 视为缺失的单元格内容
var DefaultNAValues = []string{"", "NA", "NaN", "nan", "<nil>", "null"}

var (
	ErrMissingColumn     = errors.New("缺少必需列")
	ErrInvalidDateHeader = errors.New("日期列表头无法解析")
	ErrNoDateColumns     = errors.New("没有日期列")
	ErrDuplicateColumn   = errors.New("列名重复")
	ErrEmptyTable        = errors.New("表格为空")
	ErrRaggedRow         = errors.New("行的列数与表头不一致")
)

// DateColumn 一个日期列及其解析后的日期
type DateColumn struct {
	Name  string
	Month time.Time
}

// Table 投影后的宽表: 元数据列为String, 日期列为Float, 缺失值为NaN
type Table struct {
	df    dataframe.DataFrame
	dates []DateColumn
}

func newTable(df dataframe.DataFrame, dates []DateColumn) *Table {
	return &Table{df: df, dates: dates}
}

// DataFrame 返回底层DataFrame
func (t *Table) DataFrame() dataframe.DataFrame { return t.df }

// DateNames 日期列名，按原始顺序
func (t *Table) DateNames() []string {
	names := make([]string, len(t.dates))
	for i, d := range t.dates {
		names[i] = d.Name
	}
	return names
}

func (t *Table) Nrow() int { return t.df.Nrow() }
func (t *Table) Ncol() int { return t.df.Ncol() }

// Strings 元数据列的值，缺失为空串
func (t *Table) Strings(col string) []string {
	s := t.df.Col(col)
	out := make([]string, s.Len())
	for i := range out {
		if e := s.Elem(i); !e.IsNA() {
			out[i] = e.String()
		}
	}
	return out
}

// Rows 按行返回日期列的值，缺失为NaN
func (t *Table) Rows() [][]float64 {
	rows := make([][]float64, t.Nrow())
	for i := range rows {
		rows[i] = make([]float64, len(t.dates))
	}
	for j, d := range t.dates {
		for i, v := range t.df.Col(d.Name).Float() {
			rows[i][j] = v
		}
	}
	return rows
}

// subset 按行号取子表，行号保持给定顺序
func (t *Table) subset(rows []int) *Table {
	if rows == nil {
		rows = []int{}
	}
	return newTable(t.df.Subset(rows), t.dates)
}

// withRows 用新的日期值替换所有日期列
func (t *Table) withRows(rows [][]float64) *Table {
	df := t.df
	for j, d := range t.dates {
		col := make([]float64, len(rows))
		for i := range rows {
			col[i] = rows[i][j]
		}
		df = df.Mutate(series.New(col, series.Float, d.Name))
	}
	return newTable(df, t.dates)
}

// Records 表头加数据行，浮点数用最短往返格式，缺失值为空串
func (t *Table) Records() [][]string {
	names := t.df.Names()
	records := make([][]string, t.Nrow()+1)
	records[0] = append([]string(nil), names...)
	for i := 1; i < len(records); i++ {
		records[i] = make([]string, len(names))
	}
	for j, name := range names {
		col := t.df.Col(name)
		for i := 0; i < col.Len(); i++ {
			records[i+1][j] = formatCell(col.Elem(i))
		}
	}
	return records
}

func formatCell(e series.Element) string {
	if e.IsNA() {
		return ""
	}
	if e.Type() == series.Float {
		return strconv.FormatFloat(e.Float(), 'f', -1, 64)
	}
	return e.String()
}

// layout 表头投影结果
type layout struct {
	essential []int // EssentialColumns 在原表中的下标
	dateIdx   []int
	dates     []DateColumn
	dropped   []string
	indexCol  bool
}

// projectHeader 保留元数据列和首字符为数字的列，其余丢弃
func projectHeader(header []string) (*layout, error) {
	seen := make(map[string]int, len(header))
	lay := &layout{essential: make([]int, len(EssentialColumns))}
	for i := range lay.essential {
		lay.essential[i] = -1
	}

	for i, raw := range header {
		name := strings.TrimSpace(raw)
		kept := false
		switch {
		case utils.IsDateHeader(name):
			month, err := utils.ParseDate(name)
			if err != nil {
				return nil, fmt.Errorf("第%d列 %q: %w", i+1, raw, ErrInvalidDateHeader)
			}
			lay.dateIdx = append(lay.dateIdx, i)
			lay.dates = append(lay.dates, DateColumn{Name: name, Month: month})
			kept = true
		default:
			for k, ess := range EssentialColumns {
				if name == ess {
					lay.essential[k] = i
					kept = true
				}
			}
		}

		if !kept {
			if name == "" || strings.HasPrefix(name, "Unnamed:") {
				lay.indexCol = true
			}
			lay.dropped = append(lay.dropped, raw)
			continue
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%q 出现在第%d列和第%d列: %w", name, prev+1, i+1, ErrDuplicateColumn)
		}
		seen[name] = i
	}

	var missing []string
	for k, idx := range lay.essential {
		if idx < 0 {
			missing = append(missing, EssentialColumns[k])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w", strings.Join(missing, ", "), ErrMissingColumn)
	}
	if len(lay.dates) == 0 {
		return nil, ErrNoDateColumns
	}
	return lay, nil
}

// chronological 日期列是否按时间递增
func chronological(dates []DateColumn) bool {
	for i := 1; i < len(dates); i++ {
		if !dates[i].Month.After(dates[i-1].Month) {
			return false
		}
	}
	return true
}

// parsed 原始记录解析后的中间结果
type parsed struct {
	table       *Table
	layout      *layout
	rawRows     int
	rawCols     int
	unparsable  int
	nonMonotone bool
}

// parseRecords 投影列并把记录转换成Table，records[0]为表头
func parseRecords(records [][]string, naValues []string) (*parsed, error) {
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}
	header := records[0]
	if len(header) == 0 {
		return nil, ErrEmptyTable
	}
	lay, err := projectHeader(header)
	if err != nil {
		return nil, err
	}
	if naValues == nil {
		naValues = DefaultNAValues
	}
	na := make(map[string]struct{}, len(naValues))
	for _, v := range naValues {
		na[v] = struct{}{}
	}
	isNA := func(v string) bool {
		_, ok := na[strings.TrimSpace(v)]
		return ok
	}

	rows := records[1:]
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("第%d行有%d列, 表头有%d列: %w", i+2, len(row), len(header), ErrRaggedRow)
		}
	}

	cols := make([]series.Series, 0, len(EssentialColumns)+len(lay.dates))
	for k, idx := range lay.essential {
		vals := make([]string, len(rows))
		for i, row := range rows {
			v := strings.TrimSpace(row[idx])
			if isNA(v) {
				v = "NaN"
			}
			vals[i] = v
		}
		cols = append(cols, series.New(vals, series.String, EssentialColumns[k]))
	}

	unparsable := 0
	for j, idx := range lay.dateIdx {
		vals := make([]float64, len(rows))
		for i, row := range rows {
			cell := strings.TrimSpace(row[idx])
			if isNA(cell) {
				vals[i] = math.NaN()
				continue
			}
			f, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
			if err != nil || math.IsInf(f, 0) {
				unparsable++
				f = math.NaN()
			}
			vals[i] = f
		}
		cols = append(cols, series.New(vals, series.Float, lay.dates[j].Name))
	}

	df := dataframe.New(cols...)
	if df.Err != nil {
		return nil, fmt.Errorf("构建DataFrame失败: %w", df.Err)
	}

	return &parsed{
		table:       newTable(df, lay.dates),
		layout:      lay,
		rawRows:     len(rows),
		rawCols:     len(header),
		unparsable:  unparsable,
		nonMonotone: !chronological(lay.dates),
	}, nil
}

// LoadTable 只做列投影和类型转换，用于读取已经清洗过的数据
func LoadTable(records [][]string, naValues []string) (*Table, error) {
	p, err := parseRecords(records, naValues)
	if err != nil {
		return nil, err
	}
	return p.table, nil
}
