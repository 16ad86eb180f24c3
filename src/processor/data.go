// data.go
package processor

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Logger 清洗过程使用的日志接口，storage.Logger 满足该接口
type Logger interface {
	Info(msg string)
	Warning(msg string)
}

type nopLogger struct{}

func (nopLogger) Info(string)    {}
func (nopLogger) Warning(string) {}

// Rules 清洗规则
type Rules struct {
	MaxMissingRatio float64  // 缺失比例严格大于该值的行被丢弃
	NAValues        []string // 视为缺失的单元格内容
}

// DefaultRules 默认阈值0.80
func DefaultRules() Rules {
	return Rules{MaxMissingRatio: 0.80, NAValues: DefaultNAValues}
}

// Report 清洗前后的统计
type Report struct {
	RawRows            int
	RawColumns         int
	ProjectedColumns   int
	DateColumns        int
	DroppedColumns     []string
	IndexColumnDropped bool
	NonChronological   bool
	UnparsableCells    int
	MissingBefore      map[string]int
	DroppedSparse      int
	DroppedMetadata    int
	DegenerateRows     int
	CleanRows          int
	CleanColumns       int
	MissingAfter       map[string]int
	Duration           time.Duration
}

// String 输出给运维看的摘要
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "原始数据: %d 行 x %d 列\n", r.RawRows, r.RawColumns)
	fmt.Fprintf(&b, "投影后: %d 列 (日期列 %d)\n", r.ProjectedColumns, r.DateColumns)
	if r.IndexColumnDropped {
		b.WriteString("已丢弃索引列\n")
	}
	if len(r.DroppedColumns) > 0 {
		fmt.Fprintf(&b, "丢弃的列: %s\n", strings.Join(r.DroppedColumns, ", "))
	}
	if r.UnparsableCells > 0 {
		fmt.Fprintf(&b, "无法解析的价格: %d (按缺失处理)\n", r.UnparsableCells)
	}
	fmt.Fprintf(&b, "清洗前缺失值: %d\n", sumMissing(r.MissingBefore))
	writeMissing(&b, r.MissingBefore)
	fmt.Fprintf(&b, "稀疏行丢弃: %d, 缺少地区/州丢弃: %d, 全空行保留: %d\n",
		r.DroppedSparse, r.DroppedMetadata, r.DegenerateRows)
	fmt.Fprintf(&b, "清洗后: %d 行 x %d 列, 缺失值: %d\n",
		r.CleanRows, r.CleanColumns, sumMissing(r.MissingAfter))
	writeMissing(&b, r.MissingAfter)
	return b.String()
}

// writeMissing 逐列输出缺失值个数
func writeMissing(b *strings.Builder, counts map[string]int) {
	for _, name := range MissingColumns(counts) {
		fmt.Fprintf(b, "  %s: %d\n", name, counts[name])
	}
}

func sumMissing(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// DataProcessor 对一份原始宽表执行清洗
type DataProcessor struct {
	records [][]string
	rules   Rules
	logger  Logger
	table   *Table
	report  Report
}

func NewDataProcessor(records [][]string, rules Rules, logger Logger) *DataProcessor {
	if logger == nil {
		logger = nopLogger{}
	}
	return &DataProcessor{records: records, rules: rules, logger: logger}
}

// Shape 清洗原始记录，records[0]为表头
func Shape(records [][]string, rules Rules, logger Logger) (*Table, Report, error) {
	p := NewDataProcessor(records, rules, logger)
	if err := p.CleanData(); err != nil {
		return nil, p.report, err
	}
	return p.table, p.report, nil
}

// CleanData 列投影 -> 稀疏行过滤 -> 插值与首尾填充 -> 元数据过滤
func (p *DataProcessor) CleanData() error {
	start := time.Now()
	p.report = Report{}

	parsed, err := parseRecords(p.records, p.rules.NAValues)
	if err != nil {
		return fmt.Errorf("解析原始数据失败: %w", err)
	}
	r := &p.report
	r.RawRows = parsed.rawRows
	r.RawColumns = parsed.rawCols
	r.ProjectedColumns = parsed.table.Ncol()
	r.DateColumns = len(parsed.layout.dates)
	r.DroppedColumns = parsed.layout.dropped
	r.IndexColumnDropped = parsed.layout.indexCol
	r.NonChronological = parsed.nonMonotone
	r.UnparsableCells = parsed.unparsable

	if r.IndexColumnDropped {
		p.logger.Info("检测到索引列，已丢弃")
	}
	if r.NonChronological {
		p.logger.Warning("日期列不是按时间递增排列，插值按列位置进行")
	}
	if r.UnparsableCells > 0 {
		p.logger.Warning(fmt.Sprintf("%d 个价格无法解析，按缺失处理", r.UnparsableCells))
	}

	table := parsed.table
	r.MissingBefore = MissingCounts(table)
	p.logger.Info(fmt.Sprintf("初始数据: %d 行 x %d 列, 缺失值 %d",
		r.RawRows, r.ProjectedColumns, sumMissing(r.MissingBefore)))

	// 稀疏行过滤
	rows := table.Rows()
	dateCount := float64(len(table.dates))
	keep := make([]int, 0, len(rows))
	for i, row := range rows {
		if float64(missingCount(row))/dateCount > p.rules.MaxMissingRatio {
			continue
		}
		keep = append(keep, i)
	}
	r.DroppedSparse = len(rows) - len(keep)

	// 插值与首尾填充
	filled := make([][]float64, len(keep))
	for k, i := range keep {
		var ok bool
		filled[k], ok = FillGaps(rows[i])
		if !ok {
			r.DegenerateRows++
		}
	}
	table = table.subset(keep).withRows(filled)
	if table.df.Err != nil {
		return fmt.Errorf("填充缺失值失败: %w", table.df.Err)
	}

	// 元数据过滤
	regions := table.df.Col(ColRegionName)
	states := table.df.Col(ColState)
	valid := make([]int, 0, table.Nrow())
	for i := 0; i < table.Nrow(); i++ {
		if present(regions.Elem(i)) && present(states.Elem(i)) {
			valid = append(valid, i)
		}
	}
	r.DroppedMetadata = table.Nrow() - len(valid)
	if r.DroppedMetadata > 0 {
		table = table.subset(valid)
	}
	// 元数据过滤可能丢掉全空行，重新统计
	r.DegenerateRows = countDegenerate(table)

	r.CleanRows = table.Nrow()
	r.CleanColumns = table.Ncol()
	r.MissingAfter = MissingCounts(table)
	r.Duration = time.Since(start)

	p.logger.Info(fmt.Sprintf("清洗完成: %d 行 x %d 列 (稀疏丢弃 %d, 元数据丢弃 %d, 全空保留 %d), 用时 %v",
		r.CleanRows, r.CleanColumns, r.DroppedSparse, r.DroppedMetadata, r.DegenerateRows, r.Duration))

	p.table = table
	return nil
}

// Table 清洗结果，CleanData 成功前为nil
func (p *DataProcessor) Table() *Table { return p.table }

// Report 最近一次清洗的统计
func (p *DataProcessor) Report() Report { return p.report }

// CalculateMetrics 清洗结果的概要指标
func (p *DataProcessor) CalculateMetrics() (map[string]interface{}, error) {
	if p.table == nil {
		return nil, fmt.Errorf("数据尚未清洗")
	}
	dates := p.table.DateNames()
	return map[string]interface{}{
		"rows":            p.table.Nrow(),
		"states":          len(States(p.table)),
		"first_date":      dates[0],
		"last_date":       dates[len(dates)-1],
		"dropped_sparse":  p.report.DroppedSparse,
		"dropped_meta":    p.report.DroppedMetadata,
		"degenerate_rows": p.report.DegenerateRows,
		"last_updated":    time.Now(),
	}, nil
}

// MissingCounts 每列缺失值个数，只包含有缺失的列
func MissingCounts(t *Table) map[string]int {
	counts := make(map[string]int)
	for _, name := range t.df.Names() {
		n := 0
		for _, na := range t.df.Col(name).IsNaN() {
			if na {
				n++
			}
		}
		if n > 0 {
			counts[name] = n
		}
	}
	return counts
}

// MissingColumns 有缺失值的列名，按字母序
func MissingColumns(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func countDegenerate(t *Table) int {
	n := 0
	for _, row := range t.Rows() {
		if missingCount(row) == len(row) {
			n++
		}
	}
	return n
}

type naElement interface {
	IsNA() bool
	String() string
}

func present(e naElement) bool {
	return !e.IsNA() && strings.TrimSpace(e.String()) != ""
}
