package utils

import (
	"fmt"
	"io"
	"strings"
	"time"

	"ApartmentFinder/src/storage"

	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"
)

// 日期列表头支持的格式
var dateLayouts = []string{"2006-01", "2006-01-02"}

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// 辅助函数：判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// IsDateHeader 首字符为数字的表头视为日期列
func IsDateHeader(name string) bool {
	return name != "" && name[0] >= '0' && name[0] <= '9'
}

// ParseDate 解析 YYYY-MM 或 YYYY-MM-DD
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析日期 %q, 期望 YYYY-MM 或 YYYY-MM-DD", s)
}

// SaveToExcel 把DataFrame写成xlsx，缺失值留空单元格
func SaveToExcel(df dataframe.DataFrame, filePath, sheetName string) error {
	if df.Err != nil {
		return fmt.Errorf("DataFrame无效: %w", df.Err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheetName == "" {
		sheetName = "Sheet1"
	}
	if sheetName != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			return fmt.Errorf("设置工作表名失败: %w", err)
		}
	}

	// 写入列名
	colNames := df.Names()
	for i, name := range colNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return fmt.Errorf("写入表头失败: %w", err)
		}
	}

	// 写入数据
	for colIdx, colName := range colNames {
		col := df.Col(colName)
		for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
			val := col.Val(rowIdx)
			if val == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, val); err != nil {
				return fmt.Errorf("写入单元格 %s 失败: %w", cell, err)
			}
		}
	}

	return storage.WriteAtomic(filePath, func(w io.Writer) error {
		if _, err := f.WriteTo(w); err != nil {
			return fmt.Errorf("保存Excel文件失败: %w", err)
		}
		return nil
	})
}
