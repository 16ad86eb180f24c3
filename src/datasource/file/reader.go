// reader.go
package file

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUnsupportedFormat 文件扩展名既不是csv也不是xlsx
var ErrUnsupportedFormat = errors.New("不支持的文件格式")

// Options 读取原始表格的选项
type Options struct {
	SheetName string // xlsx工作表，空则取第一个
	Encoding  string // csv编码: utf-8(默认) / windows-1252 / latin1
}

// IsSupported 按扩展名判断是否可读
func IsSupported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// ReadRecords 读取csv或xlsx文件，返回包含表头的所有行
func ReadRecords(path string, opts Options) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件 %s 失败: %w", path, err)
	}
	return ParseRecords(filepath.Base(path), data, opts)
}

// ParseRecords 按文件名扩展名解析内存中的表格，用于邮件附件
func ParseRecords(name string, data []byte, opts Options) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return readCSV(bytes.NewReader(data), opts.Encoding)
	case ".xlsx":
		return readXLSX(data, opts.SheetName)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}
}

func decoder(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("未知编码 %q", name)
	}
}

// readCSV 读取csv，UTF-8时去掉BOM。列数不一致的行交给上层报错
func readCSV(r io.Reader, enc string) ([][]string, error) {
	dec, err := decoder(enc)
	if err != nil {
		return nil, err
	}
	if dec == nil {
		r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	} else {
		r = transform.NewReader(r, dec)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析CSV失败: %w", err)
	}
	return records, nil
}

// readXLSX 使用tealeg/xlsx读取工作表，第一行为表头，短行补齐到表头宽度
func readXLSX(data []byte, sheetName string) ([][]string, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("打开xlsx失败: %w", err)
	}
	if len(xlFile.Sheets) == 0 {
		return nil, fmt.Errorf("excel文件中没有工作表")
	}

	sheet := xlFile.Sheets[0]
	if sheetName != "" {
		s, ok := xlFile.Sheet[sheetName]
		if !ok {
			return nil, fmt.Errorf("工作表 %q 不存在", sheetName)
		}
		sheet = s
	}

	if len(sheet.Rows) == 0 || sheet.Rows[0] == nil {
		return nil, nil
	}

	var header []string
	for _, cell := range sheet.Rows[0].Cells {
		header = append(header, strings.TrimSpace(cell.String()))
	}
	// 去掉表头尾部的空单元格
	for len(header) > 0 && header[len(header)-1] == "" {
		header = header[:len(header)-1]
	}
	width := len(header)

	records := [][]string{header}
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		record := make([]string, width)
		empty := true
		for i, cell := range row.Cells {
			if i >= width {
				break
			}
			record[i] = cell.String()
			if record[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
