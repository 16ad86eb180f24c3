package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ApartmentFinder/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadRecordsCSVWithBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	content := "\xEF\xBB\xBFRegionName,State,2010-01\nNew York,NY,1650\n\"Austin, TX\",TX,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	records, err := ReadRecords(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"RegionName", "State", "2010-01"},
		{"New York", "NY", "1650"},
		{"Austin, TX", "TX", ""},
	}, records)
}

func TestReadRecordsCSVWindows1252(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	// 0xF1 在Windows-1252中是 ñ
	require.NoError(t, os.WriteFile(path, []byte("RegionName,State\nCa\xF1on City,CO\n"), 0644))

	records, err := ReadRecords(path, Options{Encoding: "windows-1252"})
	require.NoError(t, err)
	assert.Equal(t, "Cañon City", records[1][0])

	_, err = ReadRecords(path, Options{Encoding: "ebcdic"})
	assert.Error(t, err)
}

func TestReadRecordsRaggedCSVPassesThrough(t *testing.T) {
	records, err := ParseRecords("raw.csv", []byte("a,b,c\n1,2\n"), Options{})
	require.NoError(t, err)
	assert.Len(t, records[1], 2)
}

func TestReadRecordsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"RegionName", "State", "2010-01", "2010-02"},
		{"Austin", "TX", 1350.5, 1400},
		{"Reno", "NV", nil, 900},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	records, err := ReadRecords(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"RegionName", "State", "2010-01", "2010-02"},
		{"Austin", "TX", "1350.5", "1400"},
		{"Reno", "NV", "", "900"},
	}, records)

	_, err = ReadRecords(path, Options{SheetName: "Missing"})
	assert.Error(t, err)
}

func TestReadRecordsUnsupported(t *testing.T) {
	_, err := ParseRecords("raw.json", []byte("{}"), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.True(t, IsSupported("A.XLSX"))
	assert.False(t, IsSupported("a.xls"))
}

func TestFileMonitorDetectsAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cleaned.csv")
	require.NoError(t, storage.SaveCSV(path, [][]string{{"a"}}))

	monitor, err := NewFileMonitor(path)
	require.NoError(t, err)
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan string, 10)
	go func() {
		_ = monitor.Watch(ctx, func(p string) { changed <- p })
	}()

	require.NoError(t, storage.SaveCSV(path, [][]string{{"a", "b"}, {"1", "2"}}))

	select {
	case got := <-changed:
		assert.Equal(t, path, got)
	case <-time.After(5 * time.Second):
		t.Fatal("没有收到文件变化通知")
	}
}
