package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"ApartmentFinder/src/config"
	"ApartmentFinder/src/datasource/email"
	"ApartmentFinder/src/datasource/file"
	"ApartmentFinder/src/processor"
	"ApartmentFinder/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawCSV = "Unnamed: 0,RegionName,State,Metro,CountyName,SizeRank,2010-01,2010-02,2010-03,2010-04,2010-05,2010-06,2010-07,2010-08,2010-09,2010-10\n" +
	"0,X,CA,LA,Los Angeles,1,1000,,,,,,,,,\n" +
	"1,Y,CA,SF,San Francisco,2,2000,2010,2020,2030,2040,2050,2060,2070,2080,2090\n" +
	"2,Z,,SF,San Francisco,3,900,,,,,,,,,950\n" +
	"3,W,TX,Austin,Travis,4,10,,,40,40,40,40,40,40,40\n"

func testLogger(t *testing.T) *storage.Logger {
	t.Helper()
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "app.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func testConfig(dir string) (*config.Config, *config.DataConfig) {
	cfg := &config.Config{
		RawFile:     filepath.Join(dir, "raw.csv"),
		CleanedFile: filepath.Join(dir, "out", "cleaned.csv"),
		ExcelFile:   filepath.Join(dir, "out", "cleaned.xlsx"),
	}
	return cfg, &config.DataConfig{}
}

func TestRunPipeline(t *testing.T) {
	dir := t.TempDir()
	cfg, dcfg := testConfig(dir)
	require.NoError(t, os.WriteFile(cfg.RawFile, []byte(rawCSV), 0644))

	p, err := runPipeline(cfg, dcfg, cfg.RawFile, testLogger(t))
	require.NoError(t, err)

	report := p.Report()
	assert.True(t, report.IndexColumnDropped)
	assert.Equal(t, 1, report.DroppedSparse)
	assert.Equal(t, 1, report.DroppedMetadata)
	assert.Equal(t, 2, report.CleanRows)

	records, err := file.ReadRecords(cfg.CleanedFile, file.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"RegionName", "State", "Metro", "CountyName",
		"2010-01", "2010-02", "2010-03", "2010-04", "2010-05",
		"2010-06", "2010-07", "2010-08", "2010-09", "2010-10"}, records[0])
	assert.Equal(t, []string{"W", "TX", "Austin", "Travis", "10", "20", "30", "40", "40", "40", "40", "40", "40", "40"}, records[2])

	cleaned, err := processor.LoadTable(records, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, processor.CitiesForState(cleaned, "CA"))

	book, err := file.ReadRecords(cfg.ExcelFile, file.Options{})
	require.NoError(t, err)
	assert.Equal(t, records[0], book[0])
	assert.Len(t, book, 3)

	// 对清洗结果再清洗一次不应有变化
	cfg.CleanedFile = filepath.Join(dir, "out", "again.csv")
	cfg.ExcelFile = ""
	_, err = runPipeline(cfg, dcfg, filepath.Join(dir, "out", "cleaned.csv"), testLogger(t))
	require.NoError(t, err)
	again, err := file.ReadRecords(cfg.CleanedFile, file.Options{})
	require.NoError(t, err)
	assert.Equal(t, records, again)
}

func TestRunPipelineMalformedWritesNothing(t *testing.T) {
	dir := t.TempDir()
	cfg, dcfg := testConfig(dir)
	require.NoError(t, os.WriteFile(cfg.RawFile, []byte("RegionName,Metro,CountyName,2010-01\nX,M,C,1\n"), 0644))

	_, err := runPipeline(cfg, dcfg, cfg.RawFile, testLogger(t))
	assert.ErrorIs(t, err, processor.ErrMissingColumn)
	assert.NoFileExists(t, cfg.CleanedFile)
	assert.NoFileExists(t, cfg.ExcelFile)

	_, err = runPipeline(cfg, dcfg, filepath.Join(dir, "missing.csv"), testLogger(t))
	assert.Error(t, err)
}

type fakeMailbox struct {
	emails []*email.Email
}

func (f *fakeMailbox) Connect() error                             { return nil }
func (f *fakeMailbox) Disconnect()                                {}
func (f *fakeMailbox) FetchUnreadEmails() ([]*email.Email, error) { return f.emails, nil }

func TestPipelineJobFetchesAndCleans(t *testing.T) {
	dir := t.TempDir()
	cfg, dcfg := testConfig(dir)
	cfg.Email.TargetSubject = "City_MedianRentalPrice"
	cfg.DataDir = filepath.Join(dir, "inbox")

	mailbox := &fakeMailbox{emails: []*email.Email{{
		UID:         7,
		Date:        time.Now(),
		Subject:     "City_MedianRentalPrice 1Bedroom",
		Attachments: []*email.Attachment{{Filename: "rent.csv", Content: []byte(rawCSV)}},
	}}}
	job := &pipelineJob{
		cfg:     cfg,
		dcfg:    dcfg,
		logger:  testLogger(t),
		mail:    mailbox,
		handler: email.NewAttachmentHandler(cfg.Email.TargetSubject, cfg.DataDir),
	}

	job.run(context.Background())
	assert.FileExists(t, filepath.Join(cfg.DataDir, "rent.csv"))
	require.FileExists(t, cfg.CleanedFile)

	// 同一封邮件不会再次处理
	require.NoError(t, os.Remove(cfg.CleanedFile))
	job.run(context.Background())
	assert.NoFileExists(t, cfg.CleanedFile)
}

func TestPipelineJobSkipsOverlap(t *testing.T) {
	dir := t.TempDir()
	cfg, dcfg := testConfig(dir)
	require.NoError(t, os.WriteFile(cfg.RawFile, []byte(rawCSV), 0644))

	logger := testLogger(t)
	logs := logger.Subscribe()
	job := &pipelineJob{cfg: cfg, dcfg: dcfg, logger: logger}

	job.mu.Lock()
	job.run(context.Background())
	job.mu.Unlock()
	assert.NoFileExists(t, cfg.CleanedFile)
	assert.Contains(t, <-logs, "跳过本次")

	job.run(context.Background())
	assert.FileExists(t, cfg.CleanedFile)
}

func TestWritePidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "apartment-finder.pid")
	require.NoError(t, writePidFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

// TestCleanCommand 唯一经过config.LoadConfig的用例
func TestCleanCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.csv"), []byte(rawCSV), 0644))

	writeJSON(t, filepath.Join(dir, "config.json"), map[string]interface{}{
		"data_dir":     dir,
		"raw_file":     "raw.csv",
		"cleaned_file": "cleaned.csv",
		"log_name":     filepath.Join(dir, "app.log"),
	})
	writeJSON(t, filepath.Join(dir, "dataconfig.json"), map[string]interface{}{
		"max_missing_ratio": 0.8,
	})

	// 阈值放宽到0.95后，9/10缺失的X也保留
	rootCmd.SetArgs([]string{"clean", "--config-dir", dir, "--log-level", "warning", "--max-missing-ratio", "0.95"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	records, err := file.ReadRecords(filepath.Join(dir, "cleaned.csv"), file.Options{})
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "X", records[1][0])
	assert.NoFileExists(t, filepath.Join(dir, "cleaned.xlsx"))
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// dingTalkStub 把收到的消息体转发到通道
func dingTalkStub(t *testing.T) (*httptest.Server, chan map[string]interface{}) {
	t.Helper()
	msgs := make(chan map[string]interface{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg map[string]interface{}
		_ = json.Unmarshal(body, &msg)
		msgs <- msg
		_, _ = w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, msgs
}

func TestNotifyPushesSummary(t *testing.T) {
	dir := t.TempDir()
	cfg, dcfg := testConfig(dir)
	require.NoError(t, os.WriteFile(cfg.RawFile, []byte(rawCSV), 0644))
	p, err := runPipeline(cfg, dcfg, cfg.RawFile, testLogger(t))
	require.NoError(t, err)

	srv, msgs := dingTalkStub(t)
	cfg.DingTalk.Enabled = true
	cfg.DingTalk.Webhook = srv.URL
	notify(context.Background(), cfg, p, testLogger(t))

	require.Len(t, msgs, 1)
	msg := <-msgs
	assert.Equal(t, "markdown", msg["msgtype"])
	text := msg["markdown"].(map[string]interface{})["text"].(string)
	assert.Equal(t, 1, strings.Count(text, "租金数据清洗完成"), text)
	assert.Contains(t, text, "覆盖 2 个州, 日期 2010-01 ~ 2010-10")
	assert.Contains(t, text, "2010-02: 3")
}

func TestNotifyFailurePushesText(t *testing.T) {
	srv, msgs := dingTalkStub(t)
	cfg, _ := testConfig(t.TempDir())

	notifyFailure(context.Background(), cfg, processor.ErrMissingColumn, testLogger(t))
	assert.Len(t, msgs, 0, "未启用钉钉时不推送")

	cfg.DingTalk.Enabled = true
	cfg.DingTalk.Webhook = srv.URL
	notifyFailure(context.Background(), cfg, processor.ErrMissingColumn, testLogger(t))
	require.Len(t, msgs, 1)
	msg := <-msgs
	assert.Equal(t, "text", msg["msgtype"])
	content := msg["text"].(map[string]interface{})["content"].(string)
	assert.Contains(t, content, "租金数据清洗失败")
	assert.Contains(t, content, processor.ErrMissingColumn.Error())
}
