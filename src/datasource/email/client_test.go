package email

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ApartmentFinder/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailService struct {
	emails       []*Email
	connectErr   error
	fetchErr     error
	disconnected bool
}

func (f *fakeMailService) Connect() error { return f.connectErr }
func (f *fakeMailService) Disconnect()    { f.disconnected = true }
func (f *fakeMailService) FetchUnreadEmails() ([]*Email, error) {
	return f.emails, f.fetchErr
}

func testLogger(t *testing.T) *storage.Logger {
	t.Helper()
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "app.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

const rawMessage = "From: Data Team <data@example.com>\r\n" +
	"To: ops@example.com\r\n" +
	"Subject: =?UTF-8?B?5pyI5bqm?= City_MedianRentalPrice\r\n" +
	"Date: Mon, 02 Jan 2023 15:04:05 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"monthly export\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"rent.csv\"\r\n" +
	"\r\n" +
	"RegionName,State\r\nAustin,TX\r\n" +
	"--BOUNDARY--\r\n"

func TestParseMessage(t *testing.T) {
	e, err := ParseMessage(strings.NewReader(rawMessage))
	require.NoError(t, err)

	assert.Equal(t, "月度 City_MedianRentalPrice", e.Subject)
	assert.Contains(t, e.From, "data@example.com")
	assert.Equal(t, 2023, e.Date.Year())
	require.Len(t, e.Attachments, 1)
	assert.Equal(t, "rent.csv", e.Attachments[0].Filename)
	assert.Equal(t, "RegionName,State\r\nAustin,TX", string(e.Attachments[0].Content))
}

func TestDecodeHeaderCharsets(t *testing.T) {
	assert.Equal(t, "Cañon", decodeHeader("=?windows-1252?Q?Ca=F1on?="))
	assert.Equal(t, "plain", decodeHeader("plain"))
}

func TestCheckAndProcessEmails(t *testing.T) {
	logger := testLogger(t)
	now := time.Now()
	svc := &fakeMailService{emails: []*Email{
		{UID: 1, Subject: "City_MedianRentalPrice old", Date: now.Add(-2 * time.Hour)},
		{UID: 2, Subject: "newsletter", Date: now},
		{UID: 3, Subject: "City_MedianRentalPrice new", Date: now.Add(-time.Hour)},
	}}

	got, err := CheckAndProcessEmails(svc, "City_MedianRentalPrice", logger)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint32(3), got.UID)
	assert.True(t, svc.disconnected)

	got, err = CheckAndProcessEmails(svc, "nothing", logger)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = CheckAndProcessEmails(&fakeMailService{connectErr: errors.New("refused")}, "x", logger)
	assert.Error(t, err)

	_, err = CheckAndProcessEmails(&fakeMailService{fetchErr: errors.New("timeout")}, "x", logger)
	assert.Error(t, err)
}

func TestAttachmentHandler(t *testing.T) {
	logger := testLogger(t)
	dir := t.TempDir()
	h := NewAttachmentHandler("Rental", dir)

	e := &Email{
		UID:     7,
		Subject: "Rental export",
		Attachments: []*Attachment{
			{Filename: "notes.txt", Content: []byte("skip")},
			{Filename: "../../evil/rent.xlsx", Content: []byte("xlsx-bytes")},
		},
	}

	path, err := h.Handle(e, logger)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rent.xlsx"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "xlsx-bytes", string(data))

	// 同一封邮件只处理一次
	path, err = h.Handle(e, logger)
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = h.Handle(&Email{UID: 8, Subject: "other"}, logger)
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = h.Handle(&Email{UID: 9, Subject: "Rental", Attachments: []*Attachment{{Filename: "a.pdf"}}}, logger)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestReportSenderNewReport(t *testing.T) {
	attachment := filepath.Join(t.TempDir(), "cleaned.csv")
	require.NoError(t, os.WriteFile(attachment, []byte("RegionName\nAustin\n"), 0644))

	sender := &ReportSender{Server: "smtp.example.com", Username: "bot@example.com", To: []string{"ops@example.com"}}
	e, err := sender.NewReport("Cleaned rental data", "2 rows", attachment, "")
	require.NoError(t, err)

	raw, err := e.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: Cleaned rental data")
	assert.Contains(t, string(raw), "cleaned.csv")
	assert.Len(t, e.Attachments, 1)

	_, err = sender.NewReport("x", "y", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	assert.Error(t, (&ReportSender{}).Send("x", "y"))
}
