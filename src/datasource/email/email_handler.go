// email_handler.go
package email

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"ApartmentFinder/src/datasource/file"
	"ApartmentFinder/src/storage"
)

// ====================== 附件处理器实现 ======================

// AttachmentHandler 把目标邮件中的csv/xlsx附件保存到数据目录
type AttachmentHandler struct {
	TargetSubject string          // 目标邮件主题关键词
	DataDir       string          // 附件保存目录
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	mu            sync.RWMutex    // 保护processedUIDs的读写锁
}

func NewAttachmentHandler(subject, dataDir string) *AttachmentHandler {
	return &AttachmentHandler{
		TargetSubject: subject,
		DataDir:       dataDir,
		processedUIDs: make(map[uint32]bool),
	}
}

// isProcessed 检查邮件是否已处理过（线程安全）
func (h *AttachmentHandler) isProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

// markAsProcessed 标记邮件为已处理（线程安全）
func (h *AttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 保存第一个表格附件并返回路径；已处理、主题不符或没有表格附件时返回空串
func (h *AttachmentHandler) Handle(e *Email, logger *storage.Logger) (string, error) {
	if e == nil || h.isProcessed(e.UID) {
		return "", nil
	}

	if !strings.Contains(e.Subject, h.TargetSubject) {
		logger.Debug(fmt.Sprintf("跳过主题不匹配的邮件: %s", e.Subject))
		return "", nil
	}

	logger.Info(fmt.Sprintf("处理邮件: %s 发件人: %s 日期: %s",
		e.Subject, e.From, e.Date.Format("2006-01-02 15:04:05")))

	for _, attachment := range e.Attachments {
		// 附件名可能带路径
		name := filepath.Base(attachment.Filename)
		if !file.IsSupported(name) {
			continue
		}

		filePath := filepath.Join(h.DataDir, name)
		content := attachment.Content
		if err := storage.WriteAtomic(filePath, func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}); err != nil {
			return "", fmt.Errorf("保存附件失败: %w", err)
		}

		logger.Info(fmt.Sprintf("附件已保存到: %s", filePath))
		h.markAsProcessed(e.UID)
		return filePath, nil
	}

	logger.Warning(fmt.Sprintf("邮件 %q 没有csv/xlsx附件", e.Subject))
	return "", nil
}
