package main

import (
	"fmt"

	"ApartmentFinder/src/config"
	"ApartmentFinder/src/datasource/email"
	"ApartmentFinder/src/storage"

	"github.com/spf13/cobra"
)

var fetchClean bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the newest raw data attachment from the mailbox",
	Long: `连接IMAP邮箱，在未读邮件中找到主题包含target_subject的最新一封，
把第一个csv/xlsx附件保存到数据目录。`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchClean, "clean", false, "下载后立即清洗")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, dcfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if !cfg.Email.Enabled {
		return fmt.Errorf("邮箱未启用，请在配置中设置 email.enabled")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	client := email.NewEmailClient(cfg.Email.Server, cfg.Email.Username, cfg.Email.Password, logger)
	handler := email.NewAttachmentHandler(cfg.Email.TargetSubject, cfg.DataDir)

	path, err := fetchAttachment(client, handler, cfg, logger)
	if err != nil {
		logger.Error("检查处理邮件失败: " + err.Error())
		return err
	}
	if path == "" {
		logger.Info("没有新的原始数据")
		return nil
	}

	if fetchClean {
		p, err := runPipeline(cfg, dcfg, path, logger)
		if err != nil {
			logger.Error(err.Error())
			notifyFailure(cmd.Context(), cfg, err, logger)
			return err
		}
		notify(cmd.Context(), cfg, p, logger)
	}
	return nil
}

// fetchAttachment 返回保存的附件路径，没有新数据时为空串
func fetchAttachment(svc email.MailService, handler *email.AttachmentHandler, cfg *config.Config, logger *storage.Logger) (string, error) {
	newEmail, err := email.CheckAndProcessEmails(svc, cfg.Email.TargetSubject, logger)
	if err != nil {
		return "", err
	}
	return handler.Handle(newEmail, logger)
}
