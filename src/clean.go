package main

import (
	"context"
	"fmt"
	"strings"

	"ApartmentFinder/src/config"
	"ApartmentFinder/src/datapush"
	"ApartmentFinder/src/datasource/email"
	"ApartmentFinder/src/datasource/file"
	"ApartmentFinder/src/processor"
	"ApartmentFinder/src/storage"
	"ApartmentFinder/src/utils"

	"github.com/spf13/cobra"
)

var (
	cleanInput      string
	cleanNotify     bool
	cleanMaxMissing float64
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean the raw wide table and write the cleaned outputs",
	Long: `读取原始宽表(csv/xlsx)，丢弃缺失过多的行，插值并首尾填充，
丢弃缺少RegionName/State的行，原子写出清洗后的csv和可选的xlsx副本。`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().StringVar(&cleanInput, "input", "", "原始数据文件(默认使用配置中的raw_file)")
	cleanCmd.Flags().BoolVar(&cleanNotify, "notify", true, "完成后按配置推送钉钉和发送邮件")
	cleanCmd.Flags().Float64Var(&cleanMaxMissing, "max-missing-ratio", config.DefaultMaxMissingRatio, "覆盖配置中的缺失比例阈值(0~1)")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, dcfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	if cmd.Flags().Changed("max-missing-ratio") {
		if cleanMaxMissing < 0 || cleanMaxMissing > 1 {
			return fmt.Errorf("--max-missing-ratio 必须在0到1之间: %v", cleanMaxMissing)
		}
		dcfg.SetMaxMissingRatio(cleanMaxMissing)
	}

	input := cfg.RawFile
	if cleanInput != "" {
		input = cleanInput
	}

	p, err := runPipeline(cfg, dcfg, input, logger)
	if err != nil {
		logger.Error(err.Error())
		if cleanNotify {
			notifyFailure(cmd.Context(), cfg, err, logger)
		}
		return err
	}
	if cleanNotify {
		notify(cmd.Context(), cfg, p, logger)
	}
	return nil
}

// runPipeline 读取 -> 清洗 -> 写出，任何一步失败都不会留下不完整的输出
func runPipeline(cfg *config.Config, dcfg *config.DataConfig, input string, logger *storage.Logger) (*processor.DataProcessor, error) {
	logger.Info("开始清洗: " + input)

	records, err := file.ReadRecords(input, rawOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("读取原始数据失败: %w", err)
	}

	p := processor.NewDataProcessor(records, cleaningRules(dcfg), logger)
	if err := p.CleanData(); err != nil {
		return p, err
	}
	table := p.Table()

	if err := storage.SaveCSV(cfg.CleanedFile, table.Records()); err != nil {
		return p, fmt.Errorf("写出清洗结果失败: %w", err)
	}
	logger.Info("清洗结果已写入: " + cfg.CleanedFile)

	if cfg.ExcelFile != "" {
		if err := utils.SaveToExcel(table.DataFrame(), cfg.ExcelFile, ""); err != nil {
			return p, fmt.Errorf("写出xlsx副本失败: %w", err)
		}
		logger.Info("xlsx副本已写入: " + cfg.ExcelFile)
	}

	logger.Info("清洗摘要\n" + runSummary(p))
	return p, nil
}

// runSummary 清洗统计加上结果概况
func runSummary(p *processor.DataProcessor) string {
	summary := p.Report().String()
	metrics, err := p.CalculateMetrics()
	if err != nil {
		return summary
	}
	return summary + fmt.Sprintf("覆盖 %v 个州, 日期 %v ~ %v\n",
		metrics["states"], metrics["first_date"], metrics["last_date"])
}

// notify 推送清洗摘要，失败只记日志，已写出的结果不受影响
func notify(ctx context.Context, cfg *config.Config, p *processor.DataProcessor, logger *storage.Logger) {
	summary := runSummary(p)

	if cfg.DingTalk.Enabled {
		title := "租金数据清洗完成"
		text := strings.ReplaceAll(strings.TrimSpace(summary), "\n", "\n\n")
		n := datapush.NewNotifier(cfg.DingTalk.Webhook, cfg.DingTalk.Secret)
		if err := n.PushReport(ctx, title, text); err != nil {
			logger.Error("钉钉推送失败: " + err.Error())
		} else {
			logger.Info("钉钉推送成功")
		}
	}

	if cfg.SendEmail.Enabled {
		sender := &email.ReportSender{
			Server:   cfg.SendEmail.Server,
			Username: cfg.SendEmail.Username,
			Password: cfg.SendEmail.Password,
			To:       cfg.SendEmail.To,
		}
		subject := cfg.SendEmail.Subject
		if subject == "" {
			subject = "Cleaned rental data"
		}
		if err := sender.Send(subject, summary, cfg.CleanedFile, cfg.ExcelFile); err != nil {
			logger.Error("发送报告邮件失败: " + err.Error())
		} else {
			logger.Info(fmt.Sprintf("报告邮件已发送给 %s", strings.Join(cfg.SendEmail.To, ", ")))
		}
	}
}

// notifyFailure 清洗失败时发钉钉文本提醒
func notifyFailure(ctx context.Context, cfg *config.Config, runErr error, logger *storage.Logger) {
	if !cfg.DingTalk.Enabled {
		return
	}
	n := datapush.NewNotifier(cfg.DingTalk.Webhook, cfg.DingTalk.Secret)
	if err := n.PushText(ctx, "租金数据清洗失败: "+runErr.Error()); err != nil {
		logger.Error("钉钉推送失败: " + err.Error())
	}
}
