package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ApartmentFinder/src/config"
	"ApartmentFinder/src/datasource/email"
	"ApartmentFinder/src/storage"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"
)

var scheduleNow bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Fetch, clean and report on a fixed interval",
	Long: `按 email.check_interval 定时执行: 邮箱启用时先拉取附件，然后清洗、
推送钉钉并发送报告邮件。同一时间只运行一个任务，重叠的触发会被跳过。`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "启动时立即执行一次")
	rootCmd.AddCommand(scheduleCmd)
}

// pipelineJob 一次定时任务
type pipelineJob struct {
	cfg     *config.Config
	dcfg    *config.DataConfig
	logger  *storage.Logger
	mail    email.MailService // 为nil时直接清洗raw_file
	handler *email.AttachmentHandler

	mu sync.Mutex
}

func (j *pipelineJob) run(ctx context.Context) {
	if !j.mu.TryLock() {
		j.logger.Warning("上一次任务尚未结束，跳过本次")
		return
	}
	defer j.mu.Unlock()

	t1 := time.Now()
	input := j.cfg.RawFile
	if j.mail != nil {
		path, err := fetchAttachment(j.mail, j.handler, j.cfg, j.logger)
		if err != nil {
			j.logger.Error("检查处理邮件失败: " + err.Error())
			return
		}
		if path == "" {
			j.logger.Info("没有新的原始数据，跳过清洗")
			return
		}
		input = path
	}

	p, err := runPipeline(j.cfg, j.dcfg, input, j.logger)
	if err != nil {
		j.logger.Error(err.Error())
		notifyFailure(ctx, j.cfg, err, j.logger)
		return
	}
	notify(ctx, j.cfg, p, j.logger)
	j.logger.Info(fmt.Sprintf("数据处理时间：%v", time.Since(t1)))
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, dcfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := &pipelineJob{cfg: cfg, dcfg: dcfg, logger: logger}
	if cfg.Email.Enabled {
		job.mail = email.NewEmailClient(cfg.Email.Server, cfg.Email.Username, cfg.Email.Password, logger)
		job.handler = email.NewAttachmentHandler(cfg.Email.TargetSubject, cfg.DataDir)
	}

	c := cron.New()
	interval := time.Duration(cfg.Email.CheckInterval).String() // 例如 "24h0m0s"
	cronSpec := fmt.Sprintf("@every %s", interval)
	if err := c.AddFunc(cronSpec, func() {
		logger.Info(fmt.Sprintf("开始定时任务(%s)...", cronSpec))
		job.run(ctx)
	}); err != nil {
		return fmt.Errorf("创建定时任务失败: %w", err)
	}

	c.Start()
	defer c.Stop()

	if scheduleNow {
		go job.run(ctx)
	}

	logger.Info(fmt.Sprintf("定时任务已启动(间隔: %v)，按Ctrl+C退出", interval))
	<-ctx.Done()
	logger.Info("收到退出信号，定时任务停止")
	return nil
}
