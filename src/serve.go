package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"ApartmentFinder/src/config"
	"ApartmentFinder/src/dashboard"
	"ApartmentFinder/src/datasource/file"
	"ApartmentFinder/src/storage"

	"github.com/spf13/cobra"
)

const (
	rotateInterval  = time.Minute
	shutdownTimeout = 5 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard JSON API over the cleaned table",
	Long: `加载清洗后的数据并提供看板接口。清洗结果文件被重写时自动重新加载，
收到SIGHUP时重新打开日志文件并重新加载。`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址(默认使用配置中的server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, dcfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	if err := writePidFile(cfg.PidFile); err != nil {
		return err
	}
	defer os.Remove(cfg.PidFile)

	// 清洗结果是本程序写出的utf-8文件，不沿用原始数据的编码
	store := dashboard.NewStore(cfg.CleanedFile, file.Options{}, dcfg.GetNAValues())
	from, to := dcfg.GetDefaultRange()
	srv, err := dashboard.NewServer(store, logger, dashboard.Options{
		MaxCompareCities: dcfg.GetMaxCompareCities(),
		DefaultFrom:      from,
		DefaultTo:        to,
	})
	if err != nil {
		return err
	}
	if err := srv.Reload(); err != nil {
		logger.Warning("清洗数据暂不可用，接口返回503直到文件就绪: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.CleanedFile), 0755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	monitor, err := file.NewFileMonitor(cfg.CleanedFile)
	if err != nil {
		return err
	}
	defer monitor.Close()

	go func() {
		err := monitor.Watch(ctx, func(path string) {
			logger.Info("检测到清洗结果更新: " + path)
			if err := srv.Reload(); err != nil {
				logger.Error("重新加载失败，继续使用旧数据: " + err.Error())
			}
		})
		if err != nil {
			logger.Error("文件监控错误: " + err.Error())
		}
	}()
	go handleHangup(ctx, srv, logger)
	go rotateLogs(ctx, cfg, logger)

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// 退出时取消所有请求，/logs 长连接随之结束
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("看板接口已启动: %s", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP服务异常退出: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("收到退出信号，正在关闭...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// writePidFile 供reload工具找到本进程
func writePidFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建pid目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("写入pid文件失败: %w", err)
	}
	return nil
}

// handleHangup SIGHUP: 重新打开日志文件并重新加载清洗数据
func handleHangup(ctx context.Context, srv *dashboard.Server, logger *storage.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := logger.Reopen(""); err != nil {
				fmt.Fprintln(os.Stderr, "重新打开日志文件失败:", err)
			}
			logger.Info("收到SIGHUP，重新加载清洗数据")
			if err := srv.Reload(); err != nil {
				logger.Error("重新加载失败，继续使用旧数据: " + err.Error())
			}
		}
	}
}

// rotateLogs 定期检查日志大小
func rotateLogs(ctx context.Context, cfg *config.Config, logger *storage.Logger) {
	ticker := time.NewTicker(rotateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := logger.CheckRotate(cfg.LogMaxSize); err != nil {
				fmt.Fprintln(os.Stderr, "日志轮转失败:", err)
			}
		}
	}
}
