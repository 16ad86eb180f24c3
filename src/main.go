package main

import (
	"context"
	"os"

	"ApartmentFinder/src/config"
	"ApartmentFinder/src/datasource/file"
	"ApartmentFinder/src/processor"
	"ApartmentFinder/src/storage"

	"github.com/spf13/cobra"
)

var (
	configDir      string
	configFile     string
	dataConfigFile string
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "apartment-finder",
	Short: "Clean median rental price data and serve it to the dashboard",
	Long: `apartment-finder 清洗按城市/州统计的月度租金中位数宽表，
并通过JSON接口为看板提供州折线、州地图、城市对比和数据表。`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "./config", "配置目录")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.json", "主配置文件名")
	rootCmd.PersistentFlags().StringVar(&dataConfigFile, "data-config", "dataconfig.json", "数据规则配置文件名")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "日志级别 DEBUG/INFO/WARNING/ERROR")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *config.DataConfig, error) {
	return config.LoadConfig(configDir, configFile, dataConfigFile)
}

// newLogger 日志同时写文件和控制台
func newLogger(cfg *config.Config) (*storage.Logger, error) {
	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		return nil, err
	}
	logger.SetConsole(os.Stdout)
	logger.SetLevel(storage.ParseLevel(logLevel))
	return logger, nil
}

func cleaningRules(dcfg *config.DataConfig) processor.Rules {
	return processor.Rules{
		MaxMissingRatio: dcfg.GetMaxMissingRatio(),
		NAValues:        dcfg.GetNAValues(),
	}
}

// rawOptions 原始数据的工作表与编码
func rawOptions(cfg *config.Config) file.Options {
	return file.Options{SheetName: cfg.SheetName, Encoding: cfg.Encoding}
}
