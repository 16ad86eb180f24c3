package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config 结构体定义了应用程序的配置结构
type Config struct {
	Email struct {
		Enabled       bool     `json:"enabled"`
		Server        string   `json:"server" validate:"required_if=Enabled true"`   // IMAP服务器地址(含端口)
		Username      string   `json:"username" validate:"required_if=Enabled true"` // 邮箱用户名
		Password      string   `json:"password"`                                     // 邮箱密码/授权码
		TargetSubject string   `json:"target_subject"`                               // 原始数据邮件主题关键词
		CheckInterval Duration `json:"check_interval"`                               // 定时任务间隔
	} `json:"email"`

	DataDir     string `json:"data_dir"`                          // 数据目录
	RawFile     string `json:"raw_file" validate:"required"`      // 原始宽表(csv/xlsx)
	CleanedFile string `json:"cleaned_file" validate:"required"`  // 清洗后的csv
	ExcelFile   string `json:"excel_file"`                        // 清洗后的xlsx副本，空则不导出
	SheetName   string `json:"sheet_name"`                        // 读取xlsx时的工作表
	Encoding    string `json:"encoding" validate:"omitempty,oneof=utf-8 windows-1252 latin1"`
	LogName     string `json:"log_name"`
	LogMaxSize  string `json:"log_max_size"` // 例如 "10 * 1024 * 1024"
	PidFile     string `json:"pid_file"`

	Server struct {
		Addr string `json:"addr"`
	} `json:"server"`

	SendEmail struct {
		Enabled  bool     `json:"enabled"`
		Server   string   `json:"server" validate:"required_if=Enabled true"`   // SMTP服务器地址
		Username string   `json:"username" validate:"required_if=Enabled true"` // 发件邮箱
		Password string   `json:"password"`
		To       []string `json:"to" validate:"required_if=Enabled true"`
		Subject  string   `json:"subject"`
	} `json:"send_email"`

	DingTalk struct {
		Enabled bool   `json:"enabled"`
		Webhook string `json:"webhook" validate:"required_if=Enabled true"`
		Secret  string `json:"secret"`
	} `json:"dingtalk"`
}

// DataConfig 数据清洗与看板相关的规则
type DataConfig struct {
	MaxMissingRatio  *float64 `json:"max_missing_ratio" validate:"omitempty,gte=0,lte=1"`
	MaxCompareCities int      `json:"max_compare_cities" validate:"gte=0"`
	NAValues         []string `json:"na_values"`
	DefaultRange     struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"default_range"`
}

const (
	DefaultLogName          = "app.log"
	DefaultLogMaxSize       = "10 * 1024 * 1024"
	DefaultPidFile          = "apartment-finder.pid"
	DefaultAddr             = ":8080"
	DefaultCheckInterval    = time.Hour
	DefaultMaxMissingRatio  = 0.80
	DefaultMaxCompareCities = 3
	DefaultRangeFrom        = "2010-02"
	DefaultRangeTo          = "2019-12"
)

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	mu                 sync.RWMutex
	validate           = validator.New()
)

func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	var err error
	once.Do(func() {
		instance, dataConfigInstance, err = loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, err
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	// .env 不存在时沿用系统环境变量
	_ = godotenv.Load(filepath.Join(jsonFolder, ".env"))
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := validate.Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("校验Config失败: %w", err)
	}
	if err := validate.Struct(dcfg); err != nil {
		return nil, nil, fmt.Errorf("校验DataConfig失败: %w", err)
	}

	return cfg, dcfg, nil
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	resultChan <- &cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	var dcfg DataConfig
	if err := json.Unmarshal(data, &dcfg); err != nil {
		errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
		return
	}
	resultChan <- &dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg    *Config
		dcfg   *DataConfig
		errors []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return nil, nil, combineErrors(errors)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

// applyEnv 用环境变量覆盖敏感字段和监听地址
func (c *Config) applyEnv() {
	c.Email.Password = getEnv("APARTMENT_EMAIL_PASSWORD", c.Email.Password)
	c.SendEmail.Password = getEnv("APARTMENT_SMTP_PASSWORD", c.SendEmail.Password)
	c.DingTalk.Secret = getEnv("APARTMENT_DINGTALK_SECRET", c.DingTalk.Secret)
	c.Server.Addr = getEnv("APARTMENT_ADDR", c.Server.Addr)
}

func (c *Config) applyDefaults() {
	if c.LogName == "" {
		c.LogName = DefaultLogName
	}
	if c.LogMaxSize == "" {
		c.LogMaxSize = DefaultLogMaxSize
	}
	if c.PidFile == "" {
		c.PidFile = DefaultPidFile
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Email.CheckInterval <= 0 {
		c.Email.CheckInterval = Duration(DefaultCheckInterval)
	}
	if c.DataDir != "" {
		c.RawFile = inDataDir(c.DataDir, c.RawFile)
		c.CleanedFile = inDataDir(c.DataDir, c.CleanedFile)
		c.ExcelFile = inDataDir(c.DataDir, c.ExcelFile)
	}
}

// inDataDir 相对路径拼接到数据目录下
func inDataDir(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (dc *DataConfig) GetMaxMissingRatio() float64 {
	mu.RLock()
	defer mu.RUnlock()
	if dc.MaxMissingRatio == nil {
		return DefaultMaxMissingRatio
	}
	return *dc.MaxMissingRatio
}

func (dc *DataConfig) SetMaxMissingRatio(ratio float64) {
	mu.Lock()
	defer mu.Unlock()
	dc.MaxMissingRatio = &ratio
}

func (dc *DataConfig) GetMaxCompareCities() int {
	mu.RLock()
	defer mu.RUnlock()
	if dc.MaxCompareCities <= 0 {
		return DefaultMaxCompareCities
	}
	return dc.MaxCompareCities
}

func (dc *DataConfig) GetNAValues() []string {
	mu.RLock()
	defer mu.RUnlock()
	if len(dc.NAValues) == 0 {
		return []string{"", "NA", "NaN", "nan", "<nil>", "null"}
	}
	return append([]string(nil), dc.NAValues...)
}

// GetDefaultRange 返回看板默认日期区间(YYYY-MM)
func (dc *DataConfig) GetDefaultRange() (string, string) {
	mu.RLock()
	defer mu.RUnlock()
	from, to := dc.DefaultRange.From, dc.DefaultRange.To
	if from == "" {
		from = DefaultRangeFrom
	}
	if to == "" {
		to = DefaultRangeTo
	}
	return from, to
}
