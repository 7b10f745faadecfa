package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"boqbalance/internal/model"
	"boqbalance/internal/service/calculator"
	"boqbalance/internal/service/matching"
)

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `toml:"server"`
	Data      DataConfig      `toml:"data"`
	Matching  MatchingConfig  `toml:"matching"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	Excel     ExcelConfig     `toml:"excel"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int  `toml:"port"`
	DevMode        bool `toml:"dev_mode"`
	RequestTimeout int  `toml:"request_timeout"` // 匹配与求解请求的超时秒数，0 表示不限
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir    string `toml:"data_dir"`
	AutoBackup bool   `toml:"auto_backup"`
}

// MatchingConfig 匹配配置
type MatchingConfig struct {
	MinScore    float64 `toml:"min_score"`
	AcceptScore float64 `toml:"accept_score"`
	TopN        int     `toml:"top_n"`
	Workers     int     `toml:"workers"` // 0 表示 CPU 核数
}

// OptimizerConfig 求解配置
type OptimizerConfig struct {
	MinCoeff float64 `toml:"min_coeff"`
	MaxCoeff float64 `toml:"max_coeff"`
	Lambda   float64 `toml:"lambda"`
	Adaptive bool    `toml:"adaptive"`

	calculator.AdaptiveConfig
}

// ExcelConfig Excel 导出相关配置
type ExcelConfig struct {
	CurrencyPlaces int `toml:"currency_places"`
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:           20261,
			DevMode:        false,
			RequestTimeout: 120,
		},
		Data: DataConfig{
			DataDir:    "data",
			AutoBackup: true,
		},
		Matching: MatchingConfig{
			MinScore:    0.3,
			AcceptScore: 0.6,
			TopN:        5,
		},
		Optimizer: OptimizerConfig{
			MinCoeff:       0.7,
			MaxCoeff:       1.3,
			Lambda:         1000,
			Adaptive:       true,
			AdaptiveConfig: calculator.DefaultAdaptiveConfig(),
		},
		Excel: ExcelConfig{
			CurrencyPlaces: 2,
		},
	}
}

// MatchingOptions 转换为匹配器参数
func (c *AppConfig) MatchingOptions() matching.Options {
	opts := matching.DefaultOptions()
	opts.MinScore = c.Matching.MinScore
	opts.AcceptScore = c.Matching.AcceptScore
	opts.TopN = c.Matching.TopN
	if c.Matching.Workers > 0 {
		opts.Workers = c.Matching.Workers
	}
	return opts
}

// OptimizeParams 新会话的默认求解参数
func (c *AppConfig) OptimizeParams() model.OptimizeParams {
	return model.OptimizeParams{
		Bounds: model.Bounds{Min: c.Optimizer.MinCoeff, Max: c.Optimizer.MaxCoeff},
		Lambda: c.Optimizer.Lambda,
	}
}

// Adjuster 自适应调整器；关闭自适应时返回 nil
func (c *AppConfig) Adjuster() *calculator.Adjuster {
	if !c.Optimizer.Adaptive {
		return nil
	}
	return calculator.NewAdjuster(c.Optimizer.AdaptiveConfig)
}

// Validate 校验配置，返回全部问题
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, errors.New("server.request_timeout must not be negative"))
	}
	if c.Data.DataDir == "" {
		errs = append(errs, errors.New("data.data_dir is required"))
	}
	if c.Matching.MinScore < 0 || c.Matching.MinScore > 1 {
		errs = append(errs, fmt.Errorf("matching.min_score %v must be within [0,1]", c.Matching.MinScore))
	}
	if c.Matching.AcceptScore < c.Matching.MinScore || c.Matching.AcceptScore > 1 {
		errs = append(errs, fmt.Errorf("matching.accept_score %v must be within [min_score,1]", c.Matching.AcceptScore))
	}
	if c.Matching.TopN <= 0 {
		errs = append(errs, errors.New("matching.top_n must be positive"))
	}
	if c.Matching.Workers < 0 {
		errs = append(errs, errors.New("matching.workers must not be negative"))
	}

	o := c.Optimizer
	if !finite(o.MinCoeff) || !finite(o.MaxCoeff) || o.MinCoeff < 0 || o.MinCoeff >= o.MaxCoeff {
		errs = append(errs, fmt.Errorf("optimizer bounds [%v,%v] invalid", o.MinCoeff, o.MaxCoeff))
	}
	if !finite(o.Lambda) || o.Lambda < 0 {
		errs = append(errs, fmt.Errorf("optimizer.lambda %v must be non-negative", o.Lambda))
	}
	if o.Adaptive && (o.MinLambda < 0 || o.MaxLambda < o.MinLambda) {
		errs = append(errs, fmt.Errorf("optimizer lambda range [%v,%v] invalid", o.MinLambda, o.MaxLambda))
	}

	if c.Excel.CurrencyPlaces < 0 || c.Excel.CurrencyPlaces > 6 {
		errs = append(errs, fmt.Errorf("excel.currency_places %d must be within [0,6]", c.Excel.CurrencyPlaces))
	}

	return errors.Join(errs...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// LoadConfigWithInfo 从 dir 下的 config.toml 加载配置并返回元信息。
// dir 为空时使用可执行文件所在目录。同目录的 .env 会先载入环境变量。
func LoadConfigWithInfo(dir string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{}
	config := DefaultConfig()

	if dir == "" {
		exeDir, err := GetExeDir()
		if err != nil {
			// 无法获取可执行文件目录，使用当前目录
			exeDir = "."
		}
		dir = exeDir
	}

	// .env 不覆盖已存在的环境变量
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, info, fmt.Errorf("load .env: %w", err)
	}

	info.Path = filepath.Join(dir, "config.toml")
	data, err := os.ReadFile(info.Path)
	switch {
	case err == nil:
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, fmt.Errorf("parse %s: %w", info.Path, err)
		}
	case os.IsNotExist(err):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	if err := applyEnv(config, &info); err != nil {
		return nil, info, err
	}
	return config, info, nil
}

// applyEnv 环境变量覆盖（用于 E2E / 本地运行）
func applyEnv(config *AppConfig, info *LoadConfigInfo) error {
	if v := os.Getenv("BOQ_DATA_DIR"); v != "" {
		config.Data.DataDir = v
	}
	if v := os.Getenv("BOQ_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BOQ_PORT: %w", err)
		}
		config.Server.Port = port
		info.PortSpecified = true
	}
	if v := os.Getenv("BOQ_LAMBDA"); v != "" {
		lambda, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BOQ_LAMBDA: %w", err)
		}
		config.Optimizer.Lambda = lambda
	}
	return nil
}

// LoadConfig 从可执行文件同目录的 config.toml 加载配置
func LoadConfig() (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo("")
	return config, err
}

// SaveConfig 保存配置到 path
func SaveConfig(config *AppConfig, path string) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureDataDir 确保数据目录存在。相对路径相对于可执行文件目录。
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		exeDir, err := GetExeDir()
		if err != nil {
			exeDir = "."
		}
		dataDir = filepath.Join(exeDir, dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	// 创建子目录
	subdirs := []string{"uploads", "backups"}
	for _, subdir := range subdirs {
		path := filepath.Join(dataDir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	}

	return dataDir, nil
}
