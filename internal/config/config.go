package config

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	apperrors "github.com/wfunc/prog28c/internal/errors"
)

// 传输方式
const (
	KindSerial   = "serial"
	KindEmulated = "emulated"
)

// Config 全局配置结构体
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Emulator  EmulatorConfig  `mapstructure:"emulator"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Demo      DemoConfig      `mapstructure:"demo"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`
}

// TransportConfig 传输方式选择
type TransportConfig struct {
	Kind string `mapstructure:"kind"` // serial 或 emulated
}

// SerialConfig 串口配置
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// EmulatorConfig 模拟器配置
type EmulatorConfig struct {
	Path string   `mapstructure:"path"`
	Args []string `mapstructure:"args"`
}

// ProtocolConfig 协议配置
type ProtocolConfig struct {
	Deadline time.Duration `mapstructure:"deadline"` // 0 表示一直等待提示符
}

// DemoConfig 演示命令配置
type DemoConfig struct {
	Commands []string `mapstructure:"commands"`
}

// HistoryConfig 交互历史存储配置
type HistoryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg *Config
	mu  sync.RWMutex
	v   *viper.Viper

	// overrides 命令行覆盖项，重载配置文件后重新应用
	overrides func(*Config)
)

// Load 读取配置（默认值 < 配置文件 < 环境变量）
func Load(configPath string) (*Config, error) {
	c, _, err := load(configPath)
	return c, err
}

func load(configPath string) (*Config, *viper.Viper, error) {
	vp := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		vp.SetConfigFile(configPath)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./config")
		vp.AddConfigPath(".")
	}

	// 设置环境变量前缀
	vp.SetEnvPrefix("PROG28C")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	if err := vp.ReadInConfig(); err != nil {
		// 如果配置文件不存在，使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, apperrors.Wrap(err, apperrors.ErrConfigLoad)
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrConfigParse)
	}

	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	return c, vp, nil
}

// Init 初始化全局配置
func Init(configPath string) error {
	c, vp, err := load(configPath)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = c
	v = vp
	overrides = nil
	return nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.kind", KindSerial)

	// 串口默认配置
	v.SetDefault("serial.port", "/dev/cu.usbmodem14101")
	v.SetDefault("serial.baud_rate", 38400)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.read_timeout", "100ms")

	// 模拟器默认配置
	v.SetDefault("emulator.path", "./bin/emulator")
	v.SetDefault("emulator.args", []string{})

	v.SetDefault("protocol.deadline", "0s")
	v.SetDefault("demo.commands", []string{"v", "h"})

	// 历史记录默认配置
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "./data/prog28c.db")
	v.SetDefault("history.log_level", "silent")

	// 日志默认配置
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "prog28c.log")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case KindSerial:
		if c.Serial.Port == "" {
			return apperrors.New(apperrors.ErrConfigValidate, "serial.port 不能为空")
		}
		if c.Serial.BaudRate <= 0 {
			return apperrors.Newf(apperrors.ErrConfigValidate, "serial.baud_rate 无效: %d", c.Serial.BaudRate)
		}
		if c.Serial.ReadTimeout < 0 {
			return apperrors.New(apperrors.ErrConfigValidate, "serial.read_timeout 不能为负数")
		}
	case KindEmulated:
		if c.Emulator.Path == "" {
			return apperrors.New(apperrors.ErrConfigValidate, "emulator.path 不能为空")
		}
	default:
		return apperrors.Newf(apperrors.ErrConfigValidate, "未知的传输方式: %q", c.Transport.Kind)
	}

	if c.Protocol.Deadline < 0 {
		return apperrors.New(apperrors.ErrConfigValidate, "protocol.deadline 不能为负数")
	}

	if c.History.Enabled && c.History.DSN == "" {
		return apperrors.New(apperrors.ErrConfigValidate, "history.dsn 不能为空")
	}

	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Override 在当前配置的副本上应用覆盖项并替换全局配置
//
// 覆盖项会被记住，配置文件重载时再次应用。校验失败时全局配置不变。
func Override(fn func(*Config)) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrConfigLoad, "配置尚未初始化")
	}
	next := *cfg
	fn(&next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	cfg = &next
	overrides = fn
	return cfg, nil
}

// Watch 监听配置文件变化
//
// 重载成功后调用 onChange，解析或校验失败时调用 onError 并保留旧配置。
func Watch(onChange func(*Config), onError func(error)) {
	mu.RLock()
	vp := v
	mu.RUnlock()
	if vp == nil || vp.ConfigFileUsed() == "" {
		return
	}

	vp.OnConfigChange(func(e fsnotify.Event) {
		newCfg, err := reload(vp)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onChange != nil {
			onChange(newCfg)
		}
	})
	vp.WatchConfig()
}

func reload(vp *viper.Viper) (*Config, error) {
	newCfg := &Config{}
	if err := vp.Unmarshal(newCfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfigParse, "重载配置")
	}

	mu.Lock()
	defer mu.Unlock()
	if overrides != nil {
		overrides(newCfg)
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}
	cfg = newCfg
	return newCfg, nil
}
