package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ald-reactor/internal/recipe"
	"ald-reactor/internal/types"

	"github.com/spf13/viper"
)

// Config 定义应用程序的配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	ListenAddr string                       `mapstructure:"listen_addr"` // API 和前端服务监听地址
	RunLogDir  string                       `mapstructure:"run_log_dir"` // 运行日志目录
	Log        LogConfig                    `mapstructure:"log"`
	Actuator   ActuatorConfig               `mapstructure:"actuator"`
	Carrier    CarrierConfig                `mapstructure:"carrier"`
	Policy     PolicyConfig                 `mapstructure:"policy"`
	Defaults   DefaultsConfig               `mapstructure:"defaults"` // 启动时的参数表单
	Recipes    map[recipe.Kind]RecipeConfig `mapstructure:"recipes"`  // 按配方覆盖，Key 为配方类型 ID
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string `mapstructure:"level"`   // debug / info / warn / error
	Journal bool   `mapstructure:"journal"` // 是否同时写入 systemd journal
}

// ActuatorConfig 继电器板 / 射频电源驱动配置
type ActuatorConfig struct {
	Driver     string             `mapstructure:"driver"`      // simulated 或 remote
	RemoteAddr string             `mapstructure:"remote_addr"` // relay-gateway 地址
	TimeoutMs  int                `mapstructure:"timeout_ms"`  // 单条命令超时
	Lines      map[types.Line]int `mapstructure:"lines"`       // 气路 -> 继电器通道 (1..4)
}

// Timeout 返回单条命令超时
func (c ActuatorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CarrierConfig 载气 (Ar) 的驱动方式
type CarrierConfig struct {
	Driver     string `mapstructure:"driver"`      // relay: 与前驱体同一块继电器板；mks: MKS 流量控制器；none: 不控制
	SerialPort string `mapstructure:"serial_port"` // mks 串口，如 /dev/ttyUSB0
	Channel    int    `mapstructure:"channel"`     // mks 通道 (1..4)
}

// PolicyConfig 故障处理策略
type PolicyConfig struct {
	AbortOnActuatorFailure bool `mapstructure:"abort_on_actuator_failure"`
}

// DefaultsConfig 是参数表单的初始值，t1 以毫秒填写
type DefaultsConfig struct {
	Pulse1Ms     float64 `mapstructure:"t1_ms"`
	Purge1       float64 `mapstructure:"p1"`
	Pulse2       float64 `mapstructure:"t2"`
	Purge2       float64 `mapstructure:"p2"`
	Cycles       int     `mapstructure:"n"`
	InnerRepeats int     `mapstructure:"n2"`
	PlasmaPowerW float64 `mapstructure:"plasma_w"`
	Precursor1   string  `mapstructure:"precursor1"`
	Precursor2   string  `mapstructure:"precursor2"`
	CutCarrier   bool    `mapstructure:"cut_carrier"`
}

// Params 将默认值转换为配方参数
func (d DefaultsConfig) Params() types.Params {
	return types.Params{
		Pulse1:                 types.PulseFromMillis(d.Pulse1Ms),
		Purge1:                 d.Purge1,
		Pulse2:                 d.Pulse2,
		Purge2:                 d.Purge2,
		Cycles:                 d.Cycles,
		InnerRepeats:           d.InnerRepeats,
		PlasmaPowerW:           d.PlasmaPowerW,
		Precursor1:             d.Precursor1,
		Precursor2:             d.Precursor2,
		CutCarrierDuringPulse2: d.CutCarrier,
	}
}

// RecipeConfig 按配方覆盖运行前等待
type RecipeConfig struct {
	WaitS                 float64 `mapstructure:"wait_s"`
	IncludeWaitInEstimate bool    `mapstructure:"include_wait_in_estimate"`
}

// Wait 返回运行前等待时长
func (c RecipeConfig) Wait() time.Duration {
	return types.Seconds(c.WaitS)
}

// LoadConfig 读取配置文件，path 为空时在当前目录查找 config.yaml
// 环境变量 REACTOR_<KEY> 覆盖文件中的值 (如 REACTOR_ACTUATOR_DRIVER)
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // 配置文件名称 (不带扩展名)
		v.SetConfigType("yaml")   // 配置文件类型
		v.AddConfigPath(".")      // 查找配置文件的路径 (当前目录)
	}

	v.SetEnvPrefix("REACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("run_log_dir", "Logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.journal", false)
	v.SetDefault("actuator.driver", "simulated")
	v.SetDefault("actuator.remote_addr", "http://localhost:9090")
	v.SetDefault("actuator.timeout_ms", 2000)
	v.SetDefault("carrier.driver", "relay")
	v.SetDefault("carrier.channel", 1)
	v.SetDefault("policy.abort_on_actuator_failure", false)
	v.SetDefault("defaults.n", 1)
	v.SetDefault("defaults.n2", 1)
	v.SetDefault("defaults.precursor1", "TEB")
	v.SetDefault("defaults.precursor2", "H2")

	// 读取配置文件，默认位置没有文件时只使用默认值
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 将配置解析到结构体中
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Actuator.Driver {
	case "simulated", "remote":
	default:
		return fmt.Errorf("actuator.driver: unknown driver %q", c.Actuator.Driver)
	}
	switch c.Carrier.Driver {
	case "relay", "none":
	case "mks":
		if c.Carrier.SerialPort == "" {
			return errors.New("carrier.serial_port is required for the mks driver")
		}
	default:
		return fmt.Errorf("carrier.driver: unknown driver %q", c.Carrier.Driver)
	}
	if c.Actuator.TimeoutMs <= 0 {
		return errors.New("actuator.timeout_ms must be > 0")
	}
	for kind, rc := range c.Recipes {
		if _, err := recipe.Get(kind); err != nil {
			return fmt.Errorf("recipes: %w", err)
		}
		if rc.WaitS < 0 {
			return fmt.Errorf("recipes.%s.wait_s must be >= 0", kind)
		}
	}
	if err := recipe.Validate(c.Defaults.Params()); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}
