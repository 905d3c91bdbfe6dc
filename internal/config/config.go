package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"` // `mapstructure` 标签用于Viper绑定结构体
	Backend  BackendConfig  `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Uploader UploaderConfig `mapstructure:"uploader"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 本地控制 API 配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// BackendConfig 内容后端 API 配置
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"` // Bearer 凭证，由外层应用下发
	ChunkSize      int64         `mapstructure:"chunk_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryMax       int           `mapstructure:"retry_max"`
}

// SQLiteConfig 本地持久化存储配置
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// UploaderConfig 上传会话管理器配置
type UploaderConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`     // URL 抓取进度轮询间隔
	SuccessRetention time.Duration `mapstructure:"success_retention"` // success 记录保留时长
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`    // 过期记录清理间隔
}

// LogConfig zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

var AppConfig *Config // 全局应用配置实例

// LoadConfig 加载配置
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")              // 配置文件名 (不带扩展名)
	viper.SetConfigType("yaml")                // 配置文件类型
	viper.AddConfigPath(".")                   // 在当前目录查找配置文件
	viper.AddConfigPath("./configs")           // 也可以添加其他路径
	viper.AddConfigPath("/etc/go-uploadpipe/") // 生产环境常见路径

	// 读取环境变量，例如 UPLOADPIPE_SERVER_PORT 对应 server.port
	viper.SetEnvPrefix("UPLOADPIPE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 1. 设置默认值 (配置文件和环境变量中都没有时使用)
	viper.SetDefault("server.port", "8090")
	viper.SetDefault("backend.chunk_size", 2*1024*1024) // 2 MiB
	viper.SetDefault("backend.request_timeout", 30*time.Second)
	viper.SetDefault("backend.retry_max", 0) // 分片错误不做透明重试，由用户显式重试
	viper.SetDefault("sqlite.path", "./data/uploadpipe.db")
	viper.SetDefault("uploader.poll_interval", 2*time.Second)
	viper.SetDefault("uploader.success_retention", 10*time.Minute)
	viper.SetDefault("uploader.sweep_interval", time.Minute)
	viper.SetDefault("log.output_path", "logs/app.log")
	viper.SetDefault("log.error_path", "logs/error.log")
	viper.SetDefault("log.level", "info")

	// 2. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 配置文件未找到不是致命错误，依赖环境变量和默认值即可
			log.Println("Warning: config file not found, using environment variables or default values.")
		} else {
			log.Printf("Fatal error reading config file: %s \n", err)
			return nil, err
		}
	}

	// 3. 将读取到的配置绑定到结构体
	AppConfig = &Config{}
	if err := viper.Unmarshal(AppConfig); err != nil {
		log.Printf("Fatal error unmarshaling config: %s \n", err)
		return nil, err
	}

	return AppConfig, nil
}
