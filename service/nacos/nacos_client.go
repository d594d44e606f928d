package nacos

import (
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

type Config struct {
	Host      string
	Port      uint64
	Namespace string
	Username  string
	Password  string
	DataID    string
	Group     string
	LogLevel  string
	CacheDir  string
	LogDir    string
}

func NewConfigClient(c Config) (config_client.IConfigClient, error) {
	return clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  clientConfig(c),
		ServerConfigs: []constant.ServerConfig{*constant.NewServerConfig(c.Host, c.Port)},
	})
}

func clientConfig(c Config) *constant.ClientConfig {
	level := c.LogLevel
	if level == "" {
		level = "warn"
	}
	opts := []constant.ClientOption{
		constant.WithNamespaceId(c.Namespace),
		constant.WithTimeoutMs(5000),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel(level),
	}
	if c.CacheDir != "" {
		opts = append(opts, constant.WithCacheDir(c.CacheDir))
	}
	if c.LogDir != "" {
		opts = append(opts, constant.WithLogDir(c.LogDir))
	}
	if c.Username != "" {
		opts = append(opts, constant.WithUsername(c.Username), constant.WithPassword(c.Password))
	}
	return constant.NewClientConfig(opts...)
}
