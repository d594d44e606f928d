package config

import (
	"WaRelay/module/concat"
	"WaRelay/tools/decode"
	"context"
	"sync"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Target 接收新配置（*concat.Engine 实现）
type Target interface {
	Config() concat.Config
	UpdateConfig(cfg concat.Config) error
}

type Watcher struct {
	client config_client.IConfigClient
	dataID string
	group  string
	target Target
	log    *zap.Logger

	mu      sync.RWMutex
	current string
}

func NewWatcher(client config_client.IConfigClient, dataID, group string, target Target, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{client: client, dataID: dataID, group: group, target: target, log: log}
}

// Start 先读一次再监听；ctx 结束时取消监听
func (w *Watcher) Start(ctx context.Context) error {
	param := vo.ConfigParam{DataId: w.dataID, Group: w.group}
	content, err := w.client.GetConfig(param)
	if err != nil {
		return err
	}
	if content != "" {
		w.Apply(content)
	}

	param.OnChange = func(namespace, group, dataId, data string) {
		w.log.Info("nacos config changed", zap.String("dataId", dataId), zap.String("group", group))
		w.Apply(data)
	}
	if err := w.client.ListenConfig(param); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = w.client.CancelListenConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	}()
	return nil
}

// Apply 解析 YAML 并覆盖到当前配置上；非法内容记录后忽略，旧配置继续生效
func (w *Watcher) Apply(data string) bool {
	cfg, err := Parse(data, w.target.Config())
	if err != nil {
		w.log.Warn("nacos config rejected", zap.Error(err))
		return false
	}
	if err := w.target.UpdateConfig(cfg); err != nil {
		w.log.Warn("nacos config invalid", zap.Error(err))
		return false
	}
	w.mu.Lock()
	w.current = data
	w.mu.Unlock()
	w.log.Info("concat config applied",
		zap.Duration("idleWindow", cfg.IdleWindow),
		zap.Duration("ttlCeiling", cfg.TTLCeiling),
		zap.Int("maxMessages", cfg.MaxMessages),
		zap.Bool("sameTypeOnly", cfg.SameTypeOnly))
	return true
}

func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Parse 支持顶层直接写字段，或放在 concat: 下
func Parse(data string, base concat.Config) (concat.Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(data), &raw); err != nil {
		return base, err
	}
	if sub, ok := raw["concat"].(map[string]any); ok {
		raw = sub
	}
	if raw == nil {
		return base, nil
	}
	out := base
	if err := decode.Into(raw, &out); err != nil {
		return base, err
	}
	return out, nil
}
