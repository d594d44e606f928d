package concat

import (
	"WaRelay/tools/errs"
	"time"
)

const (
	DefaultIdleWindow    = 60 * time.Second
	DefaultTTLCeiling    = 68 * time.Second
	DefaultMaxMessages   = 10
	DefaultSweepInterval = 5 * time.Second
	DefaultSweepBatch    = 256
	DefaultLockTTL       = 10 * time.Second

	minIdleWindow  = time.Second
	maxIdleWindow  = 10 * time.Minute
	maxMaxMessages = 100
)

type Config struct {
	IdleWindow    time.Duration `yaml:"idleWindow" mapstructure:"idleWindow"`
	TTLCeiling    time.Duration `yaml:"ttlCeiling" mapstructure:"ttlCeiling"`
	MaxMessages   int           `yaml:"maxMessages" mapstructure:"maxMessages"`
	SweepInterval time.Duration `yaml:"sweepInterval" mapstructure:"sweepInterval"`
	SweepBatch    int           `yaml:"sweepBatch" mapstructure:"sweepBatch"`
	LockTTL       time.Duration `yaml:"lockTTL" mapstructure:"lockTTL"`
	// SameTypeOnly=false 时类型变化不触发 finalize
	SameTypeOnly bool `yaml:"sameTypeOnly" mapstructure:"sameTypeOnly"`
	// Location 渲染 [HH:MM] 用的时区，空为 Local
	Location string `yaml:"location" mapstructure:"location"`
}

func DefaultConfig() Config {
	return Config{
		IdleWindow:    DefaultIdleWindow,
		TTLCeiling:    DefaultTTLCeiling,
		MaxMessages:   DefaultMaxMessages,
		SweepInterval: DefaultSweepInterval,
		SweepBatch:    DefaultSweepBatch,
		LockTTL:       DefaultLockTTL,
		SameTypeOnly:  true,
	}
}

// Validate 检查窗口关系：TTL > window，且 sweep 间隔小于两者之差
func (c Config) Validate() error {
	if c.IdleWindow < minIdleWindow || c.IdleWindow > maxIdleWindow {
		return errs.ErrArgs.WrapMsg("idle window out of range", "idleWindow", c.IdleWindow)
	}
	if c.TTLCeiling <= c.IdleWindow {
		return errs.ErrArgs.WrapMsg("ttl ceiling must exceed idle window", "ttlCeiling", c.TTLCeiling, "idleWindow", c.IdleWindow)
	}
	if c.SweepInterval <= 0 || c.SweepInterval >= c.TTLCeiling-c.IdleWindow {
		return errs.ErrArgs.WrapMsg("sweep interval must be below ttl headroom", "sweepInterval", c.SweepInterval, "headroom", c.TTLCeiling-c.IdleWindow)
	}
	if c.MaxMessages < 1 || c.MaxMessages > maxMaxMessages {
		return errs.ErrArgs.WrapMsg("max messages out of range", "maxMessages", c.MaxMessages)
	}
	if c.SweepBatch <= 0 {
		return errs.ErrArgs.WrapMsg("sweep batch must be positive", "sweepBatch", c.SweepBatch)
	}
	if c.LockTTL <= 0 {
		return errs.ErrArgs.WrapMsg("lock ttl must be positive", "lockTTL", c.LockTTL)
	}
	if _, err := c.location(); err != nil {
		return errs.ErrArgs.WrapMsg("unknown location", "location", c.Location)
	}
	return nil
}

func (c Config) location() (*time.Location, error) {
	if c.Location == "" || c.Location == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Location)
}
