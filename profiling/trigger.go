// Package profiling triggers on-demand sampling runs against goroutines
// whose operations turn out slow. Callers report operation latencies;
// when one exceeds the configured threshold, a sampling run starts for
// that goroutine's target, subject to a per-operation cooldown.
package profiling

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	stackprobe "github.com/fllarpy/stackprobe"
	"github.com/fllarpy/stackprobe/domain/profile"
)

type Config struct {
	Enabled          bool
	LatencyThreshold time.Duration
	Cooldown         time.Duration
	Params           profile.SamplingParams
}

// Trigger starts sampling runs for slow operations. A nil Trigger is
// valid and does nothing, so callers need not guard for the disabled
// case.
type Trigger struct {
	config Config
	logger *logrus.Logger

	cooldownsLock sync.Mutex
	cooldowns     map[string]time.Time
}

func NewTrigger(config Config, logger *logrus.Logger) *Trigger {
	if !config.Enabled {
		return nil
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Trigger{
		config:    config,
		logger:    logger,
		cooldowns: make(map[string]time.Time),
	}
}

// SampleIfSlow starts a sampling run against target when elapsed exceeds
// the latency threshold. The name keys the cooldown; repeated slow
// reports for the same name within the cooldown window are ignored.
// Finished profiles land in the default sink.
func (t *Trigger) SampleIfSlow(target profile.TargetID, name string, elapsed time.Duration) {
	if t == nil || elapsed < t.config.LatencyThreshold {
		return
	}

	if t.isCoolingDown(name) {
		t.logger.WithField("operation", name).Debug("slow operation in cooldown, not sampling")
		return
	}

	t.logger.WithFields(logrus.Fields{
		"operation": name,
		"elapsed":   elapsed,
	}).Info("operation exceeded latency threshold, starting sampling run")
	t.setCooldown(name)

	stackprobe.NewProfiler(target, t.config.Params).Start()
}

func (t *Trigger) isCoolingDown(name string) bool {
	t.cooldownsLock.Lock()
	defer t.cooldownsLock.Unlock()

	if cooldownEnd, exists := t.cooldowns[name]; exists {
		if time.Now().Before(cooldownEnd) {
			return true
		}
		delete(t.cooldowns, name)
	}
	return false
}

func (t *Trigger) setCooldown(name string) {
	t.cooldownsLock.Lock()
	defer t.cooldownsLock.Unlock()

	t.cooldowns[name] = time.Now().Add(t.config.Cooldown)
}
