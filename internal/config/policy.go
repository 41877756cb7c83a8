package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MembershipPolicy controls family-membership limits and the async CRM
// retry behavior. It is operator-tunable without a redeploy.
type MembershipPolicy struct {
	// HardMaxDependents is a non-purchasable ceiling on dependents per
	// account, enforced independently of purchased slots.
	HardMaxDependents int           `mapstructure:"hardMaxDependents"`
	SyncRetryDelay    time.Duration `mapstructure:"syncRetryDelay"`
	SyncMaxAttempts   int           `mapstructure:"syncMaxAttempts"`
	WorkerInterval    time.Duration `mapstructure:"workerInterval"`
	WorkerBatchSize   int           `mapstructure:"workerBatchSize"`
}

func DefaultMembershipPolicy() MembershipPolicy {
	return MembershipPolicy{
		HardMaxDependents: 5,
		SyncRetryDelay:    5 * time.Minute,
		SyncMaxAttempts:   10,
		WorkerInterval:    30 * time.Second,
		WorkerBatchSize:   20,
	}
}

// PolicyHolder exposes the current membership policy with hot reload.
type PolicyHolder struct {
	current atomic.Value // holds MembershipPolicy
}

func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("membership")
	v.SetConfigType("yml")
	if file := strings.TrimSpace(cfg.PolicyFile); file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath("/var/lib/famlink/config")
		v.AddConfigPath("/etc/famlink")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FAMLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMembershipPolicy()
	v.SetDefault("membership.hardMaxDependents", defaults.HardMaxDependents)
	v.SetDefault("membership.syncRetryDelay", defaults.SyncRetryDelay)
	v.SetDefault("membership.syncMaxAttempts", defaults.SyncMaxAttempts)
	v.SetDefault("membership.workerInterval", defaults.WorkerInterval)
	v.SetDefault("membership.workerBatchSize", defaults.WorkerBatchSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy MembershipPolicy
	if err := v.UnmarshalKey("membership", &policy); err != nil {
		return nil, err
	}
	if err := validateMembershipPolicy(policy); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(policy)

	if v.ConfigFileUsed() == "" {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MembershipPolicy
		if err := v.UnmarshalKey("membership", &updated); err != nil {
			log.Printf("[membership-policy] reload failed: %v", err)
			return
		}
		if err := validateMembershipPolicy(updated); err != nil {
			log.Printf("[membership-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[membership-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder wraps a fixed policy, mainly for tests.
func NewStaticPolicyHolder(policy MembershipPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *PolicyHolder) Get() MembershipPolicy {
	return h.current.Load().(MembershipPolicy)
}

func validateMembershipPolicy(policy MembershipPolicy) error {
	if policy.HardMaxDependents <= 0 {
		return errors.New("membership.hardMaxDependents must be positive")
	}
	if policy.SyncRetryDelay <= 0 {
		return errors.New("membership.syncRetryDelay must be positive")
	}
	if policy.SyncMaxAttempts <= 0 {
		return errors.New("membership.syncMaxAttempts must be positive")
	}
	if policy.WorkerInterval <= 0 {
		return errors.New("membership.workerInterval must be positive")
	}
	if policy.WorkerBatchSize <= 0 {
		return errors.New("membership.workerBatchSize must be positive")
	}
	return nil
}
