package workflow

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy 定义工作流级重试策略
// 纯值对象，无生命周期；NextDelay 是纯函数，固定随机种子下结果确定。
type RetryPolicy struct {
	// MaxRetries 最大重试次数（0 表示不重试）
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialDelay 初始延迟时间
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// MaxDelay 最大延迟时间
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// BackoffFactor 延迟时间倍增因子（指数退避）
	BackoffFactor float64 `json:"backoff_factor" yaml:"backoff_factor"`

	// Jitter 对称抖动比例，延迟在 ±Jitter 比例内随机扰动（防止雪崩）
	Jitter float64 `json:"jitter" yaml:"jitter"`
}

// DefaultRetryPolicy returns the default workflow-level retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.1,
	}
}

// Normalize clamps invalid values to safe defaults.
func (p RetryPolicy) Normalize() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.BackoffFactor < 1.0 {
		p.BackoffFactor = 2.0
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0.1
	}
	return p
}

// NextDelay computes the backoff delay before retry number attempt.
// attempt is 1-indexed: the first retry uses attempt=1.
//
//	delay = min(initial_delay * backoff_factor^(attempt-1), max_delay)
//	delay += delay * jitter * (2*rand()-1)
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	return p.NextDelayRand(attempt, nil)
}

// NextDelayRand is NextDelay with an explicit random source, deterministic
// under a fixed seed. A nil source falls back to the shared package source.
func (p RetryPolicy) NextDelayRand(attempt int, rng *rand.Rand) time.Duration {
	p = p.Normalize()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		delay += delay * p.Jitter * (2*randFloat(rng) - 1)
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

var (
	sharedRandMu sync.Mutex
	sharedRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randFloat(rng *rand.Rand) float64 {
	if rng != nil {
		return rng.Float64()
	}
	sharedRandMu.Lock()
	defer sharedRandMu.Unlock()
	return sharedRand.Float64()
}
