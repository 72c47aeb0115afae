package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
}

// Config defines session timing and reliability knobs.
type Config struct {
	StartTimeout   time.Duration
	WaitTimeout    time.Duration
	SleepThreshold time.Duration
	MaxRetries     int
	AcksThreshold  int
	PingInterval   time.Duration

	StoredMsgIDsMax int
	FutureSkew      time.Duration
	PastSkew        time.Duration

	ReconnectThreshold time.Duration
	ReconnectSleep     time.Duration
	RetryDelay         time.Duration
	ReconnectDelay     time.Duration

	// MaxResends bounds transparent resends after salt rotation or clock resync.
	MaxResends int
	// StartAttempts bounds the Starting retry loop; 0 retries until the context ends.
	StartAttempts int
	Backoff       BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		StartTimeout:       2 * time.Second,
		WaitTimeout:        15 * time.Second,
		SleepThreshold:     10 * time.Second,
		MaxRetries:         10,
		AcksThreshold:      10,
		PingInterval:       5 * time.Second,
		StoredMsgIDsMax:    2000,
		FutureSkew:         30 * time.Second,
		PastSkew:           300 * time.Second,
		ReconnectThreshold: 10 * time.Second,
		ReconnectSleep:     5 * time.Second,
		RetryDelay:         500 * time.Millisecond,
		ReconnectDelay:     time.Second,
		MaxResends:         3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	setDur := func(v *time.Duration, def time.Duration) {
		if *v == 0 {
			*v = def
		}
	}
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setDur(&c.StartTimeout, d.StartTimeout)
	setDur(&c.WaitTimeout, d.WaitTimeout)
	setDur(&c.SleepThreshold, d.SleepThreshold)
	setInt(&c.MaxRetries, d.MaxRetries)
	setInt(&c.AcksThreshold, d.AcksThreshold)
	setDur(&c.PingInterval, d.PingInterval)
	setInt(&c.StoredMsgIDsMax, d.StoredMsgIDsMax)
	setDur(&c.FutureSkew, d.FutureSkew)
	setDur(&c.PastSkew, d.PastSkew)
	setDur(&c.ReconnectThreshold, d.ReconnectThreshold)
	setDur(&c.ReconnectSleep, d.ReconnectSleep)
	setDur(&c.RetryDelay, d.RetryDelay)
	setDur(&c.ReconnectDelay, d.ReconnectDelay)
	setInt(&c.MaxResends, d.MaxResends)
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	return c
}

// disconnectDelay is the server-side idle cutoff announced with each keep-alive.
func (c Config) disconnectDelay() int32 {
	return int32((c.WaitTimeout + 10*time.Second) / time.Second)
}
