package coway

import (
	"context"
	"sync"
	"time"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/config"
	"github.com/cloudkucooland/cowaybridge/iocare"
	"github.com/cloudkucooland/cowaybridge/mirror"
	"github.com/cloudkucooland/cowaybridge/platform"
	"github.com/cloudkucooland/cowaybridge/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

const startupTimeout = 2 * time.Minute

// Registry holds the bridge metrics, served on /metrics
var Registry = prometheus.NewRegistry()

var metrics = NewMetrics()

func init() {
	Registry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Platform is the handle registered with the platform bootstrap
type Platform struct {
	Running bool
}

var (
	mu      sync.Mutex
	running *Orchestrator
	cancel  context.CancelFunc
	stopped chan struct{}
	cache   *store.Store
	mqtt    *mirror.Mirror
)

// Startup signs in, restores the cache, discovers the account's devices and hands them to HomeControl
func (p Platform) Startup(c *config.Config) platform.Control {
	if !c.Coway.Enabled() {
		log.Warn().Msg("coway username or password not configured, Coway platform disabled")
		return p
	}

	ctx, done := context.WithTimeout(context.Background(), startupTimeout)
	defer done()

	var opts Options
	st, err := store.Open(c.Database.Path)
	if err != nil {
		log.Error().Err(err).Str("path", c.Database.Path).Msg("unable to open accessory cache, continuing without it")
	} else {
		opts.Cache = st
	}

	client := iocare.New(iocare.Config{
		SignInURL:   c.Coway.Endpoints.SignIn,
		RedirectURL: c.Coway.Endpoints.Redirect,
		APIURL:      c.Coway.Endpoints.API,
		PageSize:    c.Coway.PageSize,
		RateLimit:   c.Coway.RateLimitRPS,
		Timeout:     c.Coway.Timeout.Duration(),
	}, iocare.Credentials{Username: c.Coway.Username, Password: c.Coway.Password})

	if _, err := client.SignIn(ctx); err != nil {
		log.Error().Err(err).Msg("coway sign-in failed, Coway platform disabled")
		if st != nil {
			st.Close()
		}
		return p
	}

	var m *mirror.Mirror
	if c.MQTT.Broker != "" {
		if m, err = mirror.Open(c.MQTT); err != nil {
			log.Warn().Err(err).Str("broker", c.MQTT.Broker).Msg("mqtt mirror disabled")
			m = nil
		} else {
			opts.Mirror = m
		}
	}

	if hp, ok := platform.GetPlatform("HomeControl"); ok {
		if h, ok := hp.(Host); ok {
			opts.Host = h
		}
	}

	opts.Metrics = metrics
	opts.PollInterval = c.Coway.PollInterval.Duration()
	opts.Accessory = accessory.Options{
		MaximumSkips: c.Coway.CommandMaxSkips,
		Timeout:      c.Coway.Timeout.Duration(),
	}

	o := New(client, opts)
	if err := o.Restore(); err != nil {
		log.Warn().Err(err).Msg("accessory cache not restored")
	}
	if err := o.Discover(ctx); err != nil {
		log.Error().Err(err).Msg("coway discovery failed")
	}
	o.Register()
	if err := o.PollOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("initial poll failed")
	}

	mu.Lock()
	running, cache, mqtt = o, st, m
	mu.Unlock()

	p.Running = true
	return p
}

// Background starts the poll loop
func (p Platform) Background() {
	mu.Lock()
	defer mu.Unlock()
	if running == nil || cancel != nil {
		return
	}
	ctx, c := context.WithCancel(context.Background())
	cancel = c
	stopped = make(chan struct{})
	go func(o *Orchestrator, done chan struct{}) {
		o.Run(ctx)
		close(done)
	}(running, stopped)
}

// Shutdown stops polling and closes the cache and the mirror
func (p Platform) Shutdown() platform.Control {
	mu.Lock()
	defer mu.Unlock()
	if cancel != nil {
		cancel()
		<-stopped
		cancel = nil
	}
	if mqtt != nil {
		mqtt.Close()
		mqtt = nil
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			log.Warn().Err(err).Msg("closing accessory cache")
		}
		cache = nil
	}
	running = nil
	p.Running = false
	return p
}

// AddAccessory - Coway accessories come from discovery, just satisfies the Platform interface
func (p Platform) AddAccessory(a *accessory.Accessory) {}

// GetAccessory looks up a discovered device by name or uuid
func (p Platform) GetAccessory(name string) (*accessory.Accessory, bool) {
	mu.Lock()
	o := running
	mu.Unlock()
	if o == nil {
		return nil, false
	}
	for _, a := range o.Accessories() {
		if a.Name() == name || a.UUID.String() == name {
			return a, true
		}
	}
	return nil, false
}

// Status summarizes the running platform's accessories, empty when it is not running
func Status() []AccessoryStatus {
	mu.Lock()
	o := running
	mu.Unlock()
	if o == nil {
		return []AccessoryStatus{}
	}
	return o.Status()
}
