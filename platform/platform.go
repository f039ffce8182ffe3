package platform

import (
	"sync"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/config"

	"github.com/rs/zerolog/log"
)

// Control is the interface which all platforms must satisfy
type Control interface {
	Startup(*config.Config) Control
	Background()
	Shutdown() Control
	AddAccessory(*accessory.Accessory)
	GetAccessory(string) (*accessory.Accessory, bool)
}

var (
	mu        sync.Mutex
	platforms = make(map[string]Control)
	order     []string // registration order, startup follows it and shutdown reverses it
)

// RegisterPlatform is called whenever a new platform is instantiated
func RegisterPlatform(name string, control Control) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := platforms[name]; ok {
		return
	}
	platforms[name] = control
	order = append(order, name)
}

// GetPlatform looks up a registered platform by name
func GetPlatform(name string) (Control, bool) {
	mu.Lock()
	defer mu.Unlock()
	pc, ok := platforms[name]
	return pc, ok
}

// StartupAllPlatforms is called at process start to initialize all platforms
func StartupAllPlatforms(c *config.Config) {
	for _, name := range names() {
		log.Debug().Str("platform", name).Msg("starting up")
		p, _ := GetPlatform(name)
		started := p.Startup(c)
		mu.Lock()
		platforms[name] = started
		mu.Unlock()
	}
}

// Background starts the background processes for every platform
func Background() {
	for _, name := range names() {
		p, _ := GetPlatform(name)
		p.Background()
	}
}

// ShutdownAllPlatforms is called at process stop to shutdown all platforms
func ShutdownAllPlatforms() {
	n := names()
	for i := len(n) - 1; i >= 0; i-- {
		log.Info().Str("platform", n[i]).Msg("shutting down")
		p, _ := GetPlatform(n[i])
		stopped := p.Shutdown()
		mu.Lock()
		platforms[n[i]] = stopped
		mu.Unlock()
	}
}

// Reset forgets every platform, for tests
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	platforms = make(map[string]Control)
	order = nil
}

func names() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, len(order))
	copy(out, order)
	return out
}
