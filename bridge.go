package cowaybridge

import (
	"github.com/cloudkucooland/cowaybridge/config"
	"github.com/cloudkucooland/cowaybridge/coway"
	tfhc "github.com/cloudkucooland/cowaybridge/homecontrol"
	"github.com/cloudkucooland/cowaybridge/platform"
	"github.com/cloudkucooland/cowaybridge/tfhttp"
)

// BootstrapPlatforms sets up all the platforms.
// HomeControl goes before Coway, discovery hands accessories to it.
func BootstrapPlatforms(c *config.Config) {
	var h tfhttp.Platform
	platform.RegisterPlatform("HTTP", h)

	var hcp tfhc.HCPlatform
	platform.RegisterPlatform("HomeControl", hcp)

	var cp coway.Platform
	platform.RegisterPlatform("Coway", cp)

	platform.StartupAllPlatforms(c)
}

// StartHC is just a wrapper, no need to expose tfhc to the daemon
func StartHC(c *config.Config) error {
	return tfhc.StartHC(c)
}
