package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteTableDeviceTypes(t *testing.T) {
	routes := buildRoutes()

	for _, key := range []routeKey{
		{"camera", "remoteStartExposure"},
		{"mount", "remoteGoto"},
		{"focuser", "remoteMoveTo"},
		{"filterwheel", "remoteGoto"},
		{"guider", "remoteStartGuiding"},
		{"solver", "remoteSolveImage"},
		{"server", "remotePing"},
		{"server", "remoteDashboardSetup"},
		// Older spellings stay routable.
		{"telescope", "remoteGoto"},
		{"system", "remotePing"},
	} {
		_, ok := routes[key]
		assert.True(t, ok, "missing route %s/%s", key.Type, key.Event)
	}
}
