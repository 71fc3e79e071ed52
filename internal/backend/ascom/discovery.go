package ascom

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/errs"
)

// Alpaca discovery protocol constants. A client broadcasts the discovery
// message to UDP 32227 and every Alpaca server answers with its API port.
const (
	DiscoveryPort    = 32227
	discoveryMessage = "alpacadiscovery1"
)

// DiscoveredServer is one Alpaca server found on the local network.
type DiscoveredServer struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Discover broadcasts an Alpaca discovery request and collects responses
// until the wait window closes. A quiet network returns an empty slice,
// not an error.
func Discover(ctx context.Context, wait time.Duration, logger *zap.Logger) ([]DiscoveredServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, errs.Wrap(errs.NetworkError, err, "opening discovery socket")
	}
	defer conn.Close()

	broadcast := &net.UDPAddr{IP: net.IPv4bcast, Port: DiscoveryPort}
	if _, err := conn.WriteToUDP([]byte(discoveryMessage), broadcast); err != nil {
		return nil, errs.Wrap(errs.NetworkError, err, "broadcasting discovery request")
	}

	deadline := time.Now().Add(wait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	seen := make(map[string]struct{})
	var servers []DiscoveredServer
	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			return servers, errs.Wrap(errs.NetworkError, err, "reading discovery responses")
		}
		var resp struct {
			AlpacaPort int `json:"AlpacaPort"`
		}
		if err := json.Unmarshal(buf[:n], &resp); err != nil || resp.AlpacaPort == 0 {
			continue
		}
		host := addr.IP.String()
		key := net.JoinHostPort(host, "")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		servers = append(servers, DiscoveredServer{Host: host, Port: resp.AlpacaPort})
		logger.Debug("alpaca server discovered",
			zap.String("host", host), zap.Int("port", resp.AlpacaPort))
	}
	return servers, nil
}
