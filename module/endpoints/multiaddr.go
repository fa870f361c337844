package endpoints

import (
	"fmt"

	"github.com/multiformats/go-multiaddr"
	log2 "github.com/rs/zerolog/log"
)

// EndpointsFromMultiaddrs converts advertised multiaddresses to HTTP(S) base
// URLs, discarding addresses that carry no usable HTTP transport.
func EndpointsFromMultiaddrs(addrs []string) []string {
	endpoints := make([]string, 0, len(addrs))

	for _, addr := range addrs {
		if endpoint, ok := endpointFromMultiaddr(addr); ok {
			endpoints = append(endpoints, endpoint)
		}
	}

	return endpoints
}

func endpointFromMultiaddr(addr string) (string, bool) {
	log := log2.With().Str("module", "endpoints").Logger()

	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("failed to parse multiaddr")
		return "", false
	}

	var scheme, host, port string
	var isTCP bool

	multiaddr.ForEach(maddr, func(component multiaddr.Component) bool {
		switch component.Protocol().Code {
		case multiaddr.P_DNS, multiaddr.P_DNS4, multiaddr.P_DNS6, multiaddr.P_IP4, multiaddr.P_IP6:
			host = component.Value()
		case multiaddr.P_TCP:
			if port == "" {
				port = component.Value()
			}
			isTCP = true
		case multiaddr.P_UDP:
			if port == "" {
				port = component.Value()
			}
		case multiaddr.P_HTTP:
			scheme = "http"
		case multiaddr.P_HTTPS:
			scheme = "https"
		}
		return true
	})

	// A bare /ip4/x/tcp/8080 with no explicit protocol is treated as HTTP.
	// UDP transports never are.
	if scheme == "" && host != "" && port != "" && isTCP {
		scheme = "http"
	}

	if scheme == "" || host == "" || port == "" {
		return "", false
	}

	return fmt.Sprintf("%s://%s:%s", scheme, host, port), true
}
