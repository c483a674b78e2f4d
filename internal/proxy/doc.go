// Package proxy supplies upstream proxies for outgoing requests.
//
// A Source returns the proxy for each new transfer. ListSource rotates
// through a file of proxies, either round-robin or at random. TorSource
// starts an embedded Tor daemon with tornago and always returns its
// SOCKS5 address.
//
// HTTP proxies are used through net/http's own proxy support. SOCKS5
// proxies are dialed with golang.org/x/net/proxy.
package proxy
