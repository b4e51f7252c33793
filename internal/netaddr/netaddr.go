// SPDX-License-Identifier: MPL-2.0

package netaddr

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrInvalidAddress is the sentinel error wrapped by InvalidAddressError.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrNetworkTooSmall is the sentinel error wrapped by NetworkTooSmallError.
	ErrNetworkTooSmall = errors.New("network too small")

	// ErrGatewayCollision is the sentinel error wrapped by GatewayCollisionError.
	ErrGatewayCollision = errors.New("gateway collides with jail address")
)

type (
	// Resolution is the outcome of resolving the jail's network parameters.
	Resolution struct {
		// Address is the jail address with its prefix length. Host bits are kept.
		Address netip.Prefix
		// Gateway is the default route for the jail.
		Gateway netip.Addr
		// GatewayOverridden is true when Gateway came from the operator.
		GatewayOverridden bool
	}

	// InvalidAddressError is returned when an address or gateway cannot be parsed.
	InvalidAddressError struct {
		// Value is the rejected input.
		Value string
		// Field names the input ("address" or "gateway").
		Field string
		// Reason is a short description of what is wrong.
		Reason string
	}

	// NetworkTooSmallError is returned when a default gateway is needed but
	// the prefix leaves no host address for it.
	NetworkTooSmallError struct {
		Prefix netip.Prefix
	}

	// GatewayCollisionError is returned when the computed gateway is the jail address itself.
	GatewayCollisionError struct {
		Prefix  netip.Prefix
		Gateway netip.Addr
	}
)

// Error implements the error interface.
func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidAddress for errors.Is() compatibility.
func (e *InvalidAddressError) Unwrap() error { return ErrInvalidAddress }

// Error implements the error interface.
func (e *NetworkTooSmallError) Error() string {
	return fmt.Sprintf("network %s has no usable host address for a default gateway", e.Prefix)
}

// Unwrap returns ErrNetworkTooSmall for errors.Is() compatibility.
func (e *NetworkTooSmallError) Unwrap() error { return ErrNetworkTooSmall }

// Error implements the error interface.
func (e *GatewayCollisionError) Error() string {
	return fmt.Sprintf("default gateway %s for %s is the jail address itself", e.Gateway, e.Prefix)
}

// Unwrap returns ErrGatewayCollision for errors.Is() compatibility.
func (e *GatewayCollisionError) Unwrap() error { return ErrGatewayCollision }

// Resolve parses addressWithPrefix and determines the gateway. An empty
// gatewayOverride means "compute the default".
func Resolve(addressWithPrefix, gatewayOverride string) (Resolution, error) {
	addr, err := ParseAddress(addressWithPrefix)
	if err != nil {
		return Resolution{}, err
	}

	if gatewayOverride != "" {
		gw, err := ParseGateway(gatewayOverride)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Address: addr, Gateway: gw, GatewayOverridden: true}, nil
	}

	gw, err := DefaultGateway(addr)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Address: addr, Gateway: gw}, nil
}

// ParseAddress parses an "IP/prefix" string. The prefix length is mandatory
// and the host bits are preserved.
func ParseAddress(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Prefix{}, &InvalidAddressError{Field: "address", Value: s, Reason: "must not be empty"}
	}
	if !strings.Contains(s, "/") {
		return netip.Prefix{}, &InvalidAddressError{
			Field:  "address",
			Value:  s,
			Reason: "missing prefix length (expected e.g. 192.168.0.100/24)",
		}
	}

	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, &InvalidAddressError{Field: "address", Value: s, Reason: err.Error()}
	}
	if p.Addr().Is4In6() {
		return netip.Prefix{}, &InvalidAddressError{
			Field:  "address",
			Value:  s,
			Reason: "IPv4-mapped IPv6 addresses are not supported",
		}
	}

	return p, nil
}

// ParseGateway validates an explicit gateway. Any syntactically valid address
// is accepted; it need not lie inside the jail's subnet.
func ParseGateway(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	gw, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, &InvalidAddressError{Field: "gateway", Value: s, Reason: err.Error()}
	}
	if gw.Zone() != "" {
		return netip.Addr{}, &InvalidAddressError{Field: "gateway", Value: s, Reason: "zoned addresses are not supported"}
	}
	return gw, nil
}

// DefaultGateway returns the network base address plus one.
func DefaultGateway(p netip.Prefix) (netip.Addr, error) {
	if p.Bits() >= p.Addr().BitLen() {
		return netip.Addr{}, &NetworkTooSmallError{Prefix: p}
	}

	gw := p.Masked().Addr().Next()
	if !gw.IsValid() || !p.Contains(gw) {
		return netip.Addr{}, &NetworkTooSmallError{Prefix: p}
	}
	if gw == p.Addr() {
		return netip.Addr{}, &GatewayCollisionError{Prefix: p, Gateway: gw}
	}

	return gw, nil
}
