//go:build !linux

package ioadapter

import "net"

// tuneTCP is a no-op on platforms without the x/sys/unix sockopt
// surface used in tcpopts.go; TCP_NODELAY tuning is a latency
// optimization, not a correctness requirement.
func tuneTCP(c net.Conn) error { return nil }
