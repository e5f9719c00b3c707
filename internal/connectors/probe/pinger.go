package probe

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Pinger sends a single ICMP echo and waits at most Timeout for the reply.
type Pinger struct {
	Timeout    time.Duration
	Privileged bool
	log        *slog.Logger
}

func NewPinger(timeout time.Duration, privileged bool, log *slog.Logger) *Pinger {
	return &Pinger{Timeout: timeout, Privileged: privileged, log: log}
}

func (p *Pinger) Alive(ctx context.Context, host string) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		p.log.Debug("ping setup failed", "host", host, "err", err)
		return false
	}
	pinger.Count = 1
	pinger.Timeout = p.Timeout
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		p.log.Debug("ping failed", "host", host, "err", err)
		return false
	}
	stats := pinger.Statistics()
	p.log.Debug("ping", "host", host, "recv", stats.PacketsRecv, "rtt", stats.AvgRtt.String())
	return stats.PacketsRecv > 0
}

// TCP checks liveness by opening the SMB port. For networks that drop ICMP.
type TCP struct {
	Port    int
	Timeout time.Duration
}

func (p TCP) Alive(ctx context.Context, host string) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.Port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
