package engine

import (
	"time"

	"github.com/relaywire/iosocket/pkg/types"
)

const (
	DefaultPingInterval = 25000 * time.Millisecond
	DefaultPingTimeout  = 20000 * time.Millisecond
)

// Options configures the heartbeat and write-path behavior of a Session.
// All fields are optional; zero values fall back to the documented
// defaults via the accessor methods below.
type Options struct {
	PingInterval      time.Duration
	PingTimeout       time.Duration
	ConnectTimeout    time.Duration
	MaxPayload        int64
	BackpressureLimit int64
	InitialPacket     string

	// PerMessageDeflate bounds which frames a Socket's compress flag
	// actually compresses (spec.md §4.7): frames at or below Threshold
	// bytes are sent uncompressed even when requested, since deflate
	// overhead dominates for small payloads.
	PerMessageDeflate *types.PerMessageDeflate
}

func (o *Options) GetCompressionThreshold() int {
	if o == nil || o.PerMessageDeflate == nil || o.PerMessageDeflate.Threshold <= 0 {
		return 1024
	}
	return o.PerMessageDeflate.Threshold
}

func (o *Options) GetPingInterval() time.Duration {
	if o == nil || o.PingInterval <= 0 {
		return DefaultPingInterval
	}
	return o.PingInterval
}

func (o *Options) GetPingTimeout() time.Duration {
	if o == nil || o.PingTimeout <= 0 {
		return DefaultPingTimeout
	}
	return o.PingTimeout
}

func (o *Options) GetConnectTimeout() time.Duration {
	if o == nil || o.ConnectTimeout <= 0 {
		return 0
	}
	return o.ConnectTimeout
}

func (o *Options) GetMaxPayload() int64 {
	if o == nil || o.MaxPayload <= 0 {
		return 1_000_000
	}
	return o.MaxPayload
}

func (o *Options) GetBackpressureLimit() int64 {
	if o == nil || o.BackpressureLimit <= 0 {
		return 16 * 1024 * 1024
	}
	return o.BackpressureLimit
}

func (o *Options) GetInitialPacket() string {
	if o == nil {
		return ""
	}
	return o.InitialPacket
}
