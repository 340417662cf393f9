package livestream

import (
	"fmt"
	"net"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters.
const (
	ServiceType = "_probeplot._tcp"
	Domain      = "local."

	// MaxInstanceNameLen is the DNS-SD limit for instance names.
	MaxInstanceNameLen = 63
)

// AdvertiseInfo describes the advertised live stream.
type AdvertiseInfo struct {
	// Instance is the service instance name, typically the firmware name.
	Instance string

	// Port is the live stream port.
	Port int

	// SessionID and Binary are published as TXT records.
	SessionID string
	Binary    string

	// Interface restricts advertising to one network interface. Empty means all.
	Interface string
}

// TXTRecords returns the TXT strings for info.
func (info AdvertiseInfo) TXTRecords() []string {
	txt := []string{"path=/ws"}
	if info.SessionID != "" {
		txt = append(txt, "session="+info.SessionID)
	}
	if info.Binary != "" {
		txt = append(txt, "elf="+info.Binary)
	}
	return txt
}

// Advertiser publishes the live stream over mDNS.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the live stream service. Call Shutdown to withdraw it.
func Advertise(info AdvertiseInfo) (*Advertiser, error) {
	instance := info.Instance
	if instance == "" {
		instance = "probeplot"
	}
	if len(instance) > MaxInstanceNameLen {
		instance = instance[:MaxInstanceNameLen]
	}

	var ifaces []net.Interface
	if info.Interface != "" {
		iface, err := net.InterfaceByName(info.Interface)
		if err != nil {
			return nil, fmt.Errorf("advertise on %s: %w", info.Interface, err)
		}
		ifaces = []net.Interface{*iface}
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, info.Port, info.TXTRecords(), ifaces)
	if err != nil {
		return nil, fmt.Errorf("failed to register live stream service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
