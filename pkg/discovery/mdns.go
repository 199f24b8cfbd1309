// Package discovery advertises jitter buffer receivers on the local network
// over mDNS and lets producers find them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// ServiceType is the DNS-SD service type receivers register under.
const ServiceType = "_pcmjitter._tcp"

const sampleFormat = "s16le"

var ErrNoReceivers = errors.New("discovery: no receivers found")

// Info describes a receiver endpoint.
type Info struct {
	Name      string
	Port      int
	Transport string // websocket or tcp
	Path      string // websocket path, empty for tcp
	Format    pcmchunk.Format
}

// TXT returns the DNS-SD TXT record for the receiver.
func (i Info) TXT() []string {
	txt := []string{
		"format=" + sampleFormat,
		"rate=" + strconv.Itoa(i.Format.SampleRate),
		"channels=" + strconv.Itoa(i.Format.Channels),
		"transport=" + i.Transport,
	}
	if i.Path != "" {
		txt = append(txt, "path="+i.Path)
	}
	return txt
}

// parseTXT fills the TXT-derived fields of i. Unknown keys are ignored.
func (i *Info) parseTXT(fields []string) error {
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "format":
			if value != sampleFormat {
				return fmt.Errorf("unsupported sample format %q", value)
			}
		case "rate":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("rate: %w", err)
			}
			i.Format.SampleRate = n
		case "channels":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("channels: %w", err)
			}
			i.Format.Channels = n
		case "transport":
			i.Transport = value
		case "path":
			i.Path = value
		}
	}
	return nil
}

// Advertiser keeps an mDNS registration alive until Shutdown.
type Advertiser struct {
	info   Info
	server *mdns.Server
}

// Advertise registers the receiver on all non-loopback IPv4 interfaces.
func Advertise(info Info) (*Advertiser, error) {
	ips, err := getLocalIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(info.Name, ServiceType, "", "", info.Port, ips, info.TXT())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	slog.Info("Advertising mDNS service",
		"name", info.Name,
		"type", ServiceType,
		"port", info.Port,
		"txt", strings.Join(info.TXT(), " "))

	return &Advertiser{info: info, server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// Receiver is a receiver found by Browse.
type Receiver struct {
	Info
	Host string
}

// URL returns the address a producer should connect to.
func (r Receiver) URL() string {
	hostPort := net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	if r.Transport == "tcp" {
		return "tcp://" + hostPort
	}
	return "ws://" + hostPort + r.Path
}

// Browse queries the network for receivers for up to timeout.
// It returns ErrNoReceivers when nothing answered.
func Browse(ctx context.Context, timeout time.Duration) ([]Receiver, error) {
	entries := make(chan *mdns.ServiceEntry, 16)

	var receivers []Receiver
	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := make(map[string]bool)
		for entry := range entries {
			if seen[entry.Name] {
				continue
			}
			seen[entry.Name] = true

			r, err := receiverFromEntry(entry)
			if err != nil {
				slog.Debug("Ignoring mDNS entry", "name", entry.Name, "error", err)
				continue
			}
			slog.Info("Discovered receiver", "name", r.Name, "url", r.URL(), "format", r.Format.String())
			receivers = append(receivers, r)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout

	queryErr := make(chan error, 1)
	go func() { queryErr <- mdns.Query(params) }()

	var err error
	select {
	case err = <-queryErr:
	case <-ctx.Done():
		err = ctx.Err()
		// Query returns on its own once the timeout elapses.
		<-queryErr
	}
	close(entries)
	<-done

	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	if len(receivers) == 0 {
		return nil, ErrNoReceivers
	}
	return receivers, nil
}

func receiverFromEntry(entry *mdns.ServiceEntry) (Receiver, error) {
	r := Receiver{
		Info: Info{Name: instanceName(entry.Name), Port: entry.Port},
	}
	if err := r.parseTXT(entry.InfoFields); err != nil {
		return Receiver{}, err
	}
	switch {
	case entry.AddrV4 != nil:
		r.Host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		r.Host = entry.AddrV6.String()
	default:
		return Receiver{}, errors.New("no address")
	}
	return r, nil
}

// instanceName strips the service type and domain from a full instance name.
func instanceName(full string) string {
	if i := strings.Index(full, "."+ServiceType); i > 0 {
		return full[:i]
	}
	return full
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
