package nameresolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/cuemby/tablestore/pkg/log"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

// DefaultDomain is the default search domain answered by Server.
const DefaultDomain = "tablestore"

// Config configures the optional DNS front end. It is only started
// when name_indirection_enabled is set (spec §4.2a); the Resolver
// itself always runs regardless, since Background Schedulers and the
// admin ShowSdkEndpoint/SetSdkEndpoint commands read from it directly.
type Config struct {
	ListenAddr string
	Domain     string
	Upstream   []string
}

// Server answers DNS A-record queries for "<endpoint>.<domain>" with
// the real_endpoint's host, and "<endpoint>.sdk.<domain>" with the
// sdk_endpoint's host, forwarding anything else upstream. Adapted from
// the teacher's pkg/dns.Server, which answered container service names
// the same way.
type Server struct {
	resolver  *Resolver
	cfg       Config
	dnsServer *dns.Server
	logger    zerolog.Logger
	mu        sync.Mutex
	running   bool
}

// NewServer builds a Server wrapping resolver. cfg.Domain defaults to
// DefaultDomain and cfg.ListenAddr to "127.0.0.1:8600" if unset.
func NewServer(resolver *Resolver, cfg Config) *Server {
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8600"
	}
	return &Server{
		resolver: resolver,
		cfg:      cfg,
		logger:   log.WithComponent("nameresolve.server"),
	}
}

// Start launches the DNS server in the background. Returns once the
// listener goroutine has been spawned; send-side failures are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("nameresolve: server already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleQuery)

	s.dnsServer = &dns.Server{Addr: s.cfg.ListenAddr, Net: "udp", Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	default:
		s.logger.Info().Str("address", s.cfg.ListenAddr).Msg("nameresolve DNS server started")
		return nil
	}
}

// Stop shuts the DNS server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if s.dnsServer == nil {
		return nil
	}
	return s.dnsServer.Shutdown()
}

func (s *Server) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeA {
			s.forward(w, r)
			return
		}
		rr, err := s.resolve(q.Name)
		if err != nil {
			s.forward(w, r)
			return
		}
		msg.Answer = append(msg.Answer, rr)
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().Err(err).Msg("failed to write DNS response")
	}
}

func (s *Server) resolve(queryName string) (dns.RR, error) {
	name := strings.TrimSuffix(queryName, ".")
	sdkSuffix := ".sdk." + s.cfg.Domain
	var (
		endpoint string
		sdk      bool
	)
	switch {
	case strings.HasSuffix(name, sdkSuffix):
		endpoint = strings.TrimSuffix(name, sdkSuffix)
		sdk = true
	default:
		endpoint = s.resolver.stripDomain(name)
	}

	var (
		target string
		ok     bool
	)
	if sdk {
		target, ok = s.resolver.SdkEndpoint(endpoint)
	} else {
		target, ok = s.resolver.RealEndpoint(endpoint)
	}
	if !ok {
		return nil, fmt.Errorf("nameresolve: no mapping for %s", endpoint)
	}

	ip, err := hostIP(target)
	if err != nil {
		return nil, err
	}

	return &dns.A{
		Hdr: dns.RR_Header{Name: queryName, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 10},
		A:   ip,
	}, nil
}

func hostIP(endpoint string) (net.IP, error) {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("nameresolve: cannot resolve host %q", host)
		}
		ip = ips[0]
	}
	return ip, nil
}

func (s *Server) forward(w dns.ResponseWriter, r *dns.Msg) {
	client := &dns.Client{Net: "udp"}
	for _, upstream := range s.cfg.Upstream {
		resp, _, err := client.Exchange(r, upstream)
		if err != nil {
			s.logger.Debug().Err(err).Str("upstream", upstream).Msg("forward failed")
			continue
		}
		if err := w.WriteMsg(resp); err != nil {
			s.logger.Error().Err(err).Msg("failed to write forwarded response")
		}
		return
	}
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure
	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().Err(err).Msg("failed to write SERVFAIL response")
	}
}
