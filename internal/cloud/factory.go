package cloud

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/metrics"
)

// Options configures how handles are opened.
type Options struct {
	VerifyPeer bool
	// Region is used when the provider has none of its own.
	Region string
	// DomainName is used for v3 identity when the provider has none of its own.
	DomainName string
	Timeout    time.Duration
}

type authenticateFunc func(ctx context.Context, endpoint string, opts gophercloud.AuthOptions, verifyPeer bool, timeout time.Duration) (*gophercloud.ProviderClient, error)

// Factory opens gophercloud handles. It implements Connector.
type Factory struct {
	opts         Options
	log          logrus.FieldLogger
	metrics      *metrics.Metrics
	authenticate authenticateFunc
}

// NewFactory creates a connection factory
func NewFactory(opts Options, log logrus.FieldLogger, m *metrics.Metrics) *Factory {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Factory{
		opts:         opts,
		log:          log,
		metrics:      m,
		authenticate: authenticate,
	}
}

// Endpoint builds the identity endpoint for a provider.
func Endpoint(p domain.Provider, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	version := strings.Trim(p.APIVersion, "/")
	if version == "" {
		version = "v3"
	}
	return fmt.Sprintf("%s://%s:%d/%s/", scheme, p.Hostname, p.Port, version)
}

// IsTransient reports whether err looks like a plain-text client talking to
// a TLS listener: the connection is dropped (EOF) or answered with something
// that is not plain HTTP.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, signature := range []string{
		"end of file reached",
		"malformed HTTP response",
		"HTTP request to an HTTPS server",
		": EOF",
	} {
		if strings.Contains(msg, signature) {
			return true
		}
	}
	return false
}

// connect authenticates against the provider's identity endpoint scoped to
// tenant. A transient failure over plain transport is retried exactly once
// with secure transport forced.
func (f *Factory) connect(ctx context.Context, p domain.Provider, tenant string) (*gophercloud.ProviderClient, error) {
	secure := p.SecurityProtocol != domain.ProtocolNonSSL
	log := f.log.WithFields(logrus.Fields{"provider": p.Name, "tenant": tenant})

	ao := gophercloud.AuthOptions{
		Username:    p.UserID,
		Password:    p.Password,
		TenantName:  tenant,
		AllowReauth: true,
	}
	if strings.HasPrefix(strings.Trim(p.APIVersion, "/"), "v3") || p.APIVersion == "" {
		ao.DomainName = p.DomainName
		if ao.DomainName == "" {
			ao.DomainName = f.opts.DomainName
		}
	}

	endpoint := Endpoint(p, secure)
	pc, err := f.authenticate(ctx, endpoint, ao, f.opts.VerifyPeer, f.opts.Timeout)
	if err != nil && !secure && IsTransient(err) {
		log.WithError(err).Warn("transient failure over plain transport, retrying with secure transport")
		f.metrics.ConnectRetry()
		endpoint = Endpoint(p, true)
		pc, err = f.authenticate(ctx, endpoint, ao, f.opts.VerifyPeer, f.opts.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s tenant %q at %s: %v", domain.ErrConnectionFailed, p.Name, tenant, endpoint, err)
	}
	log.WithField("endpoint", endpoint).Debug("authenticated")
	return pc, nil
}

func (f *Factory) region(p domain.Provider) string {
	if p.Region != "" {
		return p.Region
	}
	return f.opts.Region
}

// Compute opens a compute handle for tenant.
func (f *Factory) Compute(ctx context.Context, p domain.Provider, tenant string) (ComputeClient, error) {
	pc, err := f.connect(ctx, p, tenant)
	if err != nil {
		return nil, err
	}
	sc, err := openstack.NewComputeV2(pc, gophercloud.EndpointOpts{Region: f.region(p)})
	if err != nil {
		return nil, fmt.Errorf("%w: compute endpoint for %s: %v", domain.ErrConnectionFailed, p.Name, err)
	}
	return &computeClient{sc: sc}, nil
}

// Network opens a network handle for tenant.
func (f *Factory) Network(ctx context.Context, p domain.Provider, tenant string) (NetworkClient, error) {
	pc, err := f.connect(ctx, p, tenant)
	if err != nil {
		return nil, err
	}
	sc, err := openstack.NewNetworkV2(pc, gophercloud.EndpointOpts{Region: f.region(p)})
	if err != nil {
		return nil, fmt.Errorf("%w: network endpoint for %s: %v", domain.ErrConnectionFailed, p.Name, err)
	}
	return &networkClient{sc: sc}, nil
}

// authenticate creates a provider client bound to ctx and authenticates it.
func authenticate(ctx context.Context, endpoint string, ao gophercloud.AuthOptions, verifyPeer bool, timeout time.Duration) (*gophercloud.ProviderClient, error) {
	pc, err := openstack.NewClient(endpoint)
	if err != nil {
		return nil, err
	}
	pc.Context = ctx
	pc.HTTPClient = http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !verifyPeer},
		},
	}
	if err := openstack.Authenticate(pc, ao); err != nil {
		return nil, err
	}
	return pc, nil
}
