package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

// Prober performs one health probe. A nil error means healthy; the context
// carries the probe timeout.
type Prober interface {
	Kind() HealthCheckType
	Probe(ctx context.Context) error
}

func NewProber(config HealthCheckConfig) (Prober, error) {
	switch config.Type {
	case HealthCheckTypeHTTP:
		return &httpProber{config: config.HTTP, client: &http.Client{}}, nil
	case HealthCheckTypeTCP:
		return &tcpProber{address: net.JoinHostPort(config.TCP.Address, fmt.Sprint(config.TCP.Port))}, nil
	case HealthCheckTypeExec:
		return &execProber{command: config.Exec.Command}, nil
	case HealthCheckTypeGRPC:
		return &grpcProber{config: config.GRPC}, nil
	default:
		return nil, errors.NewValidationError("unsupported health check type: "+string(config.Type), nil)
	}
}

type httpProber struct {
	config HTTPHealthCheckConfig
	client *http.Client
}

func (p *httpProber) Kind() HealthCheckType { return HealthCheckTypeHTTP }

func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return errors.NewHealthProbeError("failed to create HTTP request", err).WithContext("url", p.config.URL)
	}
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return probeError(ctx, "HTTP request failed", err).WithContext("url", p.config.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errors.NewHealthProbeError(fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode), nil).
		WithContext("url", p.config.URL).
		WithContext("status", resp.StatusCode)
}

type tcpProber struct {
	address string
}

func (p *tcpProber) Kind() HealthCheckType { return HealthCheckTypeTCP }

func (p *tcpProber) Probe(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return probeError(ctx, "TCP connection failed", err).WithContext("address", p.address)
	}
	return conn.Close()
}

const execWaitDelay = 250 * time.Millisecond

type execProber struct {
	command string
}

func (p *execProber) Kind() HealthCheckType { return HealthCheckTypeExec }

func (p *execProber) Probe(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	// children of the shell may keep the output pipe open after it is killed
	cmd.WaitDelay = execWaitDelay
	output, err := cmd.CombinedOutput()
	if err != nil {
		return probeError(ctx, "exec health check failed", err).
			WithContext("command", p.command).
			WithContext("output", strings.TrimSpace(string(output)))
	}
	return nil
}

type grpcProber struct {
	config GRPCHealthCheckConfig
}

func (p *grpcProber) Kind() HealthCheckType { return HealthCheckTypeGRPC }

func (p *grpcProber) Probe(ctx context.Context) error {
	conn, err := grpc.DialContext(ctx, p.config.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return probeError(ctx, "gRPC connection failed", err).WithContext("address", p.config.Address)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.config.Service})
	if err != nil {
		return probeError(ctx, "gRPC health check failed", err).WithContext("address", p.config.Address)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.NewHealthProbeError("gRPC service not serving", nil).
			WithContext("address", p.config.Address).
			WithContext("status", resp.GetStatus().String())
	}
	return nil
}

func probeError(ctx context.Context, message string, cause error) *errors.DomainError {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewHealthProbeError(message+": timed out", errors.NewTimeoutError("probe deadline exceeded", cause))
	}
	return errors.NewHealthProbeError(message, cause)
}
