package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments for the membership domain.
type Metrics struct {
	invitesCreated   metric.Int64Counter
	invitesAccepted  metric.Int64Counter
	invitesCancelled metric.Int64Counter
	roleChanges      metric.Int64Counter
	membersRemoved   metric.Int64Counter
	authzDenied      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "atrium"
	}
	meter := provider.Meter(name)

	invitesCreated, err := meter.Int64Counter("atrium_invites_created_total")
	if err != nil {
		return nil, err
	}
	invitesAccepted, err := meter.Int64Counter("atrium_invites_accepted_total")
	if err != nil {
		return nil, err
	}
	invitesCancelled, err := meter.Int64Counter("atrium_invites_cancelled_total")
	if err != nil {
		return nil, err
	}
	roleChanges, err := meter.Int64Counter("atrium_role_changes_total")
	if err != nil {
		return nil, err
	}
	membersRemoved, err := meter.Int64Counter("atrium_members_removed_total")
	if err != nil {
		return nil, err
	}
	authzDenied, err := meter.Int64Counter("atrium_authorization_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invitesCreated:   invitesCreated,
		invitesAccepted:  invitesAccepted,
		invitesCancelled: invitesCancelled,
		roleChanges:      roleChanges,
		membersRemoved:   membersRemoved,
		authzDenied:      authzDenied,
	}, nil
}

// RecordInviteCreated increments invite creation counts.
func (m *Metrics) RecordInviteCreated(ctx context.Context, tenantID, roleName string) {
	if m == nil {
		return
	}
	m.invitesCreated.Add(ctx, 1, metric.WithAttributes(tenantRoleAttrs(tenantID, roleName)...))
}

// RecordInviteAccepted increments invite acceptance counts.
func (m *Metrics) RecordInviteAccepted(ctx context.Context, tenantID, roleName string) {
	if m == nil {
		return
	}
	m.invitesAccepted.Add(ctx, 1, metric.WithAttributes(tenantRoleAttrs(tenantID, roleName)...))
}

// RecordInviteCancelled increments invite cancellation counts.
func (m *Metrics) RecordInviteCancelled(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.invitesCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

// RecordRoleChange increments role change counts.
func (m *Metrics) RecordRoleChange(ctx context.Context, tenantID, roleName string) {
	if m == nil {
		return
	}
	m.roleChanges.Add(ctx, 1, metric.WithAttributes(tenantRoleAttrs(tenantID, roleName)...))
}

// RecordMemberRemoved increments member removal counts.
func (m *Metrics) RecordMemberRemoved(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	m.membersRemoved.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

// RecordAuthorizationDenied increments authorization denial counts.
func (m *Metrics) RecordAuthorizationDenied(ctx context.Context, tenantID, permission string) {
	if m == nil {
		return
	}
	m.authzDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("permission", permission),
	))
}

func tenantRoleAttrs(tenantID, roleName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tenant_id", strings.TrimSpace(tenantID)),
		attribute.String("role", strings.TrimSpace(roleName)),
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
