package httpapi

import (
	"context"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/audit"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/obs"
)

const healthListMethod = "/grpc.health.v1.Health/List"

// DefaultGRPCPolicies guards the gRPC surface. Health checks stay public;
// listing every registered service requires an admin.
func DefaultGRPCPolicies() map[string]Policy {
	return map[string]Policy{
		healthListMethod: RolePolicy(auth.RoleAdmin, auth.RoleSuperAdmin).OnResource("grpc_health"),
	}
}

// NewGRPCServer builds a gRPC server with the health service registered and
// every unary call passing through the guard.
func NewGRPCServer(g *Guard, policies map[string]Policy) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(g.UnaryServerInterceptor(policies)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

// WatchReadiness mirrors probe into the health server until ctx ends.
func WatchReadiness(ctx context.Context, hs *health.Server, probe ReadyProbe, interval time.Duration) {
	if probe == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		st := healthpb.HealthCheckResponse_SERVING
		if err := probe.Ping(pctx); err != nil {
			obs.Logger().Warn().Err(err).Msg("grpc readiness check failed")
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", st)
		hs.SetServingStatus(serviceName, st)
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// UnaryServerInterceptor applies the authorization chain to unary calls
// whose full method appears in policies. Other methods pass through.
func (g *Guard) UnaryServerInterceptor(policies map[string]Policy) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		p, guarded := policies[info.FullMethod]
		if !guarded {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		raw := bearerToken(firstMD(md, "authorization"))
		id, d := g.identify(ctx, raw)
		if d != nil {
			g.denyRPC(ctx, md, info.FullMethod, "authenticate", nil, p, d)
			return nil, rpcStatus(d)
		}
		if d := g.evaluate(ctx, id, p); d != nil {
			g.denyRPC(ctx, md, info.FullMethod, p.guardName(), &id, p, d)
			return nil, rpcStatus(d)
		}

		obs.ObserveDecision(p.guardName(), "allow", "")
		if p.auditGrant {
			g.recordSafe(ctx, rpcEntry(ctx, md, info.FullMethod, audit.ActionAccessGranted, &id, p, grantDetails(id, p)))
		}
		ctx = auth.ContextWithIdentity(ctx, id)
		ctx = auth.ContextWithToken(ctx, raw)
		return handler(ctx, req)
	}
}

func (g *Guard) denyRPC(ctx context.Context, md metadata.MD, method, guard string, id *auth.Identity, p Policy, d *denial) {
	obs.ObserveDecision(guard, "deny", d.code)
	details := make(map[string]any, len(d.details)+3)
	for k, v := range d.details {
		details[k] = v
	}
	details["code"] = d.code
	details["guard"] = guard
	g.recordSafe(ctx, rpcEntry(ctx, md, method, audit.ActionAccessDenied, id, p, details))
}

func rpcEntry(ctx context.Context, md metadata.MD, method, action string, id *auth.Identity, p Policy, details map[string]any) audit.Entry {
	details["method"] = method
	e := audit.Entry{
		Action:    action,
		Resource:  p.resource,
		Details:   details,
		UserAgent: firstMD(md, "user-agent"),
	}
	if e.Resource == "" {
		e.Resource = method
	}
	if pr, ok := peer.FromContext(ctx); ok && pr.Addr != nil {
		e.IPAddress = pr.Addr.String()
	}
	if id != nil {
		e.UserID = audit.UserRef(id.UserID)
	}
	return e
}

// rpcStatus converts a denial to a gRPC status carrying the stable code.
func rpcStatus(d *denial) error {
	c := codes.Internal
	switch d.status {
	case http.StatusUnauthorized:
		c = codes.Unauthenticated
	case http.StatusForbidden:
		c = codes.PermissionDenied
	}
	st := status.New(c, d.message)
	detail, err := structpb.NewStruct(map[string]any{"code": d.code})
	if err != nil {
		return st.Err()
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		return withDetail.Err()
	}
	return st.Err()
}

func firstMD(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
