package downstream

import (
	"fmt"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// MetricsDialOption registers client-side RPC metrics on reg and returns the
// dial option that records them. Call it once and share the option between
// clients.
func MetricsDialOption(reg prometheus.Registerer) (grpc.DialOption, error) {
	m := grpcprom.NewClientMetrics(grpcprom.WithClientHandlingTimeHistogram())
	if err := reg.Register(m); err != nil {
		return nil, fmt.Errorf("register grpc client metrics: %w", err)
	}
	return grpc.WithChainUnaryInterceptor(m.UnaryClientInterceptor()), nil
}
