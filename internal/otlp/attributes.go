package otlp

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// effectAttributes maps an effect kind + target to OTEL semantic
// convention attributes, keyed off the effect-kind prefix (spec §4.7).
// Unrecognized prefixes get no extra attributes beyond the generic
// zerver.effect.kind/zerver.effect.target pair every effect span carries.
func effectAttributes(effectKind, target string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("zerver.effect.kind", effectKind),
		attribute.String("zerver.effect.target", target),
	}

	switch {
	case strings.HasPrefix(effectKind, "http_"):
		attrs = append(attrs,
			attribute.String("http.method", strings.ToUpper(strings.TrimPrefix(effectKind, "http_"))),
			attribute.String("http.url", target),
		)
	case strings.HasPrefix(effectKind, "tcp_"):
		attrs = append(attrs,
			attribute.String("network.transport", "tcp"),
			attribute.String("network.operation", strings.TrimPrefix(effectKind, "tcp_")),
			attribute.String("peer.address", target),
		)
	case strings.HasPrefix(effectKind, "grpc_"):
		service, method := splitTarget(target)
		attrs = append(attrs,
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)
	case strings.HasPrefix(effectKind, "websocket_"):
		attrs = append(attrs, attribute.String("network.protocol.name", "websocket"))
	case strings.HasPrefix(effectKind, "db_"):
		attrs = append(attrs,
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", strings.TrimPrefix(effectKind, "db_")),
			attribute.String("db.statement", target),
		)
	case strings.HasPrefix(effectKind, "kv_cache_"):
		attrs = append(attrs,
			attribute.String("cache.operation", strings.TrimPrefix(effectKind, "kv_cache_")),
			attribute.String("cache.key", target),
		)
	case strings.HasPrefix(effectKind, "file_"):
		attrs = append(attrs,
			attribute.String("file.operation", strings.TrimPrefix(effectKind, "file_")),
			attribute.String("file.path", target),
		)
	case strings.HasPrefix(effectKind, "compute_"), strings.HasPrefix(effectKind, "accelerator_"):
		attrs = append(attrs, attribute.String("compute.operation", target))
	}

	return attrs
}

// splitTarget parses a "service/method" gRPC target into its two parts,
// tolerating a bare method with no service prefix.
func splitTarget(target string) (service, method string) {
	if i := strings.LastIndex(target, "/"); i >= 0 {
		return target[:i], target[i+1:]
	}
	return "", target
}
