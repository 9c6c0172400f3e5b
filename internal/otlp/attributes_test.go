package otlp

import "testing"

func attrString(t *testing.T, attrs []attrPair, key string) (string, bool) {
	t.Helper()
	for _, a := range attrs {
		if a.key == key {
			return a.value, true
		}
	}
	return "", false
}

// attrPair is a tiny helper shape local to this test file so assertions
// read as plain key/value lookups instead of otel's typed KeyValue API.
type attrPair struct {
	key   string
	value string
}

func flatten(t *testing.T, effectKind, target string) []attrPair {
	t.Helper()
	var out []attrPair
	for _, kv := range effectAttributes(effectKind, target) {
		out = append(out, attrPair{key: string(kv.Key), value: kv.Value.Emit()})
	}
	return out
}

func TestEffectAttributesHTTPPrefix(t *testing.T) {
	attrs := flatten(t, "http_get", "https://example.com/todos/42")
	if v, ok := attrString(t, attrs, "http.method"); !ok || v != "GET" {
		t.Fatalf("expected http.method=GET, got %q (ok=%v)", v, ok)
	}
	if v, ok := attrString(t, attrs, "http.url"); !ok || v != "https://example.com/todos/42" {
		t.Fatalf("expected http.url to echo target, got %q", v)
	}
}

func TestEffectAttributesDBPrefix(t *testing.T) {
	attrs := flatten(t, "db_query", "SELECT 1")
	if v, _ := attrString(t, attrs, "db.system"); v != "postgresql" {
		t.Fatalf("expected db.system=postgresql, got %q", v)
	}
	if v, _ := attrString(t, attrs, "db.operation"); v != "query" {
		t.Fatalf("expected db.operation=query, got %q", v)
	}
}

func TestEffectAttributesGRPCSplitsTarget(t *testing.T) {
	attrs := flatten(t, "grpc_unary", "billing.Payments/Charge")
	if v, _ := attrString(t, attrs, "rpc.service"); v != "billing.Payments" {
		t.Fatalf("expected rpc.service=billing.Payments, got %q", v)
	}
	if v, _ := attrString(t, attrs, "rpc.method"); v != "Charge" {
		t.Fatalf("expected rpc.method=Charge, got %q", v)
	}
}

func TestEffectAttributesUnknownPrefixGetsOnlyGenericPair(t *testing.T) {
	attrs := flatten(t, "mystery_kind", "x")
	if len(attrs) != 2 {
		t.Fatalf("expected only the generic zerver.effect.kind/target pair, got %d attrs", len(attrs))
	}
}
