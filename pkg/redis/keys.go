package redis

import "strings"

// Namespace prefixes every key the storefront writes, so a shared Redis can
// host other tenants.
const Namespace = "sm"

func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(Namespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// SessionKey marks one access token as live.
func SessionKey(accessID string) string { return key("session", accessID) }

// ProductKey holds the cached detail view of a product.
func ProductKey(productID string) string { return key("catalog", "product", productID) }

// CatalogPageKey holds a cached shopper listing page.
func CatalogPageKey(variant string) string { return key("catalog", "list", variant) }

// LockKey guards a named lease such as a shopper's checkout.
func LockKey(name string) string { return key("lock", name) }

// IdempotencyKey stores the recorded response of a replay-safe request.
// Parts are typically the operation, the caller and the client supplied key.
func IdempotencyKey(operation string, parts ...string) string {
	return key(append([]string{"idempotency", operation}, parts...)...)
}

// ThrottleKey counts attempts against one throttle bucket.
func ThrottleKey(surface, dimension, subject string) string {
	return key("throttle", surface, dimension, subject)
}

// DeliveredKey marks an outbox row as appended by a relay.
func DeliveredKey(relay, eventID string) string { return key("outbox", "delivered", relay, eventID) }

// StreamKey names an event stream.
func StreamKey(name string) string { return key(name) }
