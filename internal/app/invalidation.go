package app

import (
	"encoding/json"
	"log"

	"github.com/bookin/entitlement-service/internal/domain"
)

// EntitlementInvalidationBindings returns the consumer bindings that keep a
// replica's entitlement cache fresh: when any replica's reconciler records an
// entitlement change, every replica drops its cached snapshot for that user.
// Malformed payloads are acknowledged and dropped; re-queuing cannot fix them.
func EntitlementInvalidationBindings(cache *EntitlementCache) map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		EntitlementUpdatedKey: func(body []byte) bool {
			var event domain.EntitlementUpdatedEvent
			if err := json.Unmarshal(body, &event); err != nil {
				log.Printf("level=warn component=entitlement_cache msg=\"dropping malformed entitlement event\" err=%v", err)
				return true
			}
			if event.UserID == "" {
				return true
			}
			cache.Invalidate(event.UserID)
			log.Printf("level=info component=entitlement_cache msg=\"cache invalidated by event\" user_id=%s source=%s", event.UserID, event.Source)
			return true
		},
	}
}
