package outbox

import "github.com/rnrl/matchengine/internal/store"

var _ Store = (*store.OutboxRepository)(nil)
