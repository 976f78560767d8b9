package dispatch

import (
	"fmt"
	"strings"

	"github.com/jwalitptl/push-api/internal/config"
)

const queueSuffix = ".webpush.queue"

// Router picks the durable queue for a subscription endpoint. The table
// is ordered: the first provider with a matching endpoint prefix wins,
// and an endpoint matching nothing routes to the default queue.
type Router struct {
	routes       []config.ProviderRoute
	defaultQueue string
}

func NewRouter(routes []config.ProviderRoute, defaultQueue string) *Router {
	if defaultQueue == "" {
		defaultQueue = "default" + queueSuffix
	}
	return &Router{
		routes:       routes,
		defaultQueue: defaultQueue,
	}
}

// QueueFor returns the queue name for a subscription endpoint following
// the `{provider}.webpush.queue` convention.
func (r *Router) QueueFor(endpoint string) string {
	for _, route := range r.routes {
		for _, prefix := range route.EndpointPrefixes {
			if strings.HasPrefix(endpoint, prefix) {
				return fmt.Sprintf("%s%s", route.Name, queueSuffix)
			}
		}
	}
	return r.defaultQueue
}

// Queues lists every queue the router can target, the default included.
// Workers use it to subscribe to the full set.
func (r *Router) Queues() []string {
	queues := make([]string, 0, len(r.routes)+1)
	for _, route := range r.routes {
		queues = append(queues, route.Name+queueSuffix)
	}
	return append(queues, r.defaultQueue)
}
