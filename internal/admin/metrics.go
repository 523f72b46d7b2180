package admin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pulsewire/broker/internal/broker"
)

// splitInfo parses a comma-separated info= query value into a lookup set.
// An empty string yields an empty set, meaning "occupied only".
func splitInfo(raw string) map[string]bool {
	out := map[string]bool{}
	if raw == "" {
		return out
	}
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out[f] = true
		}
	}
	return out
}

// channelInfo builds one channel's info object for the requested fields.
// occupied is always reported; subscription_count, user_count, and cache
// are included only when both requested and applicable to the channel's
// kind, matching the "intersection of requested and available" contract.
func channelInfo(ch *broker.Channel, fields map[string]bool) gin.H {
	info := gin.H{"occupied": !ch.IsEmpty()}
	if fields["subscription_count"] && !ch.Kind.TracksPresence() {
		info["subscription_count"] = ch.SubscriberCount()
	}
	if fields["user_count"] && ch.Kind.TracksPresence() {
		info["user_count"] = len(ch.UserIDs())
	}
	if fields["cache"] && ch.Kind.IsCached() {
		info["cache"] = ch.HasCachedPayload()
	}
	return info
}

// localChannelInfo is this node's MetricsResponder: it answers another
// node's metrics_request with its own view of the requested channels,
// marshaled for the bus reply envelope's Payload.
func (s *Server) localChannelInfo(appID string, channelNames []string, fieldsRaw string) json.RawMessage {
	registry, ok := s.broker.Registry(appID)
	if !ok {
		return nil
	}
	fields := splitInfo(fieldsRaw)

	out := map[string]gin.H{}
	for _, name := range channelNames {
		ch, ok := registry.Find(name)
		if !ok {
			out[name] = gin.H{"occupied": false}
			continue
		}
		out[name] = channelInfo(ch, fields)
	}
	b, _ := json.Marshal(out)
	return b
}

// channelInfoAggregate answers the info= query on /events and
// /batch_events: it's this node's own view (computed directly, no bus
// round-trip needed) merged with subscription_count/user_count contributed
// by every other node's reply within the aggregation window. Counts are
// summed across nodes, occupied is true if any replying node reports it,
// and cache is taken from the local view.
func (s *Server) channelInfoAggregate(ctx context.Context, appID string, channelNames []string, fieldsRaw string) gin.H {
	fields := splitInfo(fieldsRaw)
	registry, ok := s.broker.Registry(appID)
	if !ok {
		return gin.H{}
	}

	merged := map[string]gin.H{}
	for _, name := range channelNames {
		ch, ok := registry.Find(name)
		if !ok {
			merged[name] = gin.H{"occupied": false}
			continue
		}
		merged[name] = channelInfo(ch, fields)
	}

	for _, env := range s.dispatcher.RequestMetrics(ctx, appID, channelNames, fieldsRaw) {
		var remote map[string]gin.H
		if err := json.Unmarshal(env.Payload, &remote); err != nil {
			continue
		}
		for name, info := range remote {
			local, ok := merged[name]
			if !ok {
				merged[name] = info
				continue
			}
			mergeCounts(local, info)
		}
	}

	out := gin.H{}
	for name, info := range merged {
		out[name] = info
	}
	return out
}

// mergeCounts adds a remote node's subscription_count/user_count into dst
// in place and sets occupied to true when the remote node reports it
// occupied; cache stays as the local node's own value.
func mergeCounts(dst gin.H, remote gin.H) {
	for _, key := range []string{"subscription_count", "user_count"} {
		remoteVal, ok := remote[key]
		if !ok {
			continue
		}
		remoteCount, ok := toInt(remoteVal)
		if !ok {
			continue
		}
		if existing, ok := dst[key]; ok {
			existingCount, _ := toInt(existing)
			dst[key] = existingCount + remoteCount
		} else {
			dst[key] = remoteCount
		}
	}
	if occupied, ok := remote["occupied"].(bool); ok && occupied {
		dst["occupied"] = true
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
