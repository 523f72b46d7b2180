package broker

import (
	"encoding/json"
	"fmt"
	"sync"
)

// presenceSubscribeData is the shape of a presence channel's channel_data:
// required user_id, optional free-form user_info.
type presenceSubscribeData struct {
	UserID   string      `json:"user_id"`
	UserInfo interface{} `json:"user_info"`
}

func parsePresenceData(raw string) (presenceSubscribeData, error) {
	var pd presenceSubscribeData
	if raw == "" {
		return pd, fmt.Errorf("presence subscribe requires channel_data")
	}
	if err := json.Unmarshal([]byte(raw), &pd); err != nil {
		return pd, err
	}
	if pd.UserID == "" {
		return pd, fmt.Errorf("channel_data missing user_id")
	}
	return pd, nil
}

// PresenceView is the JSON shape of a presence channel's membership,
// keyed by user_id so one user connected from several sockets counts once.
type PresenceView struct {
	Count int                    `json:"count"`
	IDs   []string               `json:"ids"`
	Hash  map[string]interface{} `json:"hash"`
}

// presenceTracker is the derived membership view over a presence channel's
// subscriptions, keyed by user_id rather than socket_id.
type presenceTracker struct {
	mu      sync.RWMutex
	members map[string]map[string]interface{} // user_id -> socket_id -> user_info
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{members: make(map[string]map[string]interface{})}
}

// add registers socketID as one of userID's live sockets, returning true if
// userID was not already represented on the channel.
func (p *presenceTracker) add(userID, socketID string, userInfo interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sockets, existed := p.members[userID]
	if !existed {
		sockets = make(map[string]interface{})
		p.members[userID] = sockets
	}
	sockets[socketID] = userInfo
	return !existed
}

// remove drops socketID from userID's socket set, returning true if userID
// still has at least one remaining socket on the channel.
func (p *presenceTracker) remove(userID, socketID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sockets, ok := p.members[userID]
	if !ok {
		return false
	}
	delete(sockets, socketID)
	if len(sockets) == 0 {
		delete(p.members, userID)
		return false
	}
	return true
}

// snapshot returns the current membership view. count/ids/hash are always
// computed from the same locked pass so they can never disagree.
func (p *presenceTracker) snapshot() PresenceView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.members))
	hash := make(map[string]interface{}, len(p.members))
	for userID, sockets := range p.members {
		ids = append(ids, userID)
		for _, info := range sockets {
			hash[userID] = info
			break
		}
	}
	return PresenceView{Count: len(ids), IDs: ids, Hash: hash}
}
