package broker

// Application is an immutable authentication/authorization realm. Every
// connection, channel, and admin API call is scoped to exactly one
// Application, looked up by either AppID (in URL paths) or Key (in the
// WebSocket path and client auth strings).
type Application struct {
	AppID                string
	Key                  string
	Secret               string
	AllowedOrigins       []string
	PingIntervalSec      int
	ActivityTimeoutSec   int
	MaxMessageSizeBytes  int
	MaxConnections       int // 0 means unlimited
}

// OriginAllowed reports whether origin is permitted to open connections to
// this application. An empty AllowedOrigins list permits every origin.
func (a *Application) OriginAllowed(origin string) bool {
	if len(a.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range a.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
