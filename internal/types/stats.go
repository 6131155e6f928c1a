package types

// Stats is the aggregate view over the session store returned by the admin API.
type Stats struct {
	ActiveSessions     int            `json:"active_sessions"`
	ConnectingSessions int            `json:"connecting_sessions"`
	TrackedSessions    int            `json:"tracked_sessions"`
	UniqueUsers        int            `json:"unique_users"`
	AnonymousSessions  int            `json:"anonymous_sessions"`
	ByStatus           map[Status]int `json:"by_status"`
	Observers          int            `json:"observers"`
	GatewayState       string         `json:"gateway_state"`
}
