package constants

import "time"

const (
	AppName = "proxyhub"
	Version = "0.4.0"
)

// Network defaults
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = "8080"
	DefaultServerURL       = "http://localhost:8080"
	MinPort                = 1
	MaxPort                = 65535
	ReadHeaderTimeout      = 10 * time.Second
	IdleTimeout            = 120 * time.Second
	ShutdownTimeout        = 5 * time.Second
	MaxHeaderBytes         = 1 << 20
	MaxConnectionsPerIP    = 10
	MaxAPIBodySize         = 64 * 1024
	DefaultSessionPageSize = 100
	MaxSessionPageSize     = 1000
)

// Persistent channel
const (
	WSReadBufferSize     = 4096
	WSWriteBufferSize    = 4096
	MaxFrameSize         = 64 * 1024
	ObserverSendQueue    = 256
	ChannelIdleTimeout   = 60 * time.Second
	ChannelPingInterval  = 25 * time.Second
	ChannelWriteTimeout  = 10 * time.Second
	ChannelAuthTimeout   = 15 * time.Second
	WelcomeMessage       = "connected to proxyhub event channel, authenticate to receive events"
	AuthenticatedMessage = "authenticated, streaming session events"
	AuthFailedMessage    = "invalid or expired session token"
)

// Sync gateway
const (
	GatewayConnectTimeout = 10 * time.Second
	GatewayInitialBackoff = 500 * time.Millisecond
	GatewayMaxBackoff     = 30 * time.Second
	GatewaySendQueue      = 512
	GatewayIdleTimeout    = 60 * time.Second
	GatewayPingInterval   = 25 * time.Second
	GatewayWriteTimeout   = 10 * time.Second
)

// Operator auth
const (
	OperatorTokenTTL  = 12 * time.Hour
	CleanupInterval   = 30 * time.Second
	RedisKeyPrefix    = "proxyhub:operator:"
	SessionHeader     = "X-Session-Token"
	MaxAuthAttempts   = 5
	BlockDuration     = 15 * time.Minute
	JWTIssuer         = "proxyhub"
	BcryptDefaultCost = 12
)

// Audit
const (
	AuditQueueSize        = 1024
	MaxAuditLogsPerMinute = 600
	DefaultAuditPageSize  = 50
	MaxAuditPageSize      = 500
	MinDiskSpaceRequired  = 100 * 1024 * 1024
)

// Proxy driver and enrichment
const (
	DriverStopTimeout = 5 * time.Second
	GeoLookupTimeout  = 5 * time.Second
	MaxCreateAttempts = 3
)

// Disconnect reasons
const (
	ReasonUserRequested      = "user_requested"
	ReasonAdminDisconnected  = "admin_disconnected"
	ReasonDriverExited       = "driver_exited"
	ReasonConnectFailed      = "connect_failed"
	ReasonServerShuttingDown = "server_shutdown"
)

// service_status values
const (
	ServiceStarting = "starting"
	ServiceStopping = "stopping"
)

// API endpoints
const (
	EndpointObservers = "/ws"
	EndpointSync      = "/sync"
	EndpointAPI       = "/api/"
	EndpointHealth    = "/health"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
	ColorPurple = "\033[35m"
)

// Time formats
const (
	TimeFormatShort = "15:04:05"
)

// Messages
const (
	MsgInvalidJSON         = "invalid JSON"
	MsgInvalidPort         = "invalid port"
	MsgInvalidHost         = "invalid proxy host"
	MsgInvalidSessionID    = "invalid session id"
	MsgSessionNotFound     = "session not found"
	MsgUnauthorized        = "missing or invalid session token"
	MsgTooManyAttempts     = "too many failed attempts, try again later"
	MsgConnectionLimit     = "connection limit exceeded"
	MsgInvalidCredentials  = "invalid username or password"
	MsgInvalidSettingKey   = "invalid setting key"
	MsgAuditUnavailable    = "audit trail disabled"
	MsgInternalServerError = "internal server error"
)
