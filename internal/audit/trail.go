package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"proxyhub/internal/config"
	"proxyhub/internal/constants"
	"proxyhub/internal/events"
	"proxyhub/internal/protocol"
)

var ErrClosed = errors.New("audit trail closed")

// Trail persists lifecycle, security and admin records. Writes go through a
// bounded queue drained by one worker, so recording never blocks a caller.
type Trail struct {
	db    *gorm.DB
	dir   string
	queue chan Entry
	wg    sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	logCount    int
	windowStart time.Time
	lowDisk     bool

	now func() time.Time
	log zerolog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.AuditConfig, log zerolog.Logger) (*Trail, error) {
	var (
		dialector gorm.Dialector
		dir       string
	)
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
		if cfg.DSN != ":memory:" {
			dir = filepath.Dir(cfg.DSN)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create audit directory: %w", err)
			}
		}
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if cfg.Driver == "sqlite" || cfg.Driver == "" {
		// one connection: sqlite has a single writer and :memory: is per connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, dir, log)
}

// New wraps an open database. dir, when set, is checked for free space
// before each write.
func New(db *gorm.DB, dir string, log zerolog.Logger) (*Trail, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}

	t := &Trail{
		db:          db,
		dir:         dir,
		queue:       make(chan Entry, constants.AuditQueueSize),
		windowStart: time.Now(),
		now:         time.Now,
		log:         log.With().Str("component", "audit").Logger(),
	}
	t.wg.Add(1)
	go t.worker()
	return t, nil
}

func (t *Trail) worker() {
	defer t.wg.Done()
	for e := range t.queue {
		if !t.diskOK() {
			continue
		}
		if err := t.db.Create(&e).Error; err != nil {
			t.log.Warn().Err(err).Str("event", e.EventType).Msg("⚠️  failed to write audit entry")
		}
	}
}

func (t *Trail) diskOK() bool {
	if t.dir == "" {
		return true
	}
	free, err := freeBytes(t.dir)
	if err != nil {
		// unknown free space never blocks writes
		t.log.Debug().Err(err).Str("dir", t.dir).Msg("💽 disk check failed")
		return true
	}
	ok := free > uint64(constants.MinDiskSpaceRequired)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !ok && !t.lowDisk {
		t.log.Error().Str("dir", t.dir).Uint64("free_bytes", free).Msg("💽 low disk space, audit writes paused")
	}
	if ok && t.lowDisk {
		t.log.Info().Str("dir", t.dir).Msg("💽 disk space recovered, audit writes resumed")
	}
	t.lowDisk = !ok
	return ok
}

// Record queues an entry. Entries beyond the per-minute cap or a full queue
// are dropped.
func (t *Trail) Record(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	now := t.now()
	if now.Sub(t.windowStart) > time.Minute {
		t.windowStart = now
		t.logCount = 0
	}
	if t.logCount >= constants.MaxAuditLogsPerMinute {
		return
	}
	t.logCount++

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.Severity == "" {
		e.Severity = "info"
	}

	select {
	case t.queue <- e:
	default:
		t.log.Warn().Str("event", e.EventType).Msg("⚠️  audit queue full, entry dropped")
	}
}

// Handle is the bus subscriber for lifecycle and config events.
func (t *Trail) Handle(ev events.Event) error {
	fields, err := protocol.EventFields(ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	e := Entry{
		Kind:      KindEvent,
		EventType: string(ev.Type),
		Payload:   datatypes.JSON(payload),
		CreatedAt: ev.Timestamp,
	}
	switch p := ev.Payload.(type) {
	case events.SessionPayload:
		e.SessionID = p.Session.SessionID
		e.Details = p.Reason
	case events.ConfigPayload:
		e.Details = p.Key + "=" + p.Value
	case events.ServicePayload:
		e.Details = p.Status
	case events.SyncPayload:
		e.Actor = p.Origin
		e.Details = string(p.EventType)
		if id, ok := p.Fields["sessionId"].(string); ok {
			e.SessionID = id
		}
	}
	t.Record(e)
	return nil
}

func (t *Trail) LogAuthFailure(ip, subject, reason string) {
	t.Record(Entry{
		Kind:      KindSecurity,
		EventType: "auth_failure",
		IP:        ip,
		Actor:     subject,
		Details:   reason,
		Severity:  "warning",
	})
}

func (t *Trail) LogAuthSuccess(ip, subject string) {
	t.Record(Entry{
		Kind:      KindSecurity,
		EventType: "auth_success",
		IP:        ip,
		Actor:     subject,
		Details:   "Authentication successful",
	})
}

func (t *Trail) LogBruteForce(ip, subject string, attempts int) {
	t.Record(Entry{
		Kind:      KindSecurity,
		EventType: "brute_force",
		IP:        ip,
		Actor:     subject,
		Details:   fmt.Sprintf("Multiple failed attempts: %d", attempts),
		Severity:  "critical",
	})
}

func (t *Trail) LogConnectionLimit(ip string) {
	t.Record(Entry{
		Kind:      KindSecurity,
		EventType: "connection_limit",
		IP:        ip,
		Details:   "Connection limit exceeded",
		Severity:  "warning",
	})
}

// LogAdmin records an operator action through the admin API.
func (t *Trail) LogAdmin(actor, ip, action, sessionID, details string) {
	t.Record(Entry{
		Kind:      KindAdmin,
		EventType: action,
		Actor:     actor,
		IP:        ip,
		SessionID: sessionID,
		Details:   details,
	})
}

// Query filters Recent.
type Query struct {
	Kind      Kind
	SessionID string
	Limit     int
}

// Recent returns the newest entries first.
func (t *Trail) Recent(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = constants.DefaultAuditPageSize
	}
	if limit > constants.MaxAuditPageSize {
		limit = constants.MaxAuditPageSize
	}

	tx := t.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if q.Kind != "" {
		tx = tx.Where("kind = ?", q.Kind)
	}
	if q.SessionID != "" {
		tx = tx.Where("session_id = ?", q.SessionID)
	}

	var entries []Entry
	if err := tx.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Close drains queued entries and closes the database.
func (t *Trail) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	t.wg.Wait()
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
