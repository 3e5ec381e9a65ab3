package honeypotlog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/telemetry"
)

// HandlerFunc consumes one parsed honeypot event.
type HandlerFunc func(ctx context.Context, ev domain.HoneypotEvent) error

// Tailer follows the honeypot's NDJSON event log and feeds parsed
// records to a handler. It wakes on fsnotify writes with a periodic
// poll as fallback (network mounts drop inotify events), survives
// rotation and truncation by reopening, and skips malformed lines
// rather than stopping: one bad record must not blind threat intel.
type Tailer struct {
	path    string
	handler HandlerFunc
	clock   clockwork.Clock
	log     *slog.Logger

	pollEvery time.Duration
	fromStart bool

	file       *os.File
	opened     os.FileInfo
	everOpened bool
	offset     int64
	carry      []byte

	// recent failed logins per source IP, for the repeated-attempts
	// escalation
	attempts map[string][]time.Time
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithClock injects a test clock.
func WithClock(c clockwork.Clock) Option {
	return func(t *Tailer) { t.clock = c }
}

// WithLogger sets the tailer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tailer) { t.log = l }
}

// WithPollInterval overrides the fallback poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) { t.pollEvery = d }
}

// WithReadFromStart replays the whole file instead of seeking to its
// end on first open. Demo mode and tests use this.
func WithReadFromStart() Option {
	return func(t *Tailer) { t.fromStart = true }
}

// NewTailer creates a tailer for path. Run starts it.
func NewTailer(path string, handler HandlerFunc, opts ...Option) *Tailer {
	t := &Tailer{
		path:      path,
		handler:   handler,
		clock:     clockwork.NewRealClock(),
		log:       slog.Default(),
		pollEvery: 10 * time.Second,
		attempts:  make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run tails the log until ctx ends. The log file may not exist yet
// (honeypot not started); the tailer waits for it to appear.
func (t *Tailer) Run(ctx context.Context) error {
	defer t.closeFile()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.log.Warn("fsnotify unavailable, honeypot tail falls back to polling", "error", err)
	} else {
		defer watcher.Close()
		// Watch the directory: rotation replaces the file, and a watch
		// on the old inode would go silent.
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			t.log.Warn("honeypot log dir watch failed, falling back to polling", "dir", filepath.Dir(t.path), "error", err)
			watcher.Close()
			watcher = nil
		}
	}

	var events chan fsnotify.Event
	var werrs chan error
	if watcher != nil {
		events = watcher.Events
		werrs = watcher.Errors
	}

	ticker := time.NewTicker(t.pollEvery)
	defer ticker.Stop()

	t.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Name == t.path {
				t.drain(ctx)
			}
		case err := <-werrs:
			t.log.Warn("honeypot log watch error", "error", err)
		case <-ticker.C:
			t.drain(ctx)
		}
	}
}

// drain reads every complete new line and dispatches it.
func (t *Tailer) drain(ctx context.Context) {
	if !t.ensureOpen() {
		return
	}

	data, err := io.ReadAll(t.file)
	if err != nil {
		t.log.Warn("honeypot log read failed", "error", err)
		t.closeFile()
		return
	}
	t.offset += int64(len(data))

	buf := append(t.carry, data...)
	for {
		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			break
		}
		line := bytes.TrimSpace(buf[:nl])
		buf = buf[nl+1:]
		if len(line) == 0 {
			continue
		}
		t.dispatch(ctx, line)
	}
	t.carry = append(t.carry[:0], buf...)
}

// ensureOpen opens the file if needed and reopens it after rotation or
// truncation. Reports whether a readable file is at hand.
func (t *Tailer) ensureOpen() bool {
	st, err := os.Stat(t.path)
	if err != nil {
		t.closeFile()
		return false
	}

	if t.file != nil {
		rotated := !os.SameFile(t.opened, st)
		truncated := st.Size() < t.offset
		if !rotated && !truncated {
			return true
		}
		t.log.Info("honeypot log rotated, reopening", "path", t.path)
		t.closeFile()
	}

	f, err := os.Open(t.path)
	if err != nil {
		t.log.Warn("honeypot log open failed", "path", t.path, "error", err)
		return false
	}

	t.file = f
	t.opened = st
	t.offset = 0
	t.carry = nil

	// The first open of a pre-existing log starts at the end: history
	// was ingested in a previous run. A reopen after rotation reads the
	// replacement file in full, its content is all new.
	if !t.everOpened && !t.fromStart {
		if end, err := f.Seek(0, io.SeekEnd); err == nil {
			t.offset = end
		}
	}
	t.everOpened = true
	return true
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
		t.opened = nil
		t.offset = 0
		t.carry = nil
	}
}

// rawRecord is the NDJSON schema the honeypot writes. Cowrie calls the
// typed command "input"; other honeypots say "command".
type rawRecord struct {
	Timestamp string `json:"timestamp"`
	EventID   string `json:"eventid"`
	SrcIP     string `json:"src_ip"`
	Input     string `json:"input"`
	Command   string `json:"command"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

func (r rawRecord) command() string {
	if r.Input != "" {
		return r.Input
	}
	return r.Command
}

func (t *Tailer) dispatch(ctx context.Context, line []byte) {
	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		t.log.Debug("skipping malformed honeypot record", "error", err)
		return
	}
	if raw.SrcIP == "" || raw.EventID == "" || !domain.IsValidIP(raw.SrcIP) {
		return
	}

	kind, ok := MapEventID(raw.EventID, raw.command())
	if !ok {
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		ts = t.clock.Now().UTC()
	}

	if kind == domain.EventLoginAttempt {
		kind = t.escalateRepeats(raw.SrcIP, ts)
	}

	ev := domain.HoneypotEvent{
		Timestamp: ts.UTC(),
		Kind:      kind,
		EventID:   raw.EventID,
		SrcIP:     raw.SrcIP,
		Command:   raw.command(),
		Username:  raw.Username,
		Password:  raw.Password,
	}

	telemetry.HoneypotEvents.WithLabelValues(string(kind)).Inc()
	if err := t.handler(ctx, ev); err != nil {
		t.log.Error("honeypot event handling failed", "src_ip", ev.SrcIP, "kind", ev.Kind, "error", err)
	}
}

// escalateRepeats upgrades the fifth failed login from one source
// within a minute to repeated_login_attempts, then resets the count.
func (t *Tailer) escalateRepeats(srcIP string, at time.Time) domain.HoneypotEventKind {
	cutoff := at.Add(-time.Minute)
	recent := t.attempts[srcIP][:0]
	for _, prev := range t.attempts[srcIP] {
		if prev.After(cutoff) {
			recent = append(recent, prev)
		}
	}
	recent = append(recent, at)

	if len(recent) >= 5 {
		delete(t.attempts, srcIP)
		return domain.EventRepeatedLogins
	}
	t.attempts[srcIP] = recent
	return domain.EventLoginAttempt
}

// cowrieKinds maps Cowrie eventids onto event kinds. Bare kind names
// are accepted too, for honeypots that emit them directly.
var cowrieKinds = map[string]domain.HoneypotEventKind{
	"cowrie.login.success":         domain.EventLoginSuccess,
	"cowrie.login.failed":          domain.EventLoginAttempt,
	"cowrie.session.file_download": domain.EventFileDownload,
	"cowrie.session.file_upload":   domain.EventFileDownload,
	"cowrie.command.input":         domain.EventCommandExec,
	"cowrie.session.connect":       domain.EventPortProbe,

	string(domain.EventLoginSuccess):   domain.EventLoginSuccess,
	string(domain.EventFileDownload):   domain.EventFileDownload,
	string(domain.EventMalwareExec):    domain.EventMalwareExec,
	string(domain.EventCommandExec):    domain.EventCommandExec,
	string(domain.EventRepeatedLogins): domain.EventRepeatedLogins,
	string(domain.EventLoginAttempt):   domain.EventLoginAttempt,
	string(domain.EventPortProbe):      domain.EventPortProbe,
}

// destructive commands typed into the honeypot shell mark the session
// as active malware rather than reconnaissance
var malwareHints = []string{"rm -rf", "mkfs", "dd if=", "wget ", "curl ", "chmod +x", "/tmp/", "busybox"}

// MapEventID translates a raw honeypot event identifier (and, for
// command records, the typed command) into an event kind. Unknown
// identifiers report ok=false and are skipped.
func MapEventID(eventid, command string) (domain.HoneypotEventKind, bool) {
	kind, ok := cowrieKinds[eventid]
	if !ok {
		return "", false
	}
	if kind == domain.EventCommandExec && looksMalicious(command) {
		return domain.EventMalwareExec, true
	}
	return kind, true
}

func looksMalicious(command string) bool {
	lower := strings.ToLower(command)
	for _, hint := range malwareHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
