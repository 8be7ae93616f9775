package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskdeck/internal/db"
)

type fakeSource struct {
	reminders    []db.ReminderCandidate
	remindersErr error
	lastScanNow  time.Time

	users    []db.User
	usersErr error

	boards     map[int64]*db.Board
	boardErr   error
	boardCalls int

	today   map[int64][]db.Task
	overdue map[int64][]db.Task
}

func (f *fakeSource) DueReminders(_ context.Context, now time.Time) ([]db.ReminderCandidate, error) {
	f.lastScanNow = now
	if f.remindersErr != nil {
		return nil, f.remindersErr
	}
	return f.reminders, nil
}

func (f *fakeSource) DigestUsers(context.Context) ([]db.User, error) {
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return f.users, nil
}

func (f *fakeSource) BoardForUser(_ context.Context, userID int64) (*db.Board, error) {
	f.boardCalls++
	if f.boardErr != nil {
		return nil, f.boardErr
	}
	return f.boards[userID], nil
}

func (f *fakeSource) TasksDueToday(_ context.Context, boardID int64, _ *time.Location, _ time.Time) ([]db.Task, error) {
	return f.today[boardID], nil
}

func (f *fakeSource) OverdueTasks(_ context.Context, boardID int64, _ *time.Location, _ time.Time) ([]db.Task, error) {
	return f.overdue[boardID], nil
}

type fakeLedger struct {
	keys    map[string]bool
	entries []*db.NotificationEntry

	existsErr error
	// blindExists makes NotificationExists report false even for recorded
	// keys, simulating a second scanner racing past the pre-check
	blindExists bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{keys: map[string]bool{}}
}

func (l *fakeLedger) NotificationExists(_ context.Context, dedupeKey string) (bool, error) {
	if l.existsErr != nil {
		return false, l.existsErr
	}
	if l.blindExists {
		return false, nil
	}
	return l.keys[dedupeKey], nil
}

func (l *fakeLedger) AppendNotification(_ context.Context, entry *db.NotificationEntry) error {
	if l.keys[entry.DedupeKey] {
		return fmt.Errorf("append notification %s: %w", entry.DedupeKey, db.ErrDuplicateEntry)
	}
	l.keys[entry.DedupeKey] = true
	l.entries = append(l.entries, entry)
	return nil
}

func (l *fakeLedger) entriesWithStatus(status string) []*db.NotificationEntry {
	var out []*db.NotificationEntry
	for _, e := range l.entries {
		if e.DeliveryStatus == status {
			out = append(out, e)
		}
	}
	return out
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	sent    []sentMessage
	failFor map[int64]error
}

func (n *fakeNotifier) Send(_ context.Context, chatID int64, text string) error {
	if err := n.failFor[chatID]; err != nil {
		return err
	}
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func newTestService(t *testing.T, source *fakeSource, ledger *fakeLedger, notifier *fakeNotifier, digestHour, digestMinute int) *Service {
	t.Helper()
	svc, err := NewService(source, ledger, notifier, digestHour, digestMinute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func reminderCandidate(taskID, userID, telegramID int64, tz string, dueAt, reminderAt time.Time) db.ReminderCandidate {
	return db.ReminderCandidate{
		Task: db.Task{
			ID:         taskID,
			BoardID:    1,
			Title:      fmt.Sprintf("task %d", taskID),
			DueAt:      &dueAt,
			ReminderAt: &reminderAt,
		},
		User: db.User{
			ID:         userID,
			TelegramID: telegramID,
			Timezone:   tz,
		},
	}
}

func TestNewServiceRejectsDigestTimeOutOfRange(t *testing.T) {
	cases := []struct{ hour, minute int }{
		{-1, 0}, {24, 0}, {9, -1}, {9, 60},
	}
	for _, tc := range cases {
		_, err := NewService(&fakeSource{}, newFakeLedger(), &fakeNotifier{}, tc.hour, tc.minute, zap.NewNop())
		if err == nil {
			t.Errorf("digest time %02d:%02d accepted, want error", tc.hour, tc.minute)
		}
	}
}

func TestReminderScanSendsAndRecords(t *testing.T) {
	now := time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC)
	due := time.Date(2026, 2, 20, 12, 30, 0, 0, time.UTC)
	reminder := due.Add(-time.Hour)

	source := &fakeSource{reminders: []db.ReminderCandidate{
		reminderCandidate(42, 7, 555001, "UTC", due, reminder),
	}}
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	if err := svc.RunReminderScan(context.Background(), now); err != nil {
		t.Fatalf("RunReminderScan: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(notifier.sent))
	}
	msg := notifier.sent[0]
	if msg.chatID != 555001 {
		t.Errorf("sent to chat %d, want 555001", msg.chatID)
	}
	if !strings.Contains(msg.text, "#42") || !strings.Contains(msg.text, "task 42") {
		t.Errorf("message missing task reference: %q", msg.text)
	}

	if len(ledger.entries) != 1 {
		t.Fatalf("recorded %d ledger entries, want 1", len(ledger.entries))
	}
	entry := ledger.entries[0]
	if want := "reminder:42:2026-02-20T11:30:00Z"; entry.DedupeKey != want {
		t.Errorf("dedupe key = %q, want %q", entry.DedupeKey, want)
	}
	if entry.EventType != db.EventReminder {
		t.Errorf("event type = %q, want %q", entry.EventType, db.EventReminder)
	}
	if entry.DeliveryStatus != db.DeliverySent {
		t.Errorf("delivery status = %q, want %q", entry.DeliveryStatus, db.DeliverySent)
	}
	if entry.UserID == nil || *entry.UserID != 7 {
		t.Errorf("user id = %v, want 7", entry.UserID)
	}
	if entry.TaskID == nil || *entry.TaskID != 42 {
		t.Errorf("task id = %v, want 42", entry.TaskID)
	}
}

func TestReminderScanSecondPassSendsNothing(t *testing.T) {
	now := time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC)
	due := now.Add(time.Hour)

	source := &fakeSource{reminders: []db.ReminderCandidate{
		reminderCandidate(42, 7, 555001, "UTC", due, now),
	}}
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	for i := 0; i < 3; i++ {
		if err := svc.RunReminderScan(context.Background(), now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	if len(notifier.sent) != 1 {
		t.Errorf("sent %d messages across 3 passes, want 1", len(notifier.sent))
	}
	if len(ledger.entries) != 1 {
		t.Errorf("recorded %d ledger entries, want 1", len(ledger.entries))
	}
}

func TestReminderScanFailureDoesNotBlockOthers(t *testing.T) {
	now := time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC)
	due := now.Add(time.Hour)

	source := &fakeSource{reminders: []db.ReminderCandidate{
		reminderCandidate(1, 10, 111, "UTC", due, now),
		reminderCandidate(2, 20, 222, "UTC", due, now),
	}}
	ledger := newFakeLedger()
	notifier := &fakeNotifier{failFor: map[int64]error{111: fmt.Errorf("chat blocked")}}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	if err := svc.RunReminderScan(context.Background(), now); err != nil {
		t.Fatalf("RunReminderScan: %v", err)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].chatID != 222 {
		t.Fatalf("sent = %+v, want exactly one message to 222", notifier.sent)
	}

	failed := ledger.entriesWithStatus(db.DeliveryFailed)
	if len(failed) != 1 {
		t.Fatalf("recorded %d failed entries, want 1", len(failed))
	}
	canonical := "reminder:1:2026-02-20T11:30:00Z"
	if failed[0].DedupeKey == canonical {
		t.Errorf("failed entry reuses canonical key %q", canonical)
	}
	if !strings.HasPrefix(failed[0].DedupeKey, canonical+":failed:") {
		t.Errorf("failed key = %q, want prefix %q", failed[0].DedupeKey, canonical+":failed:")
	}

	// the chat unblocks; the canonical key is still free, so the next tick
	// delivers task 1 without resending task 2
	notifier.failFor = nil
	if err := svc.RunReminderScan(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if len(notifier.sent) != 2 || notifier.sent[1].chatID != 111 {
		t.Fatalf("after retry sent = %+v, want second message to 111", notifier.sent)
	}
	sent := ledger.entriesWithStatus(db.DeliverySent)
	if len(sent) != 2 {
		t.Errorf("recorded %d sent entries after retry, want 2", len(sent))
	}
}

func TestReminderScanSkipsUnresolvableTimezone(t *testing.T) {
	now := time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC)
	due := now.Add(time.Hour)

	source := &fakeSource{reminders: []db.ReminderCandidate{
		reminderCandidate(1, 10, 111, "Not/AZone", due, now),
		reminderCandidate(2, 20, 222, "UTC", due, now),
	}}
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	if err := svc.RunReminderScan(context.Background(), now); err != nil {
		t.Fatalf("RunReminderScan: %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].chatID != 222 {
		t.Fatalf("sent = %+v, want only the message to 222", notifier.sent)
	}
}

func TestReminderScanQueryErrorAborts(t *testing.T) {
	source := &fakeSource{remindersErr: fmt.Errorf("connection refused")}
	svc := newTestService(t, source, newFakeLedger(), &fakeNotifier{}, 9, 0)

	if err := svc.RunReminderScan(context.Background(), time.Now()); err == nil {
		t.Fatal("want error when the reminder query fails")
	}
}

func TestReminderScanLedgerErrorSkipsCandidate(t *testing.T) {
	now := time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC)
	due := now.Add(time.Hour)

	source := &fakeSource{reminders: []db.ReminderCandidate{
		reminderCandidate(1, 10, 111, "UTC", due, now),
	}}
	ledger := newFakeLedger()
	ledger.existsErr = fmt.Errorf("ledger down")
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	if err := svc.RunReminderScan(context.Background(), now); err != nil {
		t.Fatalf("RunReminderScan: %v", err)
	}
	// without a ledger answer nothing may be sent; a send here could be a
	// double delivery
	if len(notifier.sent) != 0 {
		t.Errorf("sent %d messages with ledger down, want 0", len(notifier.sent))
	}
}

func TestReminderScanDuplicateAppendCountsAsDelivered(t *testing.T) {
	now := time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC)
	due := now.Add(time.Hour)

	source := &fakeSource{reminders: []db.ReminderCandidate{
		reminderCandidate(1, 10, 111, "UTC", due, now),
	}}
	ledger := newFakeLedger()
	ledger.keys["reminder:1:2026-02-20T11:30:00Z"] = true
	ledger.blindExists = true
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	// pre-check misses, send happens, append hits the unique constraint;
	// the scan must treat that as already delivered, not as a failure
	if err := svc.RunReminderScan(context.Background(), now); err != nil {
		t.Fatalf("RunReminderScan: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(notifier.sent))
	}
	if got := len(ledger.entriesWithStatus(db.DeliveryFailed)); got != 0 {
		t.Errorf("recorded %d failed entries, want 0", got)
	}
}

func TestDigestFiresOnLocalClockMatch(t *testing.T) {
	// 06:00 UTC is 09:00 in Moscow and 01:00 in New York
	now := time.Date(2026, 2, 20, 6, 0, 0, 0, time.UTC)

	source := &fakeSource{
		users: []db.User{
			{ID: 7, TelegramID: 700, Timezone: "Europe/Moscow", DigestEnabled: true},
			{ID: 8, TelegramID: 800, Timezone: "America/New_York", DigestEnabled: true},
		},
		boards: map[int64]*db.Board{
			7: {ID: 70, OwnerID: 7},
			8: {ID: 80, OwnerID: 8},
		},
		overdue: map[int64][]db.Task{70: {{ID: 1, Title: "pay rent"}}},
		today:   map[int64][]db.Task{70: {{ID: 2, Title: "call bank"}}},
	}
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	if err := svc.RunDigestScan(context.Background(), now); err != nil {
		t.Fatalf("RunDigestScan: %v", err)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].chatID != 700 {
		t.Fatalf("sent = %+v, want exactly one digest to 700", notifier.sent)
	}
	if !strings.Contains(notifier.sent[0].text, "Overdue: 1") {
		t.Errorf("digest missing overdue count: %q", notifier.sent[0].text)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(ledger.entries))
	}
	if want := "digest:7:2026-02-20"; ledger.entries[0].DedupeKey != want {
		t.Errorf("dedupe key = %q, want %q", ledger.entries[0].DedupeKey, want)
	}
	if ledger.entries[0].TaskID != nil {
		t.Errorf("digest entry carries task id %v, want nil", *ledger.entries[0].TaskID)
	}
}

func TestDigestOncePerLocalDay(t *testing.T) {
	now := time.Date(2026, 2, 20, 6, 0, 0, 0, time.UTC)

	source := &fakeSource{
		users:  []db.User{{ID: 7, TelegramID: 700, Timezone: "Europe/Moscow", DigestEnabled: true}},
		boards: map[int64]*db.Board{7: {ID: 70, OwnerID: 7}},
	}
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	// repeated ticks on the matching minute
	for i := 0; i < 2; i++ {
		if err := svc.RunDigestScan(context.Background(), now); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d digests on one day, want 1", len(notifier.sent))
	}

	// next local calendar day, same wall time: fresh key, fresh digest
	if err := svc.RunDigestScan(context.Background(), now.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("next day: %v", err)
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("sent %d digests across two days, want 2", len(notifier.sent))
	}
	if ledger.entries[0].DedupeKey == ledger.entries[1].DedupeKey {
		t.Errorf("both days recorded under %q", ledger.entries[0].DedupeKey)
	}
}

func TestDigestSkipsOffMinuteTicks(t *testing.T) {
	source := &fakeSource{
		users:  []db.User{{ID: 7, TelegramID: 700, Timezone: "UTC", DigestEnabled: true}},
		boards: map[int64]*db.Board{7: {ID: 70, OwnerID: 7}},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, newFakeLedger(), notifier, 9, 0)

	for _, now := range []time.Time{
		time.Date(2026, 2, 20, 8, 59, 0, 0, time.UTC),
		time.Date(2026, 2, 20, 9, 1, 0, 0, time.UTC),
		time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC),
	} {
		if err := svc.RunDigestScan(context.Background(), now); err != nil {
			t.Fatalf("tick %v: %v", now, err)
		}
	}
	if len(notifier.sent) != 0 {
		t.Errorf("sent %d digests off the configured minute, want 0", len(notifier.sent))
	}
}

func TestDigestSkipsUserWithoutBoard(t *testing.T) {
	now := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

	source := &fakeSource{
		users:  []db.User{{ID: 7, TelegramID: 700, Timezone: "UTC", DigestEnabled: true}},
		boards: map[int64]*db.Board{},
	}
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	if err := svc.RunDigestScan(context.Background(), now); err != nil {
		t.Fatalf("RunDigestScan: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("sent %d digests without a board, want 0", len(notifier.sent))
	}
	// no board means no delivery attempt, so the ledger must stay empty and
	// leave the key free in case the user bootstraps later today
	if len(ledger.entries) != 0 {
		t.Errorf("recorded %d entries without a board, want 0", len(ledger.entries))
	}
}

func TestDigestLedgerCheckedBeforeBoardLookup(t *testing.T) {
	now := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

	source := &fakeSource{
		users:  []db.User{{ID: 7, TelegramID: 700, Timezone: "UTC", DigestEnabled: true}},
		boards: map[int64]*db.Board{7: {ID: 70, OwnerID: 7}},
	}
	ledger := newFakeLedger()
	ledger.keys["digest:7:2026-02-20"] = true
	notifier := &fakeNotifier{}
	svc := newTestService(t, source, ledger, notifier, 9, 0)

	if err := svc.RunDigestScan(context.Background(), now); err != nil {
		t.Fatalf("RunDigestScan: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("resent an already-recorded digest")
	}
	if source.boardCalls != 0 {
		t.Errorf("board looked up %d times for a recorded digest, want 0", source.boardCalls)
	}
}

func TestRunnerTickUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC)
	fc := clock.NewFake()
	fc.Set(fixed)

	source := &fakeSource{}
	svc := newTestService(t, source, newFakeLedger(), &fakeNotifier{}, 9, 0)
	runner := NewRunner(svc, fc, zap.NewNop())

	runner.runScan(context.Background(), scanReminder, svc.RunReminderScan)
	if !source.lastScanNow.Equal(fixed) {
		t.Errorf("scan ran with now = %v, want %v", source.lastScanNow, fixed)
	}
}

func TestReminderKeyNormalizesToUTC(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	at := time.Date(2026, 2, 20, 14, 30, 0, 0, msk)

	got := reminderKey(42, at)
	want := "reminder:42:2026-02-20T11:30:00Z"
	if got != want {
		t.Errorf("reminderKey = %q, want %q", got, want)
	}
}

func TestFailedKeyNeverMatchesCanonical(t *testing.T) {
	now := time.Date(2026, 2, 20, 11, 30, 0, 0, time.UTC)
	canonical := reminderKey(1, now)

	if failedKey(canonical, now) == canonical {
		t.Error("failed key collides with canonical key")
	}
	if failedKey(canonical, now) == failedKey(canonical, now.Add(time.Second)) {
		t.Error("failed keys for different attempts collide")
	}
}

func TestReminderMessageWithoutDueDate(t *testing.T) {
	task := db.Task{ID: 5, Title: "water plants"}
	msg := reminderMessage(task, time.UTC)
	if !strings.Contains(msg, "#5") || !strings.Contains(msg, "water plants") {
		t.Errorf("message missing task reference: %q", msg)
	}
	if !strings.Contains(msg, "—") {
		t.Errorf("message missing empty-due placeholder: %q", msg)
	}
}

func TestDigestMessageCapsListedTasks(t *testing.T) {
	var overdue []db.Task
	for i := 1; i <= digestListLimit+2; i++ {
		overdue = append(overdue, db.Task{ID: int64(i), Title: fmt.Sprintf("task %d", i)})
	}
	today := []db.Task{{ID: 100, Title: "today task"}}

	msg := digestMessage(overdue, today)

	if !strings.Contains(msg, fmt.Sprintf("Overdue: %d", digestListLimit+2)) {
		t.Errorf("digest missing full overdue count: %q", msg)
	}
	if got := strings.Count(msg, "[OVERDUE]"); got != digestListLimit {
		t.Errorf("digest lists %d overdue tasks, want %d", got, digestListLimit)
	}
	if got := strings.Count(msg, "[TODAY]"); got != 1 {
		t.Errorf("digest lists %d today tasks, want 1", got)
	}
}

func TestDigestMessageEmptyBuckets(t *testing.T) {
	msg := digestMessage(nil, nil)
	if !strings.Contains(msg, "No overdue tasks") || !strings.Contains(msg, "Nothing due today") {
		t.Errorf("empty digest = %q", msg)
	}
}
