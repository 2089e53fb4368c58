package scheduling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/notification"
)

var (
	patient  = auth.Identity{UID: "pat-1", Role: auth.RolePatient}
	patient2 = auth.Identity{UID: "pat-2", Role: auth.RolePatient}
	doctor   = auth.Identity{UID: "doc-1", Role: auth.RoleDoctor}
)

func newTestService(repo *memRepo) (*Service, *recordedEvents) {
	ev := &recordedEvents{}
	return NewService(repo, testDoctors(), testCalendar(beforeMonday), ev, zerolog.Nop()), ev
}

func book(t *testing.T, svc *Service, who auth.Identity, slot string) *Appointment {
	t.Helper()
	a, err := svc.CreateAppointment(context.Background(), who, BookingRequest{
		DoctorID: "doc-1", Date: "2030-01-07", Time: slot, Reason: "follow-up",
	})
	if err != nil {
		t.Fatalf("book %s: %v", slot, err)
	}
	return a
}

func TestCreateAppointment(t *testing.T) {
	svc, ev := newTestService(newMemRepo())

	a := book(t, svc, patient, "09:30")

	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if a.PatientID != "pat-1" || a.DoctorID != "doc-1" || a.Date != monday {
		t.Errorf("unexpected appointment %+v", a)
	}
	if a.ReminderSent || a.IncentiveTx != nil {
		t.Error("new appointment must not carry reminder or settlement state")
	}
	if got := ev.types(); len(got) != 1 || got[0] != "appointment.booked" {
		t.Errorf("expected booked event, got %v", got)
	}
}

func TestCreateAppointment_ScenarioC(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	book(t, svc, patient, "09:30")

	_, err := svc.CreateAppointment(context.Background(), patient2, BookingRequest{
		DoctorID: "doc-1", Date: "2030-01-07", Time: "09:30",
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	tests := []struct {
		name   string
		caller auth.Identity
		req    BookingRequest
		want   error
	}{
		{"doctor cannot book", doctor, BookingRequest{DoctorID: "doc-1", Date: "2030-01-07", Time: "09:00"}, ErrForbidden},
		{"missing doctor", patient, BookingRequest{Date: "2030-01-07", Time: "09:00"}, ErrInvalidInput},
		{"bad date", patient, BookingRequest{DoctorID: "doc-1", Date: "Jan 7", Time: "09:00"}, ErrInvalidInput},
		{"bad time", patient, BookingRequest{DoctorID: "doc-1", Date: "2030-01-07", Time: "9am"}, ErrInvalidInput},
		{"not an offered slot", patient, BookingRequest{DoctorID: "doc-1", Date: "2030-01-07", Time: "09:15"}, ErrInvalidInput},
		{"day off", patient, BookingRequest{DoctorID: "doc-1", Date: "2030-01-08", Time: "09:00"}, ErrInvalidInput},
		{"past date", patient, BookingRequest{DoctorID: "doc-1", Date: "2029-12-31", Time: "09:00"}, ErrInvalidInput},
		{"unknown doctor", patient, BookingRequest{DoctorID: "ghost", Date: "2030-01-07", Time: "09:00"}, ErrNotFound},
		{"reason too long", patient, BookingRequest{DoctorID: "doc-1", Date: "2030-01-07", Time: "09:00", Reason: strings.Repeat("x", maxReasonLen+1)}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateAppointment(context.Background(), tt.caller, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateAppointment_SlotAlreadyStarted(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2030, time.January, 7, 9, 10, 0, 0, ist)
	svc := NewService(repo, testDoctors(), testCalendar(now), nil, zerolog.Nop())

	_, err := svc.CreateAppointment(context.Background(), patient, BookingRequest{DoctorID: "doc-1", Date: "2030-01-07", Time: "09:00"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for a started slot, got %v", err)
	}
	if _, err := svc.CreateAppointment(context.Background(), patient, BookingRequest{DoctorID: "doc-1", Date: "2030-01-07", Time: "09:30"}); err != nil {
		t.Errorf("expected later slot today to be bookable, got %v", err)
	}
}

func TestCreateAppointment_ConcurrentSameSlot(t *testing.T) {
	for round := 0; round < 20; round++ {
		svc, _ := newTestService(newMemRepo())

		const callers = 8
		var (
			wg        sync.WaitGroup
			start     = make(chan struct{})
			successes atomic.Int32
			conflicts atomic.Int32
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				who := auth.Identity{UID: "pat-" + string(rune('a'+i)), Role: auth.RolePatient}
				_, err := svc.CreateAppointment(context.Background(), who, BookingRequest{
					DoctorID: "doc-1", Date: "2030-01-07", Time: "09:00",
				})
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, ErrSlotConflict):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if successes.Load() != 1 || conflicts.Load() != callers-1 {
			t.Fatalf("round %d: expected 1 success and %d conflicts, got %d/%d",
				round, callers-1, successes.Load(), conflicts.Load())
		}
	}
}

func TestCreateAppointment_RejectedSlotRebookable(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	first := book(t, svc, patient, "09:00")

	if _, err := svc.SetStatus(context.Background(), doctor, first.ID, StatusRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// the same patient may take the freed slot again
	again := book(t, svc, patient, "09:00")
	if again.ID == first.ID {
		t.Error("expected a new appointment")
	}
}

func TestSetStatus_Transitions(t *testing.T) {
	svc, ev := newTestService(newMemRepo())
	a := book(t, svc, patient, "09:00")

	updated, err := svc.SetStatus(context.Background(), doctor, a.ID, StatusAccepted)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if updated.Status != StatusAccepted {
		t.Errorf("expected accepted, got %s", updated.Status)
	}

	for i := 0; i < 2; i++ {
		for _, to := range []Status{StatusAccepted, StatusRejected} {
			if _, err := svc.SetStatus(context.Background(), doctor, a.ID, to); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("attempt %d to %s: expected ErrInvalidTransition, got %v", i, to, err)
			}
		}
	}

	stored, _ := svc.Get(context.Background(), doctor, a.ID)
	if stored.Status != StatusAccepted {
		t.Errorf("terminal status changed to %s", stored.Status)
	}
	if got := ev.types(); len(got) != 2 || got[1] != "appointment.accepted" {
		t.Errorf("expected booked then accepted events, got %v", got)
	}
}

func TestSetStatus_Errors(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	a := book(t, svc, patient, "09:00")

	if _, err := svc.SetStatus(context.Background(), doctor, a.ID, StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for pending -> pending, got %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), doctor, a.ID, "cancelled"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.SetStatus(context.Background(), doctor, uuid.New(), StatusAccepted); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	other := auth.Identity{UID: "doc-2", Role: auth.RoleDoctor}
	if _, err := svc.SetStatus(context.Background(), other, a.ID, StatusAccepted); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestSetStatus_ConcurrentAcceptReject(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	a := book(t, svc, patient, "09:00")

	var wg sync.WaitGroup
	var ok atomic.Int32
	for _, to := range []Status{StatusAccepted, StatusRejected, StatusAccepted, StatusRejected} {
		wg.Add(1)
		go func(to Status) {
			defer wg.Done()
			if _, err := svc.SetStatus(context.Background(), doctor, a.ID, to); err == nil {
				ok.Add(1)
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}(to)
	}
	wg.Wait()

	if ok.Load() != 1 {
		t.Errorf("expected exactly one transition to win, got %d", ok.Load())
	}
}

type sinkCall struct{ user, msg string }

type memSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (m *memSink) Notify(_ context.Context, user, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sinkCall{user, msg})
	return nil
}

func TestSetStatus_PatientNotified(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	sink := &memSink{}
	svc.OnTransition(PatientNotifier(sink))

	a := book(t, svc, patient, "09:30")
	if _, err := svc.SetStatus(context.Background(), doctor, a.ID, StatusRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if len(sink.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(sink.calls))
	}
	want := sinkCall{"pat-1", "Your appointment on 2030-01-07 at 09:30 has been rejected."}
	if sink.calls[0] != want {
		t.Errorf("expected %+v, got %+v", want, sink.calls[0])
	}
}

func TestHooks_FailuresDoNotFailTransition(t *testing.T) {
	svc, _ := newTestService(newMemRepo())

	var asyncRan atomic.Bool
	svc.OnTransition(Hook{Name: "boom", Run: func(context.Context, *Appointment) error {
		panic("hook exploded")
	}})
	svc.OnTransition(Hook{Name: "fails", Run: func(context.Context, *Appointment) error {
		return errors.New("downstream unavailable")
	}})
	svc.OnTransition(PatientNotifier(notification.SinkFunc(func(context.Context, string, string) error {
		return notification.ErrNotificationFailed
	})))
	svc.OnTransition(Hook{Name: "settle", On: []Status{StatusAccepted}, Async: true, Run: func(ctx context.Context, a *Appointment) error {
		if ctx.Err() != nil {
			t.Error("async hook must not inherit request cancellation")
		}
		asyncRan.Store(true)
		panic("async exploded")
	}})

	a := book(t, svc, patient, "09:00")

	ctx, cancel := context.WithCancel(context.Background())
	updated, err := svc.SetStatus(ctx, doctor, a.ID, StatusAccepted)
	cancel()
	svc.Wait()

	if err != nil {
		t.Fatalf("transition must succeed despite hook failures, got %v", err)
	}
	if updated.Status != StatusAccepted {
		t.Errorf("expected accepted, got %s", updated.Status)
	}
	if !asyncRan.Load() {
		t.Error("expected async hook to run")
	}
}

func TestHooks_FilterByStatus(t *testing.T) {
	svc, _ := newTestService(newMemRepo())

	var accepted, rejected atomic.Int32
	svc.OnTransition(Hook{Name: "on-accept", On: []Status{StatusAccepted}, Run: func(context.Context, *Appointment) error {
		accepted.Add(1)
		return nil
	}})
	svc.OnTransition(Hook{Name: "on-reject", On: []Status{StatusRejected}, Run: func(context.Context, *Appointment) error {
		rejected.Add(1)
		return nil
	}})

	a := book(t, svc, patient, "09:00")
	if _, err := svc.SetStatus(context.Background(), doctor, a.ID, StatusRejected); err != nil {
		t.Fatal(err)
	}

	if accepted.Load() != 0 || rejected.Load() != 1 {
		t.Errorf("expected only the reject hook, got accepted=%d rejected=%d", accepted.Load(), rejected.Load())
	}
}

func TestGetAndList_Visibility(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	mine := book(t, svc, patient, "09:30")
	book(t, svc, patient2, "09:00")

	if _, err := svc.Get(context.Background(), patient2, mine.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected outsider to get ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), doctor, mine.ID); err != nil {
		t.Errorf("expected doctor to see appointment, got %v", err)
	}

	items, total, err := svc.List(context.Background(), patient, "", 10, 0)
	if err != nil || total != 1 || items[0].ID != mine.ID {
		t.Errorf("patient list: %v %d %v", items, total, err)
	}

	items, total, err = svc.List(context.Background(), doctor, "", 10, 0)
	if err != nil || total != 2 {
		t.Fatalf("doctor list: %d %v", total, err)
	}
	if items[0].Time != "09:00" || items[1].Time != "09:30" {
		t.Errorf("expected date/time ordering, got %s then %s", items[0].Time, items[1].Time)
	}

	if _, _, err := svc.List(context.Background(), doctor, "bogus", 10, 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
