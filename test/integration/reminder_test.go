package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/reminder"
	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/notification"
)

func TestReminder_OverlappingSweepsSendOnce(t *testing.T) {
	pool := newSchemaPool(t)
	seedAccounts(t, pool,
		seedAccount{id: "doc-1", name: "Meera Rao", role: "doctor"},
		seedAccount{id: "pat-1", name: "Arjun", role: "patient"},
	)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, appt_date, appt_time, status)
		VALUES (gen_random_uuid(), 'pat-1', 'doc-1', '2030-01-07', '09:20', 'accepted'),
		       (gen_random_uuid(), 'pat-1', 'doc-1', '2030-01-07', '11:00', 'accepted')`)
	if err != nil {
		t.Fatalf("seed appointments: %v", err)
	}

	var (
		mu    sync.Mutex
		sent  []string
		store = reminder.NewStorePG(pool)
		now   = time.Date(2030, time.January, 7, 9, 0, 0, 0, ist)
	)
	sink := notification.SinkFunc(func(_ context.Context, uid, msg string) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, msg)
		return nil
	})
	cal := scheduling.NewCalendar(ist).WithClock(func() time.Time { return now })
	sw := reminder.NewSweeper(store, cal, sink, nil, reminder.Config{Lookahead: 30 * time.Minute, Lease: 5 * time.Minute}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sw.Sweep(ctx); err != nil {
				t.Errorf("sweep: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(sent) != 1 || sent[0] != "You have an appointment with Dr. Meera Rao at 09:20 today." {
		t.Fatalf("expected one reminder, got %v", sent)
	}

	var reminded int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE reminder_sent`).Scan(&reminded); err != nil {
		t.Fatal(err)
	}
	if reminded != 1 {
		t.Errorf("expected one appointment marked, got %d", reminded)
	}

	res, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 {
		t.Errorf("expected no resend, got %+v", res)
	}
}
