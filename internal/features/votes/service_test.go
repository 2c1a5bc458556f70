package votes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"serotonyl.ru/snipe-bot/internal/common"
	"serotonyl.ru/snipe-bot/internal/features/snipes"
)

// fakeLedger подменяет ленту: запоминает вызовы удаления и отдаёт
// настроенный результат.
type fakeLedger struct {
	mu      sync.Mutex
	calls   int
	lastRef [3]int64

	deleted *snipes.Snipe
	err     error
}

func (f *fakeLedger) DeleteMostRecentMatching(_ context.Context, chatID, sniperID, targetID int64) (*snipes.Snipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastRef = [3]int64{chatID, sniperID, targetID}
	return f.deleted, f.err
}

func (f *fakeLedger) deleteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testRef() EventRef {
	return EventRef{ChatID: 100, SniperID: 1, TargetID: 2, SnipeID: 42, RecordedAt: time.Now()}
}

func TestArmOnce(t *testing.T) {
	svc := NewService(&fakeLedger{}, time.Hour)
	token := svc.Register(testRef())

	sess, err := svc.Arm(token, 777)
	if err != nil {
		t.Fatalf("первое взведение: %v", err)
	}
	if sess.State != StateArmed {
		t.Errorf("состояние = %v, ожидали StateArmed", sess.State)
	}
	if sess.MessageID != 777 {
		t.Errorf("message_id = %d, ожидали 777", sess.MessageID)
	}
	if got := sess.Deadline.Sub(sess.ArmedAt); got != time.Hour {
		t.Errorf("окно = %v, ожидали 1ч", got)
	}

	// Повторное нажатие — no-op
	if _, err := svc.Arm(token, 888); !errors.Is(err, common.ErrVoteAlreadyArmed) {
		t.Fatalf("ожидали ErrVoteAlreadyArmed, получили %v", err)
	}
	if sess.MessageID != 777 {
		t.Errorf("повторное взведение изменило message_id: %d", sess.MessageID)
	}
}

func TestArmUnknownToken(t *testing.T) {
	svc := NewService(&fakeLedger{}, time.Hour)
	if _, err := svc.Arm("нет-такого", 1); !errors.Is(err, common.ErrVoteNotFound) {
		t.Fatalf("ожидали ErrVoteNotFound, получили %v", err)
	}
}

func TestCastVoteAndRevote(t *testing.T) {
	svc := NewService(&fakeLedger{}, time.Hour)
	token := svc.Register(testRef())

	// До взведения голосовать нельзя
	if _, _, err := svc.CastVote(token, 10, true); !errors.Is(err, common.ErrVoteResolved) {
		t.Fatalf("голос до взведения: ожидали ErrVoteResolved, получили %v", err)
	}

	if _, err := svc.Arm(token, 1); err != nil {
		t.Fatal(err)
	}

	up, down, err := svc.CastVote(token, 10, true)
	if err != nil || up != 1 || down != 0 {
		t.Fatalf("первый голос: up=%d down=%d err=%v", up, down, err)
	}
	up, down, _ = svc.CastVote(token, 11, false)
	if up != 1 || down != 1 {
		t.Fatalf("второй голос: up=%d down=%d", up, down)
	}

	// Переголосовать можно — старый голос заменяется, не прибавляется
	up, down, _ = svc.CastVote(token, 10, false)
	if up != 0 || down != 2 {
		t.Fatalf("после переголосования: up=%d down=%d, ожидали 0 и 2", up, down)
	}
}

func TestResolveRetracted(t *testing.T) {
	ledger := &fakeLedger{deleted: &snipes.Snipe{ID: 42}}
	svc := NewService(ledger, time.Hour)

	var got Outcome
	svc.SetResolvedCallback(func(_ *Session, out Outcome) { got = out })

	token := svc.Register(testRef())
	if _, err := svc.Arm(token, 1); err != nil {
		t.Fatal(err)
	}
	for i, up := range []bool{true, true, true, false, false, false, false, false} {
		if _, _, err := svc.CastVote(token, int64(10+i), up); err != nil {
			t.Fatal(err)
		}
	}

	svc.Resolve(token)

	if got.Verdict != VerdictRetracted {
		t.Errorf("вердикт = %v, ожидали VerdictRetracted", got.Verdict)
	}
	if got.Up != 3 || got.Down != 5 {
		t.Errorf("счёт = %d:%d, ожидали 3:5", got.Up, got.Down)
	}
	if ledger.deleteCalls() != 1 {
		t.Errorf("удаление вызвано %d раз, ожидали 1", ledger.deleteCalls())
	}
	if ledger.lastRef != [3]int64{100, 1, 2} {
		t.Errorf("удаление с параметрами %v, ожидали [100 1 2]", ledger.lastRef)
	}
}

func TestResolveUpheld(t *testing.T) {
	ledger := &fakeLedger{}
	svc := NewService(ledger, time.Hour)

	var got Outcome
	svc.SetResolvedCallback(func(_ *Session, out Outcome) { got = out })

	token := svc.Register(testRef())
	svc.Arm(token, 1)
	for i, up := range []bool{true, true, true, true, true, false, false, false} {
		svc.CastVote(token, int64(10+i), up)
	}

	svc.Resolve(token)

	if got.Verdict != VerdictUpheld {
		t.Errorf("вердикт = %v, ожидали VerdictUpheld", got.Verdict)
	}
	if ledger.deleteCalls() != 0 {
		t.Errorf("ленту трогали при сохранённом снайпе: %d вызовов", ledger.deleteCalls())
	}
}

func TestResolveTied(t *testing.T) {
	tests := []struct {
		name  string
		votes []bool
	}{
		{"равный счёт", []bool{true, true, false, false}},
		{"никто не голосовал", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{}
			svc := NewService(ledger, time.Hour)

			var got Outcome
			svc.SetResolvedCallback(func(_ *Session, out Outcome) { got = out })

			token := svc.Register(testRef())
			svc.Arm(token, 1)
			for i, up := range tt.votes {
				svc.CastVote(token, int64(10+i), up)
			}

			svc.Resolve(token)

			if got.Verdict != VerdictTied {
				t.Errorf("вердикт = %v, ожидали VerdictTied", got.Verdict)
			}
			if ledger.deleteCalls() != 0 {
				t.Errorf("ничья не должна трогать ленту: %d вызовов", ledger.deleteCalls())
			}
		})
	}
}

func TestResolveDeleteFailure(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("БД недоступна")}
	svc := NewService(ledger, time.Hour)

	var got Outcome
	svc.SetResolvedCallback(func(_ *Session, out Outcome) { got = out })

	token := svc.Register(testRef())
	svc.Arm(token, 1)
	svc.CastVote(token, 10, false)

	svc.Resolve(token)

	if got.Verdict != VerdictFailed {
		t.Errorf("вердикт = %v, ожидали VerdictFailed", got.Verdict)
	}
	// Повторных попыток нет
	if ledger.deleteCalls() != 1 {
		t.Errorf("удаление вызвано %d раз, ожидали 1", ledger.deleteCalls())
	}
}

func TestResolveAlreadyGone(t *testing.T) {
	// Запись удалили вручную до итогов — вердикт всё равно Retracted
	ledger := &fakeLedger{deleted: nil}
	svc := NewService(ledger, time.Hour)

	var got Outcome
	svc.SetResolvedCallback(func(_ *Session, out Outcome) { got = out })

	token := svc.Register(testRef())
	svc.Arm(token, 1)
	svc.CastVote(token, 10, false)

	svc.Resolve(token)

	if got.Verdict != VerdictRetracted {
		t.Errorf("вердикт = %v, ожидали VerdictRetracted", got.Verdict)
	}
}

func TestResolveExactlyOnce(t *testing.T) {
	ledger := &fakeLedger{deleted: &snipes.Snipe{ID: 42}}
	svc := NewService(ledger, time.Hour)

	resolved := 0
	svc.SetResolvedCallback(func(_ *Session, _ Outcome) { resolved++ })

	token := svc.Register(testRef())
	svc.Arm(token, 1)
	svc.CastVote(token, 10, false)

	svc.Resolve(token)
	svc.Resolve(token)
	svc.Resolve(token)

	if resolved != 1 {
		t.Errorf("итог подведён %d раз, ожидали 1", resolved)
	}
	if ledger.deleteCalls() != 1 {
		t.Errorf("удаление вызвано %d раз, ожидали 1", ledger.deleteCalls())
	}

	// Голосовать после итога нельзя
	if _, _, err := svc.CastVote(token, 11, true); !errors.Is(err, common.ErrVoteResolved) {
		t.Fatalf("ожидали ErrVoteResolved, получили %v", err)
	}
}

func TestCastVoteConcurrentWithResolve(t *testing.T) {
	ledger := &fakeLedger{deleted: &snipes.Snipe{ID: 42}}
	svc := NewService(ledger, time.Hour)

	var finalOut Outcome
	resolved := make(chan struct{})
	svc.SetResolvedCallback(func(_ *Session, out Outcome) {
		finalOut = out
		close(resolved)
	})

	token := svc.Register(testRef())
	if _, err := svc.Arm(token, 1); err != nil {
		t.Fatal(err)
	}

	// Голоса сыплются одновременно с подведением итогов —
	// как при нажатиях кнопок в момент срабатывания таймера
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				svc.CastVote(token, userID, j%2 == 0)
			}
		}(int64(10 + i))
	}
	svc.Resolve(token)
	wg.Wait()
	<-resolved

	// После итога голос не принимается и счёт не меняется
	if _, _, err := svc.CastVote(token, 99, false); !errors.Is(err, common.ErrVoteResolved) {
		t.Fatalf("голос после итога: ожидали ErrVoteResolved, получили %v", err)
	}
	sess, ok := svc.Get(token)
	if !ok {
		t.Fatal("сессия пропала до уборки")
	}
	up, down := sess.Tally()
	if up != finalOut.Up || down != finalOut.Down {
		t.Errorf("счёт изменился после итога: %d:%d, в вердикте было %d:%d",
			up, down, finalOut.Up, finalOut.Down)
	}
}

func TestTimerFires(t *testing.T) {
	ledger := &fakeLedger{deleted: &snipes.Snipe{ID: 42}}
	svc := NewService(ledger, 20*time.Millisecond)

	done := make(chan Outcome, 1)
	svc.SetResolvedCallback(func(_ *Session, out Outcome) { done <- out })

	token := svc.Register(testRef())
	svc.Arm(token, 1)
	svc.CastVote(token, 10, false)

	select {
	case out := <-done:
		if out.Verdict != VerdictRetracted {
			t.Errorf("вердикт по таймеру = %v, ожидали VerdictRetracted", out.Verdict)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("таймер не сработал")
	}
}

func TestSweep(t *testing.T) {
	svc := NewService(&fakeLedger{}, time.Hour)

	// Завершённая сессия
	resolvedToken := svc.Register(testRef())
	svc.Arm(resolvedToken, 1)
	svc.Resolve(resolvedToken)

	// Протухшая Idle-сессия
	staleToken := svc.Register(testRef())
	if sess, ok := svc.Get(staleToken); ok {
		sess.CreatedAt = time.Now().Add(-25 * time.Hour)
	}

	// Свежая Idle и взведённая — остаются
	freshToken := svc.Register(testRef())
	armedToken := svc.Register(testRef())
	svc.Arm(armedToken, 1)

	if removed := svc.Sweep(); removed != 2 {
		t.Errorf("убрано %d сессий, ожидали 2", removed)
	}
	if _, ok := svc.Get(resolvedToken); ok {
		t.Error("завершённая сессия не убрана")
	}
	if _, ok := svc.Get(staleToken); ok {
		t.Error("протухшая Idle-сессия не убрана")
	}
	if _, ok := svc.Get(freshToken); !ok {
		t.Error("свежая Idle-сессия убрана зря")
	}
	if _, ok := svc.Get(armedToken); !ok {
		t.Error("взведённая сессия убрана зря")
	}
}

func TestAbort(t *testing.T) {
	svc := NewService(&fakeLedger{}, time.Hour)

	resolved := 0
	svc.SetResolvedCallback(func(_ *Session, _ Outcome) { resolved++ })

	token := svc.Register(testRef())
	svc.Arm(token, 1)
	svc.Abort(token)

	if _, ok := svc.Get(token); ok {
		t.Error("сессия осталась после Abort")
	}
	svc.Resolve(token)
	if resolved != 0 {
		t.Error("итог подведён по отменённой сессии")
	}
}
