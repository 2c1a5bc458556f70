package snipes

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"serotonyl.ru/snipe-bot/internal/common"
	"serotonyl.ru/snipe-bot/internal/config"
)

// fakeLedger — in-memory реализация Ledger для тестов сервиса.
// Повторяет семантику SQL-репозитория: монотонные id, сортировка
// топов по счёту и id, «страничные» выборки новыми сверху.
type fakeLedger struct {
	mu     sync.Mutex
	nextID int64
	rows   []Snipe

	recordErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{}
}

func (f *fakeLedger) Record(_ context.Context, chatID, sniperID, targetID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return 0, f.recordErr
	}
	f.nextID++
	f.rows = append(f.rows, Snipe{
		ID:        f.nextID,
		ChatID:    chatID,
		SniperID:  sniperID,
		TargetID:  targetID,
		CreatedAt: time.Now(),
	})
	return f.nextID, nil
}

func (f *fakeLedger) deleteLastWhere(match func(s Snipe) bool) *Snipe {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if match(f.rows[i]) {
			deleted := f.rows[i]
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return &deleted
		}
	}
	return nil
}

func (f *fakeLedger) DeleteMostRecent(_ context.Context, chatID, sniperID int64) (*Snipe, error) {
	return f.deleteLastWhere(func(s Snipe) bool {
		return s.ChatID == chatID && s.SniperID == sniperID
	}), nil
}

func (f *fakeLedger) DeleteMostRecentMatching(_ context.Context, chatID, sniperID, targetID int64) (*Snipe, error) {
	return f.deleteLastWhere(func(s Snipe) bool {
		return s.ChatID == chatID && s.SniperID == sniperID && s.TargetID == targetID
	}), nil
}

func (f *fakeLedger) countWhere(match func(s Snipe) bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.rows {
		if match(s) {
			n++
		}
	}
	return n
}

func (f *fakeLedger) CountBySniper(_ context.Context, chatID, userID int64) (int64, error) {
	return f.countWhere(func(s Snipe) bool {
		return s.ChatID == chatID && s.SniperID == userID
	}), nil
}

func (f *fakeLedger) CountByTarget(_ context.Context, chatID, userID int64) (int64, error) {
	return f.countWhere(func(s Snipe) bool {
		return s.ChatID == chatID && s.TargetID == userID
	}), nil
}

func (f *fakeLedger) LastTargetedID(_ context.Context, chatID, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max int64
	for _, s := range f.rows {
		if s.ChatID == chatID && s.TargetID == userID && s.ID > max {
			max = s.ID
		}
	}
	return max, nil
}

func (f *fakeLedger) CountBySniperSince(_ context.Context, chatID, userID, sinceID int64) (int64, error) {
	return f.countWhere(func(s Snipe) bool {
		return s.ChatID == chatID && s.SniperID == userID && s.ID > sinceID
	}), nil
}

func (f *fakeLedger) top(chatID int64, limit int, key func(s Snipe) (int64, bool)) []LeaderRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[int64]int64)
	for _, s := range f.rows {
		if s.ChatID != chatID {
			continue
		}
		id, ok := key(s)
		if !ok {
			continue
		}
		counts[id]++
	}
	rows := make([]LeaderRow, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, LeaderRow{UserID: id, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].UserID < rows[j].UserID
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (f *fakeLedger) TopSnipers(_ context.Context, chatID int64, limit int) ([]LeaderRow, error) {
	return f.top(chatID, limit, func(s Snipe) (int64, bool) { return s.SniperID, true }), nil
}

func (f *fakeLedger) TopTargets(_ context.Context, chatID int64, limit int) ([]LeaderRow, error) {
	return f.top(chatID, limit, func(s Snipe) (int64, bool) { return s.TargetID, true }), nil
}

func (f *fakeLedger) TopTargetsForSniper(_ context.Context, chatID, sniperID int64, limit int) ([]LeaderRow, error) {
	return f.top(chatID, limit, func(s Snipe) (int64, bool) {
		return s.TargetID, s.SniperID == sniperID
	}), nil
}

func (f *fakeLedger) TopSnipersAgainstTarget(_ context.Context, chatID, targetID int64, limit int) ([]LeaderRow, error) {
	return f.top(chatID, limit, func(s Snipe) (int64, bool) {
		return s.SniperID, s.TargetID == targetID
	}), nil
}

func (f *fakeLedger) Page(_ context.Context, chatID int64, offset, limit int) ([]Snipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []Snipe
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].ChatID == chatID {
			all = append(all, f.rows[i])
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeLedger) TotalCount(_ context.Context, chatID int64) (int64, error) {
	return f.countWhere(func(s Snipe) bool { return s.ChatID == chatID }), nil
}

func testConfig() *config.Config {
	return &config.Config{
		SnipeHistoryPageSize:  10,
		SnipeLeaderboardLimit: 10,
		SnipeStatsTopLimit:    3,
	}
}

func TestRecordSnipeValidation(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewService(ledger, testConfig())
	ctx := context.Background()

	t.Run("самоснайп отклоняется", func(t *testing.T) {
		_, err := svc.RecordSnipe(ctx, 100, 1, 1, false)
		if !errors.Is(err, common.ErrSelfSnipe) {
			t.Fatalf("ожидали ErrSelfSnipe, получили %v", err)
		}
	})

	t.Run("бот-жертва отклоняется", func(t *testing.T) {
		_, err := svc.RecordSnipe(ctx, 100, 1, 2, true)
		if !errors.Is(err, common.ErrBotTarget) {
			t.Fatalf("ожидали ErrBotTarget, получили %v", err)
		}
	})

	// Отклонённые запросы не должны оставить следа в ленте
	total, _ := ledger.TotalCount(ctx, 100)
	if total != 0 {
		t.Fatalf("после отклонённых запросов лента не пуста: %d записей", total)
	}
}

func TestRecordAndDeleteCounts(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewService(ledger, testConfig())
	ctx := context.Background()

	// 5 записей, 2 отмены → счётчик 3
	for i := 0; i < 5; i++ {
		if _, err := svc.RecordSnipe(ctx, 100, 1, 2, false); err != nil {
			t.Fatalf("запись %d: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.DeleteLast(ctx, 100, 1); err != nil {
			t.Fatalf("отмена %d: %v", i, err)
		}
	}

	stats, err := svc.Stats(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 {
		t.Errorf("счётчик снайпера = %d, ожидали 3", stats.Total)
	}

	targetStats, err := svc.Stats(ctx, 100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if targetStats.TimesTargeted != 3 {
		t.Errorf("счётчик жертвы = %d, ожидали 3", targetStats.TimesTargeted)
	}
}

func TestDeleteMostRecentMatchingKeepsNewerUnrelated(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewService(ledger, testConfig())
	ctx := context.Background()

	// Снайпер 1 снайпит жертву 2, затем жертву 3. Откат снайпа по жертве 2
	// (путь голосования) должен снять более старую запись 1→2 и не тронуть
	// более свежую 1→3.
	if _, err := svc.RecordSnipe(ctx, 100, 1, 2, false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordSnipe(ctx, 100, 1, 3, false); err != nil {
		t.Fatal(err)
	}

	deleted, err := ledger.DeleteMostRecentMatching(ctx, 100, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if deleted == nil {
		t.Fatal("запись 1→2 не найдена для удаления")
	}
	if deleted.TargetID != 2 {
		t.Errorf("удалена запись по жертве %d, ожидали 2", deleted.TargetID)
	}

	if n, _ := ledger.CountByTarget(ctx, 100, 2); n != 0 {
		t.Errorf("по жертве 2 осталось %d записей, ожидали 0", n)
	}
	if n, _ := ledger.CountByTarget(ctx, 100, 3); n != 1 {
		t.Errorf("по жертве 3 осталось %d записей, ожидали 1", n)
	}
	stats, err := svc.Stats(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Errorf("счётчик снайпера после отката = %d, ожидали 1", stats.Total)
	}

	// Подходящих записей больше нет — пустой результат, не ошибка
	gone, err := ledger.DeleteMostRecentMatching(ctx, 100, 1, 2)
	if err != nil || gone != nil {
		t.Fatalf("повторный откат: deleted=%v err=%v, ожидали nil, nil", gone, err)
	}
}

func TestDeleteLastNothingToDelete(t *testing.T) {
	svc := NewService(newFakeLedger(), testConfig())

	_, err := svc.DeleteLast(context.Background(), 100, 1)
	if !errors.Is(err, common.ErrNothingToDelete) {
		t.Fatalf("ожидали ErrNothingToDelete, получили %v", err)
	}
}

func TestStreakResetAndGrowth(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewService(ledger, testConfig())
	ctx := context.Background()

	// Снайпер 1 набирает серию из трёх
	for i := 0; i < 3; i++ {
		res, err := svc.RecordSnipe(ctx, 100, 1, 2, false)
		if err != nil {
			t.Fatal(err)
		}
		if res.Streak != int64(i+1) {
			t.Errorf("после записи %d серия = %d, ожидали %d", i+1, res.Streak, i+1)
		}
	}

	// Снайпера 1 заснайпили — серия сбрасывается
	if _, err := svc.RecordSnipe(ctx, 100, 3, 1, false); err != nil {
		t.Fatal(err)
	}
	streak, err := svc.Streak(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if streak != 0 {
		t.Errorf("после попадания серия = %d, ожидали 0", streak)
	}

	// Новая серия начинается с единицы
	res, err := svc.RecordSnipe(ctx, 100, 1, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Streak != 1 {
		t.Errorf("серия после сброса = %d, ожидали 1", res.Streak)
	}
}

func TestScopeIsolation(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewService(ledger, testConfig())
	ctx := context.Background()

	// Один и тот же снайпер в двух чатах
	for i := 0; i < 4; i++ {
		if _, err := svc.RecordSnipe(ctx, 100, 1, 2, false); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.RecordSnipe(ctx, 200, 1, 2, false); err != nil {
		t.Fatal(err)
	}

	statsA, err := svc.Stats(ctx, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	statsB, err := svc.Stats(ctx, 200, 1)
	if err != nil {
		t.Fatal(err)
	}
	if statsA.Total != 4 || statsB.Total != 1 {
		t.Errorf("счётчики по чатам = %d и %d, ожидали 4 и 1", statsA.Total, statsB.Total)
	}

	// Отмена в одном чате не трогает другой
	if _, err := svc.DeleteLast(ctx, 200, 1); err != nil {
		t.Fatal(err)
	}
	statsA, _ = svc.Stats(ctx, 100, 1)
	if statsA.Total != 4 {
		t.Errorf("после отмены в другом чате счётчик = %d, ожидали 4", statsA.Total)
	}
}

func TestLeaderboardOrderAndTiebreak(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewService(ledger, testConfig())
	ctx := context.Background()

	record := func(sniper int64, n int) {
		for i := 0; i < n; i++ {
			if _, err := svc.RecordSnipe(ctx, 100, sniper, 99, false); err != nil {
				t.Fatal(err)
			}
		}
	}
	record(5, 3)
	record(2, 3) // ничья с 5 — выше тот, у кого меньше id
	record(7, 1)

	top, err := svc.Leaderboard(ctx, 100, LeaderboardSnipers)
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []int64{2, 5, 7}
	if len(top) != len(wantOrder) {
		t.Fatalf("длина топа %d, ожидали %d", len(top), len(wantOrder))
	}
	for i, want := range wantOrder {
		if top[i].UserID != want {
			t.Errorf("позиция %d: user %d, ожидали %d", i+1, top[i].UserID, want)
		}
	}
}

func TestHistoryPagination(t *testing.T) {
	ledger := newFakeLedger()
	svc := NewService(ledger, testConfig())
	ctx := context.Background()

	// 25 записей при размере страницы 10 → 3 страницы: 10 + 10 + 5
	for i := 0; i < 25; i++ {
		if _, err := svc.RecordSnipe(ctx, 100, 1, 2, false); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		page        int
		wantEntries int
		wantPage    int
		wantPrev    bool
		wantNext    bool
	}{
		{0, 10, 0, false, true},
		{1, 10, 1, true, true},
		{2, 5, 2, true, false},
		{99, 5, 2, true, false}, // за краем — последняя страница
		{-1, 10, 0, false, true},
	}

	for _, tt := range tests {
		p, err := svc.HistoryPage(ctx, 100, tt.page)
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Entries) != tt.wantEntries {
			t.Errorf("страница %d: %d записей, ожидали %d", tt.page, len(p.Entries), tt.wantEntries)
		}
		if p.Page != tt.wantPage {
			t.Errorf("страница %d: номер %d, ожидали %d", tt.page, p.Page, tt.wantPage)
		}
		if p.TotalPages != 3 {
			t.Errorf("страница %d: всего страниц %d, ожидали 3", tt.page, p.TotalPages)
		}
		if p.HasPrev != tt.wantPrev || p.HasNext != tt.wantNext {
			t.Errorf("страница %d: prev=%v next=%v, ожидали prev=%v next=%v",
				tt.page, p.HasPrev, p.HasNext, tt.wantPrev, tt.wantNext)
		}
	}

	// Записи новые сверху: id убывают
	p, _ := svc.HistoryPage(ctx, 100, 0)
	for i := 1; i < len(p.Entries); i++ {
		if p.Entries[i].ID >= p.Entries[i-1].ID {
			t.Fatalf("нарушен порядок: id[%d]=%d после id[%d]=%d",
				i, p.Entries[i].ID, i-1, p.Entries[i-1].ID)
		}
	}
}

func TestHistoryEmpty(t *testing.T) {
	svc := NewService(newFakeLedger(), testConfig())

	p, err := svc.HistoryPage(context.Background(), 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Entries) != 0 || p.TotalPages != 1 || p.HasPrev || p.HasNext {
		t.Fatalf("пустая история: entries=%d pages=%d prev=%v next=%v",
			len(p.Entries), p.TotalPages, p.HasPrev, p.HasNext)
	}
}

func TestRecordSnipeStoreError(t *testing.T) {
	ledger := newFakeLedger()
	wantErr := errors.New("соединение потеряно")
	ledger.recordErr = wantErr
	svc := NewService(ledger, testConfig())

	_, err := svc.RecordSnipe(context.Background(), 100, 1, 2, false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("ожидали ошибку хранилища, получили %v", err)
	}
}
