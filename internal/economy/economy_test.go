package economy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/playrooms/backend/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		InitialCoins:             100,
		IdempotencyRetentionDays: 7,
		RakePercent:              3,
	}
}

func TestPayoutSharesFixedTables(t *testing.T) {
	cases := []struct {
		prize int64
		n     int
		want  []int64
	}{
		{970, 1, []int64{970}},
		{970, 2, []int64{679, 291}},
		{970, 3, []int64{485, 291, 194}},
		{970, 4, []int64{388, 291, 194, 97}},
	}
	for _, c := range cases {
		got := PayoutShares(c.prize, c.n)
		require.Equal(t, c.want, got, "prize=%d n=%d", c.prize, c.n)
	}
}

func TestPayoutSharesNeverExceedPrize(t *testing.T) {
	for n := 1; n <= 8; n++ {
		shares := PayoutShares(999, n)
		var sum int64
		for _, s := range shares {
			sum += s
		}
		require.LessOrEqual(t, sum, int64(999), "n=%d shares=%v", n, shares)
	}
}

func TestPayoutSharesHarmonicFallback(t *testing.T) {
	// Five finishers: only the first ceil(5/2)=3 positions are paid.
	shares := PayoutShares(1100, 5)
	require.Len(t, shares, 5)
	require.Zero(t, shares[3])
	require.Zero(t, shares[4])
	require.Greater(t, shares[0], shares[1])
	require.Greater(t, shares[1], shares[2])
	require.Greater(t, shares[2], int64(0))
}

func TestRakeThreePercent(t *testing.T) {
	s := NewService(nil, nil, testConfig())
	require.Equal(t, int64(30), s.Rake(1000))
	require.Equal(t, int64(0), s.Rake(10))
	require.Equal(t, int64(2), s.Rake(99))
}

func TestRankedPayoutScenario(t *testing.T) {
	// Pot 1000, ranking of four: rake 30, prize 970, credits 388/291/194/97.
	s := NewService(nil, nil, testConfig())
	pot := int64(1000)
	rake := s.Rake(pot)
	require.Equal(t, int64(30), rake)

	shares := PayoutShares(pot-rake, 4)
	require.Equal(t, []int64{388, 291, 194, 97}, shares)

	var sum int64
	for _, sh := range shares {
		sum += sh
	}
	require.LessOrEqual(t, sum+rake, pot)
}

func TestUsersByRankingSkipsVacatedSeats(t *testing.T) {
	seats := map[string]int{"alice": 0, "bob": 2}
	got := usersByRanking(seats, []int{2, 1, 0})
	require.Equal(t, []string{"bob", "alice"}, got)
}

// --- integration tests below need TEST_DATABASE_URL ---

func testService(t *testing.T) *Service {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping economy integration tests")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	_, err = db.Exec(`TRUNCATE wallet_accounts, wallet_transactions, outbox_messages, global_settings`)
	require.NoError(t, err)

	return NewService(db, nil, testConfig())
}

func TestProcessTransactionCreatesAccountLazily(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	res, err := s.ProcessTransaction(ctx, "lazy-user", -30, "test debit", "R1", "")
	require.NoError(t, err)
	require.Equal(t, Ok, res.Code)
	require.Equal(t, int64(70), res.BalanceAfter) // initial 100 - 30
}

func TestProcessTransactionRejectsOverdraft(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	res, err := s.ProcessTransaction(ctx, "poor-user", -150, "too much", "R1", "")
	require.NoError(t, err)
	require.Equal(t, InsufficientFunds, res.Code)

	// No ledger row, no account mutation observable as a balance change.
	bal, err := s.Balance(ctx, "poor-user")
	require.NoError(t, err)
	require.Equal(t, int64(100), bal)
}

func TestProcessTransactionZeroAmountInvalid(t *testing.T) {
	s := testService(t)
	res, err := s.ProcessTransaction(context.Background(), "u", 0, "", "", "")
	require.NoError(t, err)
	require.Equal(t, Invalid, res.Code)
}

func TestLedgerBalancesChain(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	amounts := []int64{-20, 50, -35, 10}
	for i, a := range amounts {
		res, err := s.ProcessTransaction(ctx, "chain-user", a, "step", fmt.Sprintf("S%d", i), "")
		require.NoError(t, err)
		require.Equal(t, Ok, res.Code)
	}

	rows, err := s.Transactions(ctx, "chain-user", 50)
	require.NoError(t, err)
	require.Len(t, rows, len(amounts))

	// Rows are newest first; replay oldest first and verify chaining.
	prev := int64(100)
	var sum int64
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		require.Equal(t, prev+r.Amount, r.BalanceAfter, "row %d", i)
		prev = r.BalanceAfter
		sum += r.Amount
	}

	final, err := s.Balance(ctx, "chain-user")
	require.NoError(t, err)
	require.Equal(t, int64(100)+sum, final)
}

func TestIdempotencyKeyParallel(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]TxResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := s.ProcessTransaction(ctx, "userX", -50, "stake", "R1", "K1")
			require.NoError(t, err)
			results[n] = res
		}(i)
	}
	wg.Wait()

	codes := map[ResultCode]int{}
	for _, r := range results {
		codes[r.Code]++
		require.Equal(t, int64(50), r.BalanceAfter)
	}
	require.Equal(t, 1, codes[Ok], "exactly one call succeeds")
	require.Equal(t, 1, codes[Duplicate], "the other reports the duplicate")

	var n int
	require.NoError(t, s.db.Get(&n,
		`SELECT COUNT(*) FROM wallet_transactions WHERE idempotency_key = 'K1'`))
	require.Equal(t, 1, n, "exactly one ledger row carries the key")
}

func TestRefundIsIdempotent(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	res, out, err := s.Reserve(ctx, "userR", 100, "roomR")
	require.NoError(t, err)
	require.Equal(t, Ok, out.Code)
	require.Equal(t, int64(0), out.BalanceAfter)

	// Seat join failed; refund twice.
	first, err := s.Refund(ctx, res)
	require.NoError(t, err)
	require.Equal(t, Ok, first.Code)
	require.Equal(t, int64(100), first.BalanceAfter)

	second, err := s.Refund(ctx, res)
	require.NoError(t, err)
	require.Equal(t, Duplicate, second.Code)
	require.Equal(t, int64(100), second.BalanceAfter)

	var n int
	require.NoError(t, s.db.Get(&n,
		`SELECT COUNT(*) FROM wallet_transactions
		 WHERE idempotency_key = $1`, "refund:"+res.ReservationID))
	require.Equal(t, 1, n, "double refund yields one credit row")
}

func TestCommitRelabelsWithoutBalanceChange(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	res, out, err := s.Reserve(ctx, "userC", 40, "roomC")
	require.NoError(t, err)
	require.Equal(t, Ok, out.Code)
	balBefore, _ := s.Balance(ctx, "userC")

	require.NoError(t, s.Commit(ctx, res))

	balAfter, _ := s.Balance(ctx, "userC")
	require.Equal(t, balBefore, balAfter)

	var desc, ref string
	require.NoError(t, s.db.QueryRowx(
		`SELECT description, reference_id FROM wallet_transactions WHERE idempotency_key = $1`,
		res.ReservationID).Scan(&desc, &ref))
	require.Equal(t, "Entry fee", desc)
	require.Equal(t, "ROOM:roomC:ENTRY", ref)
}

func TestPayoutsIdempotentByKey(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	seats := map[string]int{"pa": 0, "pb": 1, "pc": 2, "pd": 3}
	require.NoError(t, s.ProcessGamePayouts(ctx, "roomP", 1000, seats, "", []int{0, 1, 2, 3}))
	// Redelivery must not double-pay.
	require.NoError(t, s.ProcessGamePayouts(ctx, "roomP", 1000, seats, "", []int{0, 1, 2, 3}))

	wantBal := map[string]int64{"pa": 488, "pb": 391, "pc": 294, "pd": 197} // 100 initial + share
	for uid, want := range wantBal {
		bal, err := s.Balance(ctx, uid)
		require.NoError(t, err)
		require.Equal(t, want, bal, "user %s", uid)
	}
}

func TestInitialCoinsSettingOverridesConfig(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	_, err := s.db.Exec(`INSERT INTO global_settings (key, value) VALUES ('Economy:InitialCoins', '500')`)
	require.NoError(t, err)

	res, err := s.ProcessTransaction(ctx, "rich-user", -200, "debit", "", "")
	require.NoError(t, err)
	require.Equal(t, Ok, res.Code)
	require.Equal(t, int64(300), res.BalanceAfter)
}
