package accounts

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Mykey001/Mt5-brigde/internal/secrets"
	"github.com/Mykey001/Mt5-brigde/internal/terminal"
	"github.com/Mykey001/Mt5-brigde/internal/terminal/terminaltest"
)

type syncEnv struct {
	db      *Database
	sync    *SyncService
	fake    *terminaltest.Fake
	gateway *terminal.Gateway
	cipher  *secrets.Cipher
}

func newSyncEnv(t *testing.T) *syncEnv {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}
	if err := gormDB.AutoMigrate(&Account{}, &Position{}, &Order{}); err != nil {
		t.Fatalf("migrating registry: %v", err)
	}

	cipher, err := secrets.NewCipher("test-key")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	fake := terminaltest.New()
	gateway := terminal.NewGateway(fake, nil, time.Second)
	db := NewDatabase(gormDB)

	return &syncEnv{
		db:      db,
		sync:    NewSyncService(db, gateway, cipher),
		fake:    fake,
		gateway: gateway,
		cipher:  cipher,
	}
}

func (e *syncEnv) scriptTerminalAccount(t *testing.T, login uint64, password string, balance float64) *terminaltest.Account {
	t.Helper()
	acct := &terminaltest.Account{
		Login:    login,
		Password: password,
		Server:   "Test-Server",
		Info: terminal.AccountInfo{
			Login:      login,
			Name:       "Test Trader",
			Server:     "Test-Server",
			Balance:    balance,
			Equity:     balance,
			FreeMargin: balance,
			Leverage:   100,
			Currency:   "USD",
		},
	}
	e.fake.AddAccount(acct)
	return acct
}

func (e *syncEnv) createAccount(t *testing.T, userID uint, number, password string) *Account {
	t.Helper()
	encrypted, err := e.cipher.Encrypt(password)
	if err != nil {
		t.Fatalf("encrypting: %v", err)
	}
	account := &Account{
		UserID:            userID,
		BrokerName:        "XM",
		AccountNumber:     number,
		EncryptedPassword: encrypted,
		Server:            "Test-Server",
		Status:            StatusConnecting,
	}
	if err := e.db.CreateAccount(account); err != nil {
		t.Fatalf("creating account: %v", err)
	}
	return account
}

func fl(v float64) *float64 { return &v }

func TestSyncAccountMirrorsTerminalState(t *testing.T) {
	env := newSyncEnv(t)
	scripted := env.scriptTerminalAccount(t, 12345, "secret", 10000.0)
	scripted.Positions = []terminal.PositionInfo{
		{Ticket: "101", Symbol: "EURUSD", Type: "BUY", Volume: 0.5, OpenPrice: 1.1, CurrentPrice: 1.12, Profit: 100, OpenTime: time.Now().Add(-time.Hour)},
		{Ticket: "102", Symbol: "XAUUSD", Type: "SELL", Volume: 0.1, OpenPrice: 2300, CurrentPrice: 2290, StopLoss: fl(2310), Profit: 10, OpenTime: time.Now().Add(-2 * time.Hour)},
	}
	scripted.Orders = []terminal.OrderInfo{
		{Ticket: "201", Symbol: "GBPUSD", Type: "BUY_LIMIT", Volume: 0.2, Price: 1.25, TimeSetup: time.Now().Add(-time.Minute)},
	}

	account := env.createAccount(t, 1, "12345", "secret")
	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}

	stored, err := env.db.GetAccount(account.ID)
	if err != nil || stored == nil {
		t.Fatalf("loading account: %v", err)
	}
	if stored.Status != StatusConnected {
		t.Errorf("status = %q, want connected", stored.Status)
	}
	if stored.Balance != 10000.0 {
		t.Errorf("balance = %f, want 10000", stored.Balance)
	}
	if stored.AccountName != "Test Trader" {
		t.Errorf("account name = %q", stored.AccountName)
	}
	if stored.LastSync == nil || stored.LastConnected == nil {
		t.Error("sync timestamps not set")
	}
	if stored.ErrorMessage != "" {
		t.Errorf("error message should be cleared, got %q", stored.ErrorMessage)
	}

	// Mirror must match the terminal report in both directions.
	positions, err := env.db.ListPositions(account.ID)
	if err != nil {
		t.Fatalf("listing positions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("mirrored %d positions, want 2", len(positions))
	}
	byTicket := map[string]Position{}
	for _, p := range positions {
		byTicket[p.Ticket] = p
	}
	for _, want := range scripted.Positions {
		got, ok := byTicket[want.Ticket]
		if !ok {
			t.Fatalf("ticket %s not mirrored", want.Ticket)
		}
		if got.CurrentPrice != want.CurrentPrice || got.Profit != want.Profit || got.Volume != want.Volume {
			t.Errorf("ticket %s financial fields diverge: %+v", want.Ticket, got)
		}
	}

	orders, err := env.db.ListOrders(account.ID)
	if err != nil {
		t.Fatalf("listing orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Ticket != "201" {
		t.Fatalf("mirrored orders = %+v, want single ticket 201", orders)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	env := newSyncEnv(t)
	scripted := env.scriptTerminalAccount(t, 12345, "secret", 10000.0)
	scripted.Positions = []terminal.PositionInfo{
		{Ticket: "101", Symbol: "EURUSD", Type: "BUY", Volume: 1, OpenPrice: 1.1, CurrentPrice: 1.1, OpenTime: time.Now()},
	}
	scripted.Orders = []terminal.OrderInfo{
		{Ticket: "201", Symbol: "GBPUSD", Type: "SELL_STOP", Volume: 0.2, Price: 1.2, TimeSetup: time.Now()},
	}

	account := env.createAccount(t, 1, "12345", "secret")
	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	first, _ := env.db.ListPositions(account.ID)
	firstOrders, _ := env.db.ListOrders(account.ID)

	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	second, _ := env.db.ListPositions(account.ID)
	secondOrders, _ := env.db.ListOrders(account.ID)

	if len(first) != len(second) {
		t.Fatalf("position count changed: %d -> %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Errorf("position row recreated: id %d -> %d", first[0].ID, second[0].ID)
	}
	if len(firstOrders) != len(secondOrders) || firstOrders[0].ID != secondOrders[0].ID {
		t.Error("order rows not stable across an unchanged sync")
	}
}

func TestSyncDeletesClosedPositions(t *testing.T) {
	env := newSyncEnv(t)
	env.scriptTerminalAccount(t, 12345, "secret", 10000.0)

	account := env.createAccount(t, 1, "12345", "secret")
	if err := env.db.CreatePosition(&Position{
		AccountID: account.ID,
		Ticket:    "555",
		Symbol:    "EURUSD",
		Type:      "BUY",
		Volume:    1,
		OpenTime:  time.Now(),
	}); err != nil {
		t.Fatalf("seeding position: %v", err)
	}

	// Terminal reports no positions: ticket 555 closed in the meantime.
	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("SyncAccount: %v", err)
	}

	stale, err := env.db.GetPositionByTicket("555")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stale != nil {
		t.Fatal("closed position 555 must be deleted")
	}
}

func TestSyncUpdatesPositionInPlace(t *testing.T) {
	env := newSyncEnv(t)
	scripted := env.scriptTerminalAccount(t, 12345, "secret", 10000.0)
	scripted.Positions = []terminal.PositionInfo{
		{Ticket: "101", Symbol: "EURUSD", Type: "BUY", Volume: 1, OpenPrice: 1.1, CurrentPrice: 1.10, Profit: 0, OpenTime: time.Now()},
	}

	account := env.createAccount(t, 1, "12345", "secret")
	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	before, _ := env.db.GetPositionByTicket("101")

	scripted.Positions[0].CurrentPrice = 1.15
	scripted.Positions[0].Profit = 500
	scripted.Positions[0].Swap = -1.2

	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	after, _ := env.db.GetPositionByTicket("101")
	if after.ID != before.ID {
		t.Error("position row must be updated, not recreated")
	}
	if after.CurrentPrice != 1.15 || after.Profit != 500 || after.Swap != -1.2 {
		t.Errorf("position not refreshed: %+v", after)
	}
}

func TestSyncRefreshesPendingOrder(t *testing.T) {
	env := newSyncEnv(t)
	scripted := env.scriptTerminalAccount(t, 12345, "secret", 10000.0)
	scripted.Orders = []terminal.OrderInfo{
		{Ticket: "201", Symbol: "GBPUSD", Type: "BUY_LIMIT", Volume: 0.2, Price: 1.25, TimeSetup: time.Now()},
	}

	account := env.createAccount(t, 1, "12345", "secret")
	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	scripted.Orders[0].Price = 1.24
	scripted.Orders[0].Volume = 0.3

	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	order, _ := env.db.GetOrderByTicket("201")
	if order.Price != 1.24 || order.Volume != 0.3 {
		t.Errorf("pending order not refreshed: %+v", order)
	}
}

func TestFailedAuthPreservesSnapshot(t *testing.T) {
	env := newSyncEnv(t)
	scripted := env.scriptTerminalAccount(t, 12345, "secret", 10000.0)

	account := env.createAccount(t, 1, "12345", "secret")
	if err := env.sync.SyncAccount(account); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// Broker starts rejecting the password.
	scripted.Password = "rotated"

	if err := env.sync.SyncAccount(account); err == nil {
		t.Fatal("expected auth failure")
	}

	stored, _ := env.db.GetAccount(account.ID)
	if stored.Status != StatusError {
		t.Errorf("status = %q, want error", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("error message must carry the broker detail")
	}
	// Stale-but-available: the last good snapshot survives.
	if stored.Balance != 10000.0 {
		t.Errorf("balance mutated on failed sync: %f", stored.Balance)
	}
}

func TestSyncFailsOnUndecryptableCredential(t *testing.T) {
	env := newSyncEnv(t)
	env.scriptTerminalAccount(t, 12345, "secret", 10000.0)

	account := env.createAccount(t, 1, "12345", "secret")
	account.EncryptedPassword = "corrupted"
	if err := env.db.SaveAccount(account); err != nil {
		t.Fatalf("saving: %v", err)
	}

	if err := env.sync.SyncAccount(account); err == nil {
		t.Fatal("expected sync failure")
	}
	stored, _ := env.db.GetAccount(account.ID)
	if stored.Status != StatusError {
		t.Errorf("status = %q, want error", stored.Status)
	}
}

func TestDealsHistoryReauthenticatesTargetAccount(t *testing.T) {
	env := newSyncEnv(t)
	env.scriptTerminalAccount(t, 12345, "secret-a", 10000.0)
	accountB := env.scriptTerminalAccount(t, 67890, "secret-b", 5000.0)
	accountB.Deals = []terminal.Deal{
		{Ticket: 9001, Symbol: "EURUSD", Profit: 42, Time: time.Now().Add(-24 * time.Hour)},
	}

	rowA := env.createAccount(t, 1, "12345", "secret-a")
	rowB := env.createAccount(t, 2, "67890", "secret-b")

	// Account A holds the terminal session...
	if err := env.sync.SyncAccount(rowA); err != nil {
		t.Fatalf("sync A: %v", err)
	}
	if env.fake.ActiveLogin() != 12345 {
		t.Fatalf("active login = %d, want A", env.fake.ActiveLogin())
	}

	// ...but a deals read for B must re-authenticate B first.
	deals, err := env.sync.DealsHistory(rowB, 90)
	if err != nil {
		t.Fatalf("DealsHistory: %v", err)
	}
	if env.fake.ActiveLogin() != 67890 {
		t.Errorf("active login = %d, want B's 67890", env.fake.ActiveLogin())
	}
	if len(deals) != 1 || deals[0].Ticket != 9001 {
		t.Fatalf("deals = %+v, want B's single deal 9001", deals)
	}
	if env.gateway.IsConnected(rowA.ID) {
		t.Error("account A must be evicted after B's history read")
	}
}

type recordingNotifier struct {
	synced []uint
}

func (r *recordingNotifier) AccountSynced(accountID uint) {
	r.synced = append(r.synced, accountID)
}

func TestNotifierFiresAfterSuccessfulSyncOnly(t *testing.T) {
	env := newSyncEnv(t)
	env.scriptTerminalAccount(t, 12345, "secret", 10000.0)

	notifier := &recordingNotifier{}
	env.sync.SetNotifier(notifier)

	good := env.createAccount(t, 1, "12345", "secret")
	if err := env.sync.SyncAccount(good); err != nil {
		t.Fatalf("sync: %v", err)
	}

	bad := env.createAccount(t, 1, "99999", "nope")
	if err := env.sync.SyncAccount(bad); err == nil {
		t.Fatal("expected failure for unknown login")
	}

	if len(notifier.synced) != 1 || notifier.synced[0] != good.ID {
		t.Fatalf("notifier calls = %v, want exactly the successful account", notifier.synced)
	}
}
