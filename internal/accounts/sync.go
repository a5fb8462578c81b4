package accounts

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Mykey001/Mt5-brigde/internal/secrets"
	"github.com/Mykey001/Mt5-brigde/internal/terminal"
)

// Notifier receives the id of an account whose sync just succeeded, after the
// gateway lock has been released.
type Notifier interface {
	AccountSynced(accountID uint)
}

// SyncService pulls fresh state for one account through the terminal gateway
// and reconciles it into the registry. Every call is transactional from the
// caller's point of view: either the mirror reflects the terminal and the
// account is marked connected, or the account is marked errored with the
// captured message — never anything in between.
type SyncService struct {
	db       *Database
	gateway  *terminal.Gateway
	cipher   *secrets.Cipher
	notifier Notifier
}

func NewSyncService(db *Database, gateway *terminal.Gateway, cipher *secrets.Cipher) *SyncService {
	return &SyncService{db: db, gateway: gateway, cipher: cipher}
}

// SetNotifier installs the fan-out hook. Optional; wired in main after the
// hub exists.
func (s *SyncService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SyncAccount connects the account's credentials, mirrors its snapshot,
// positions and orders, and persists the outcome.
func (s *SyncService) SyncAccount(account *Account) error {
	return s.SyncAndFetch(account, nil)
}

// SyncAndFetch is SyncAccount plus an optional extra read executed inside the
// same gateway critical section. History endpoints use it so the data they
// return can only come from the account they were asked about — the session
// cannot be stolen by another account between the sync and the read.
func (s *SyncService) SyncAndFetch(account *Account, fetch func(*terminal.Session) error) error {
	err := s.runSync(account, fetch)
	if err != nil {
		s.markError(account, err)
		return err
	}

	log.Info().Uint("account_id", account.ID).Msg("account synced")

	// Fan-out happens outside the gateway lock.
	if s.notifier != nil {
		s.notifier.AccountSynced(account.ID)
	}
	return nil
}

func (s *SyncService) runSync(account *Account, fetch func(*terminal.Session) error) error {
	password, err := s.cipher.Decrypt(account.EncryptedPassword)
	if err != nil {
		return errors.Wrap(err, "decrypting stored credentials")
	}

	login, err := strconv.ParseUint(account.AccountNumber, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "account number %q is not a terminal login", account.AccountNumber)
	}

	return s.gateway.WithSession(account.ID, login, password, account.Server, func(sess *terminal.Session) error {
		info, err := sess.AccountInfo()
		if err != nil {
			return errors.Wrap(err, "reading account snapshot")
		}
		if info == nil {
			return errors.New("terminal returned no account snapshot")
		}

		positions, err := sess.Positions()
		if err != nil {
			return errors.Wrap(err, "reading positions")
		}
		orders, err := sess.Orders()
		if err != nil {
			return errors.Wrap(err, "reading pending orders")
		}

		if err := s.reconcile(account, info, positions, orders); err != nil {
			return err
		}

		if fetch != nil {
			return fetch(sess)
		}
		return nil
	})
}

// reconcile applies the full terminal report to the registry in one
// transaction: snapshot overwrite plus full-replace-by-diff of positions and
// orders. A position opened and closed between two syncs is never observed;
// that staleness window is bounded by the sync interval and accepted.
func (s *SyncService) reconcile(account *Account, info *terminal.AccountInfo, positions []terminal.PositionInfo, orders []terminal.OrderInfo) error {
	return s.db.Transaction(func(tx *Database) error {
		if err := reconcilePositions(tx, account.ID, positions); err != nil {
			return errors.Wrap(err, "reconciling positions")
		}
		if err := reconcileOrders(tx, account.ID, orders); err != nil {
			return errors.Wrap(err, "reconciling orders")
		}

		account.AccountName = info.Name
		account.Balance = info.Balance
		account.Equity = info.Equity
		account.Margin = info.Margin
		account.FreeMargin = info.FreeMargin
		account.MarginLevel = info.MarginLevel
		account.Leverage = info.Leverage
		if info.Currency != "" {
			account.Currency = info.Currency
		}

		now := time.Now().UTC()
		account.Status = StatusConnected
		account.LastConnected = &now
		account.LastSync = &now
		account.ErrorMessage = ""

		return tx.SaveAccount(account)
	})
}

func reconcilePositions(tx *Database, accountID uint, reported []terminal.PositionInfo) error {
	tickets := make([]string, 0, len(reported))
	for _, p := range reported {
		tickets = append(tickets, p.Ticket)
	}
	if err := tx.DeletePositionsNotIn(accountID, tickets); err != nil {
		return err
	}

	for _, p := range reported {
		existing, err := tx.GetPositionByTicket(p.Ticket)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.AccountID = accountID
			existing.CurrentPrice = p.CurrentPrice
			existing.Profit = p.Profit
			existing.Swap = p.Swap
			existing.Commission = p.Commission
			existing.StopLoss = p.StopLoss
			existing.TakeProfit = p.TakeProfit
			if err := tx.SavePosition(existing); err != nil {
				return err
			}
			continue
		}

		if err := tx.CreatePosition(&Position{
			AccountID:    accountID,
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Type:         p.Type,
			Volume:       p.Volume,
			OpenPrice:    p.OpenPrice,
			CurrentPrice: p.CurrentPrice,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			Profit:       p.Profit,
			Swap:         p.Swap,
			Commission:   p.Commission,
			OpenTime:     p.OpenTime,
		}); err != nil {
			return err
		}
	}
	return nil
}

func reconcileOrders(tx *Database, accountID uint, reported []terminal.OrderInfo) error {
	tickets := make([]string, 0, len(reported))
	for _, o := range reported {
		tickets = append(tickets, o.Ticket)
	}
	if err := tx.DeleteOrdersNotIn(accountID, tickets); err != nil {
		return err
	}

	for _, o := range reported {
		existing, err := tx.GetOrderByTicket(o.Ticket)
		if err != nil {
			return err
		}
		if existing != nil {
			// Brokers can modify a resting order's price, volume and
			// protection levels, so persisting tickets are refreshed
			// rather than frozen at first sight.
			existing.AccountID = accountID
			existing.Volume = o.Volume
			existing.Price = o.Price
			existing.StopLoss = o.StopLoss
			existing.TakeProfit = o.TakeProfit
			if err := tx.SaveOrder(existing); err != nil {
				return err
			}
			continue
		}

		if err := tx.CreateOrder(&Order{
			AccountID:  accountID,
			Ticket:     o.Ticket,
			Symbol:     o.Symbol,
			Type:       o.Type,
			Volume:     o.Volume,
			Price:      o.Price,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			TimeSetup:  o.TimeSetup,
		}); err != nil {
			return err
		}
	}
	return nil
}

// markError records the failure on the account. Only status and error text
// are written so the last good snapshot stays readable.
func (s *SyncService) markError(account *Account, cause error) {
	account.Status = StatusError
	account.ErrorMessage = cause.Error()

	if err := s.db.SetAccountStatus(account.ID, StatusError, cause.Error()); err != nil {
		log.Error().Err(err).Uint("account_id", account.ID).Msg("failed to persist sync error")
	}
	log.Warn().Err(cause).Uint("account_id", account.ID).Msg("account sync failed")
}

// DealsHistory re-syncs the account and reads its deal history for the last
// `days` days inside the same critical section.
func (s *SyncService) DealsHistory(account *Account, days int) ([]terminal.Deal, error) {
	var deals []terminal.Deal
	err := s.SyncAndFetch(account, func(sess *terminal.Session) error {
		to := time.Now()
		from := to.AddDate(0, 0, -days)
		var ferr error
		deals, ferr = sess.Deals(from, to)
		return errors.Wrap(ferr, "reading deal history")
	})
	if err != nil {
		return nil, err
	}
	return deals, nil
}

// OrdersHistory mirrors DealsHistory for historical orders.
func (s *SyncService) OrdersHistory(account *Account, days int) ([]terminal.HistoryOrder, error) {
	var hist []terminal.HistoryOrder
	err := s.SyncAndFetch(account, func(sess *terminal.Session) error {
		to := time.Now()
		from := to.AddDate(0, 0, -days)
		var ferr error
		hist, ferr = sess.HistoryOrders(from, to)
		return errors.Wrap(ferr, "reading order history")
	})
	if err != nil {
		return nil, err
	}
	return hist, nil
}
