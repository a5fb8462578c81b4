package accounts

import (
	"errors"

	"gorm.io/gorm"
)

// Database wraps registry access for accounts and their mirrored positions
// and orders.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn against a transactional view of the registry.
func (d *Database) Transaction(fn func(tx *Database) error) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewDatabase(tx))
	})
}

func (d *Database) CreateAccount(account *Account) error {
	return d.db.Create(account).Error
}

func (d *Database) GetAccount(id uint) (*Account, error) {
	var account Account
	if err := d.db.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountWithRelations loads an account with its mirrored positions and
// orders, as pushed to subscribers.
func (d *Database) GetAccountWithRelations(id uint) (*Account, error) {
	var account Account
	err := d.db.Preload("Positions").Preload("Orders").First(&account, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountByIdentity looks up the unique (user, broker, number) triple.
func (d *Database) GetAccountByIdentity(userID uint, brokerName, accountNumber string) (*Account, error) {
	var account Account
	err := d.db.Where("user_id = ? AND broker_name = ? AND account_number = ?",
		userID, brokerName, accountNumber).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) ListAccountsByUser(userID uint) ([]Account, error) {
	var accounts []Account
	err := d.db.Where("user_id = ?", userID).Order("id").Find(&accounts).Error
	return accounts, err
}

func (d *Database) ListAccountsByStatus(status string) ([]Account, error) {
	var accounts []Account
	err := d.db.Where("status = ?", status).Order("id").Find(&accounts).Error
	return accounts, err
}

func (d *Database) SaveAccount(account *Account) error {
	return d.db.Save(account).Error
}

// SetAccountStatus updates only the status and error message columns, leaving
// the last good snapshot untouched.
func (d *Database) SetAccountStatus(id uint, status, errorMessage string) error {
	return d.db.Model(&Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
	}).Error
}

// DeleteAccount removes the account and everything mirrored under it.
func (d *Database) DeleteAccount(id uint) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&Position{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&Order{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Account{}, id).Error
	})
}

// MigrateUser re-keys all accounts from one user id to another, returning how
// many rows moved.
func (d *Database) MigrateUser(fromUserID, toUserID uint) (int64, error) {
	res := d.db.Model(&Account{}).Where("user_id = ?", fromUserID).
		Update("user_id", toUserID)
	return res.RowsAffected, res.Error
}

func (d *Database) GetPositionByTicket(ticket string) (*Position, error) {
	var position Position
	if err := d.db.Where("ticket = ?", ticket).First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (d *Database) CreatePosition(position *Position) error {
	return d.db.Create(position).Error
}

func (d *Database) SavePosition(position *Position) error {
	return d.db.Save(position).Error
}

// DeletePositionsNotIn drops every mirrored position of the account whose
// ticket the terminal no longer reports. An empty ticket set clears all of
// them.
func (d *Database) DeletePositionsNotIn(accountID uint, tickets []string) error {
	q := d.db.Where("account_id = ?", accountID)
	if len(tickets) > 0 {
		q = q.Where("ticket NOT IN ?", tickets)
	}
	return q.Delete(&Position{}).Error
}

func (d *Database) ListPositions(accountID uint) ([]Position, error) {
	var positions []Position
	err := d.db.Where("account_id = ?", accountID).Order("ticket").Find(&positions).Error
	return positions, err
}

func (d *Database) GetOrderByTicket(ticket string) (*Order, error) {
	var order Order
	if err := d.db.Where("ticket = ?", ticket).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) CreateOrder(order *Order) error {
	return d.db.Create(order).Error
}

func (d *Database) SaveOrder(order *Order) error {
	return d.db.Save(order).Error
}

// DeleteOrdersNotIn mirrors DeletePositionsNotIn for pending orders.
func (d *Database) DeleteOrdersNotIn(accountID uint, tickets []string) error {
	q := d.db.Where("account_id = ?", accountID)
	if len(tickets) > 0 {
		q = q.Where("ticket NOT IN ?", tickets)
	}
	return q.Delete(&Order{}).Error
}

func (d *Database) ListOrders(accountID uint) ([]Order, error) {
	var orders []Order
	err := d.db.Where("account_id = ?", accountID).Order("ticket").Find(&orders).Error
	return orders, err
}
