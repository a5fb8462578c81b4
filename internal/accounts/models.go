package accounts

import (
	"time"
)

// Connection status values persisted on an account.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusError        = "error"
)

// Account is one terminal account mirrored for a web-app user. The identity
// (user, broker, account number) is unique; the financial snapshot fields are
// overwritten on every successful sync. Passwords are only ever stored
// encrypted. Rows are hard-deleted so a rolled-back create never blocks a
// retry on the unique index.
type Account struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID        uint   `gorm:"uniqueIndex:idx_account_identity" json:"user_id"`
	BrokerName    string `gorm:"size:100;uniqueIndex:idx_account_identity" json:"broker_name"`
	AccountNumber string `gorm:"size:50;uniqueIndex:idx_account_identity" json:"account_number"`

	EncryptedPassword string `gorm:"type:text" json:"-"`
	Server            string `gorm:"size:100" json:"server"`

	Status        string     `gorm:"size:20;default:disconnected" json:"status"`
	LastConnected *time.Time `json:"last_connected"`
	LastSync      *time.Time `json:"last_sync"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message,omitempty"`

	// Snapshot synced from the terminal.
	AccountName string  `gorm:"size:200" json:"account_name,omitempty"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Leverage    int     `json:"leverage"`
	Currency    string  `gorm:"size:10;default:USD" json:"currency"`

	Positions []Position `gorm:"constraint:OnDelete:CASCADE" json:"positions,omitempty"`
	Orders    []Order    `gorm:"constraint:OnDelete:CASCADE" json:"orders,omitempty"`
}

// Position mirrors one open position. Tickets are broker-assigned and
// globally unique; a position belongs to exactly one account and is removed
// when the terminal stops reporting its ticket.
type Position struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`

	AccountID uint   `gorm:"index" json:"account_id"`
	Ticket    string `gorm:"size:50;uniqueIndex" json:"ticket"`

	Symbol       string    `gorm:"size:20" json:"symbol"`
	Type         string    `gorm:"size:10" json:"type"` // BUY or SELL
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     *float64  `json:"sl"`
	TakeProfit   *float64  `json:"tp"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	OpenTime     time.Time `json:"open_time"`
}

// Order mirrors one pending order, lifecycle keyed purely by ticket
// presence in the terminal's report.
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`

	AccountID uint   `gorm:"index" json:"account_id"`
	Ticket    string `gorm:"size:50;uniqueIndex" json:"ticket"`

	Symbol     string    `gorm:"size:20" json:"symbol"`
	Type       string    `gorm:"size:20" json:"type"` // BUY_LIMIT, SELL_STOP, ...
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	StopLoss   *float64  `json:"sl"`
	TakeProfit *float64  `json:"tp"`
	TimeSetup  time.Time `json:"time_setup"`
}

// CreateAccountRequest is the payload for registering a new account.
type CreateAccountRequest struct {
	UserID        uint   `json:"user_id" binding:"required"`
	BrokerName    string `json:"broker_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	Password      string `json:"password" binding:"required"`
	Server        string `json:"server" binding:"required"`
}

// UpdateAccountRequest changes credentials and/or server; both fields are
// optional but at least one must be set.
type UpdateAccountRequest struct {
	Password string `json:"password"`
	Server   string `json:"server"`
}

// MigrateRequest re-keys every account from one owning user to another.
type MigrateRequest struct {
	FromUserID uint `json:"from_user_id" binding:"required"`
	ToUserID   uint `json:"to_user_id" binding:"required"`
}
