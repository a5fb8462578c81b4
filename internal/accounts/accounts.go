package accounts

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Mykey001/Mt5-brigde/internal/secrets"
	"github.com/Mykey001/Mt5-brigde/internal/terminal"
	"github.com/Mykey001/Mt5-brigde/pkg/response"
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrNothingToUpdate = errors.New("nothing to update")
)

// Service owns account lifecycle: registration with initial sync, updates
// with re-sync, deletion, reconnect, forced sync, and the history reads that
// must re-authenticate first.
type Service struct {
	db      *Database
	sync    *SyncService
	gateway *terminal.Gateway
	cipher  *secrets.Cipher
	brokers *Directory
}

func NewService(gormDB *gorm.DB, sync *SyncService, gateway *terminal.Gateway, cipher *secrets.Cipher, brokers *Directory) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		sync:    sync,
		gateway: gateway,
		cipher:  cipher,
		brokers: brokers,
	}
}

// DB exposes the registry for collaborators wired in main.
func (s *Service) DB() *Database {
	return s.db
}

// Brokers returns the static broker directory.
func (s *Service) Brokers() []Broker {
	return s.brokers.All()
}

// CreateAccount validates uniqueness, stores the encrypted credential and
// performs the initial sync. If that sync fails the row is rolled back and
// the broker's error detail returned, so a bad registration leaves no trace.
func (s *Service) CreateAccount(req *CreateAccountRequest) (*Account, error) {
	existing, err := s.db.GetAccountByIdentity(req.UserID, req.BrokerName, req.AccountNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAccountExists
	}

	encrypted, err := s.cipher.Encrypt(req.Password)
	if err != nil {
		return nil, errors.Wrap(err, "encrypting credentials")
	}

	account := &Account{
		UserID:            req.UserID,
		BrokerName:        req.BrokerName,
		AccountNumber:     req.AccountNumber,
		EncryptedPassword: encrypted,
		Server:            req.Server,
		Status:            StatusConnecting,
	}
	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}

	if err := s.sync.SyncAccount(account); err != nil {
		if delErr := s.db.DeleteAccount(account.ID); delErr != nil {
			log.Error().Err(delErr).Uint("account_id", account.ID).
				Msg("failed to roll back account after initial sync failure")
		}
		return nil, errors.Wrap(err, "failed to connect")
	}

	return account, nil
}

func (s *Service) ListAccounts(userID uint) ([]Account, error) {
	return s.db.ListAccountsByUser(userID)
}

func (s *Service) GetAccount(id uint) (*Account, error) {
	account, err := s.db.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// UpdateAccount replaces the password and/or server, then re-syncs with the
// new settings. The row survives a failed re-sync (status=error), unlike at
// creation time.
func (s *Service) UpdateAccount(id uint, req *UpdateAccountRequest) (*Account, error) {
	account, err := s.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if req.Password == "" && req.Server == "" {
		return nil, ErrNothingToUpdate
	}

	if req.Password != "" {
		encrypted, err := s.cipher.Encrypt(req.Password)
		if err != nil {
			return nil, errors.Wrap(err, "encrypting credentials")
		}
		account.EncryptedPassword = encrypted
	}
	if req.Server != "" {
		account.Server = req.Server
	}

	account.Status = StatusConnecting
	if err := s.db.SaveAccount(account); err != nil {
		return nil, err
	}

	if err := s.sync.SyncAccount(account); err != nil {
		return nil, errors.Wrap(err, "failed to reconnect")
	}
	return account, nil
}

// DeleteAccount releases the gateway slot if held and cascades the delete to
// mirrored positions and orders.
func (s *Service) DeleteAccount(id uint) error {
	account, err := s.GetAccount(id)
	if err != nil {
		return err
	}
	s.gateway.Disconnect(account.ID)
	return s.db.DeleteAccount(account.ID)
}

// Reconnect forces a fresh authenticate+sync for the account.
func (s *Service) Reconnect(id uint) (*Account, error) {
	account, err := s.GetAccount(id)
	if err != nil {
		return nil, err
	}

	account.Status = StatusConnecting
	if err := s.db.SaveAccount(account); err != nil {
		return nil, err
	}

	if err := s.sync.SyncAccount(account); err != nil {
		return nil, errors.Wrap(err, "reconnection failed")
	}
	return account, nil
}

// ForceSync runs one sync and reports the outcome without failing the HTTP
// call; the account row carries the detail either way.
func (s *Service) ForceSync(id uint) (*Account, bool, error) {
	account, err := s.GetAccount(id)
	if err != nil {
		return nil, false, err
	}
	syncErr := s.sync.SyncAccount(account)
	return account, syncErr == nil, nil
}

// Deals re-authenticates the account and returns its deal history for the
// day window. The re-sync is not an optimization target: a different account
// may hold the terminal session, and skipping it would serve that account's
// data.
func (s *Service) Deals(id uint, days int) (*Account, []terminal.Deal, error) {
	account, err := s.GetAccount(id)
	if err != nil {
		return nil, nil, err
	}
	deals, err := s.sync.DealsHistory(account, days)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect")
	}
	return account, deals, nil
}

// OrdersHistory mirrors Deals for historical orders.
func (s *Service) OrdersHistory(id uint, days int) (*Account, []terminal.HistoryOrder, error) {
	account, err := s.GetAccount(id)
	if err != nil {
		return nil, nil, err
	}
	hist, err := s.sync.OrdersHistory(account, days)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect")
	}
	return account, hist, nil
}

// Migrate bulk re-keys accounts between user ids.
func (s *Service) Migrate(req *MigrateRequest) (int64, error) {
	return s.db.MigrateUser(req.FromUserID, req.ToUserID)
}

// GinHandlers contains the HTTP handlers for account endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ListBrokersHandler handles GET /accounts/brokers.
func (h *GinHandlers) ListBrokersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.service.Brokers())
	}
}

// CreateAccountHandler handles POST /accounts.
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		account, err := h.service.CreateAccount(&req)
		switch {
		case err == nil:
			response.Success(c, account)
		case errors.Is(err, ErrAccountExists):
			response.Conflict(c, "Account already exists")
		default:
			// Broker-supplied connect detail travels back to the client.
			response.BadRequest(c, err.Error())
		}
	}
}

// ListAccountsHandler handles GET /accounts?user_id=.
func (h *GinHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Query("user_id"), 10, 32)
		if err != nil {
			response.BadRequest(c, "user_id query parameter is required")
			return
		}

		accounts, err := h.service.ListAccounts(uint(userID))
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, accounts)
	}
}

// GetAccountHandler handles GET /accounts/:id.
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.lookup(c)
		if !ok {
			return
		}
		response.Success(c, account)
	}
}

// UpdateAccountHandler handles PUT /accounts/:id.
func (h *GinHandlers) UpdateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := accountID(c)
		if !ok {
			return
		}

		var req UpdateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		account, err := h.service.UpdateAccount(id, &req)
		switch {
		case err == nil:
			response.Success(c, account)
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, "Account not found")
		case errors.Is(err, ErrNothingToUpdate):
			response.BadRequest(c, "Provide a password or server to update")
		default:
			response.BadRequest(c, err.Error())
		}
	}
}

// DeleteAccountHandler handles DELETE /accounts/:id.
func (h *GinHandlers) DeleteAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := accountID(c)
		if !ok {
			return
		}

		err := h.service.DeleteAccount(id)
		switch {
		case err == nil:
			c.Status(http.StatusNoContent)
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, "Account not found")
		default:
			response.InternalError(c, err.Error())
		}
	}
}

// ReconnectHandler handles POST /accounts/:id/reconnect.
func (h *GinHandlers) ReconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := accountID(c)
		if !ok {
			return
		}

		account, err := h.service.Reconnect(id)
		switch {
		case err == nil:
			response.Success(c, account)
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, "Account not found")
		default:
			response.BadRequest(c, err.Error())
		}
	}
}

// ForceSyncHandler handles POST /accounts/:id/sync.
func (h *GinHandlers) ForceSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := accountID(c)
		if !ok {
			return
		}

		account, success, err := h.service.ForceSync(id)
		switch {
		case err == nil:
			response.Success(c, gin.H{"success": success, "last_sync": account.LastSync})
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, "Account not found")
		default:
			response.InternalError(c, err.Error())
		}
	}
}

// DealsHandler handles GET /accounts/:id/deals?days=90.
func (h *GinHandlers) DealsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := accountID(c)
		if !ok {
			return
		}
		days := dayWindow(c)

		account, deals, err := h.service.Deals(id, days)
		switch {
		case err == nil:
			response.Success(c, gin.H{
				"account_id":     account.ID,
				"account_number": account.AccountNumber,
				"days":           days,
				"count":          len(deals),
				"deals":          deals,
			})
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, "Account not found")
		default:
			response.BadRequest(c, err.Error())
		}
	}
}

// OrdersHistoryHandler handles GET /accounts/:id/orders-history?days=90.
func (h *GinHandlers) OrdersHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := accountID(c)
		if !ok {
			return
		}
		days := dayWindow(c)

		account, orders, err := h.service.OrdersHistory(id, days)
		switch {
		case err == nil:
			response.Success(c, gin.H{
				"account_id":     account.ID,
				"account_number": account.AccountNumber,
				"days":           days,
				"count":          len(orders),
				"orders":         orders,
			})
		case errors.Is(err, ErrAccountNotFound):
			response.NotFound(c, "Account not found")
		default:
			response.BadRequest(c, err.Error())
		}
	}
}

// MigrateHandler handles POST /accounts/migrate.
func (h *GinHandlers) MigrateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MigrateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		count, err := h.service.Migrate(&req)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"success": true, "migrated_count": count})
	}
}

func (h *GinHandlers) lookup(c *gin.Context) (*Account, bool) {
	id, ok := accountID(c)
	if !ok {
		return nil, false
	}
	account, err := h.service.GetAccount(id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			response.NotFound(c, "Account not found")
		} else {
			response.InternalError(c, err.Error())
		}
		return nil, false
	}
	return account, true
}

func accountID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "Invalid account id")
		return 0, false
	}
	return uint(id), true
}

func dayWindow(c *gin.Context) int {
	days, err := strconv.Atoi(c.DefaultQuery("days", "90"))
	if err != nil || days <= 0 {
		return 90
	}
	return days
}
