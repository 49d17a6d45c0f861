package store

import (
	"context"
	"time"

	"stockboard/internal/domain"
)

// API is the slice of the backend the store drives.
type API interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, in domain.NewProduct) (domain.Product, error)
	UpdateProduct(ctx context.Context, sku string, in domain.ProductUpdate) (domain.Product, error)
	DeleteProduct(ctx context.Context, sku string) error
	CreateMovement(ctx context.Context, in domain.MovementInput) (domain.Product, error)
	ListHistory(ctx context.Context) ([]domain.Movement, error)
	Forecast(ctx context.Context, sku string) (domain.Forecast, error)
}

// Item is one inventory row. Pending rows are optimistic creations awaiting
// the backend; their Key is a generated id until the record is confirmed.
type Item struct {
	domain.Product
	Key     string
	Pending bool
}

// RegistrationDraft holds the product form as typed, so a failed submit
// can be shown again unchanged.
type RegistrationDraft struct {
	SKU         string
	Name        string
	Description string
	Quantity    string
	Threshold   string
}

func DefaultRegistration() RegistrationDraft {
	return RegistrationDraft{Quantity: "0", Threshold: "5"}
}

type MovementDraft struct {
	SKU       string
	Direction domain.Direction
	Quantity  string
}

func DefaultMovement() MovementDraft {
	return MovementDraft{Direction: domain.DirectionIn, Quantity: "1"}
}

type EditForm struct {
	Name        string
	Description string
	Threshold   string
}

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is the toast shown after a user action.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Alert is the low-stock banner; it is visible while Message is non-empty.
type Alert struct {
	Message   string
	SKU       string
	Quantity  int
	Threshold int
	Until     time.Time
}

type ForecastModal struct {
	Open    bool
	Loading bool
	SKU     string
	Result  *domain.Forecast
	Error   string
}

type EditModal struct {
	Open  bool
	SKU   string
	Form  EditForm
	Error string
}

// Snapshot is a consistent copy of the store, safe to read without locks.
type Snapshot struct {
	Version      uint64
	Loaded       bool
	Items        []Item
	History      []domain.Movement
	Registration RegistrationDraft
	Movement     MovementDraft
	Alert        Alert
	Notice       Notice
	Forecast     ForecastModal
	Edit         EditModal
	Live         string
}
