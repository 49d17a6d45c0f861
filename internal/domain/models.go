package domain

import (
	"strings"
	"time"
)

// Product mirrors the backend's produto resource. SKU never changes once assigned.
type Product struct {
	ID          int    `json:"id,omitempty"`
	SKU         string `json:"sku"`
	Name        string `json:"nome"`
	Description string `json:"descricao"`
	Quantity    int    `json:"quantidade_atual"`
	Threshold   int    `json:"ponto_ressuprimento"`
}

// LowStock reports whether the product is at or below its reorder threshold.
func (p Product) LowStock() bool { return p.Quantity <= p.Threshold }

type NewProduct struct {
	SKU         string `json:"sku"`
	Name        string `json:"nome"`
	Description string `json:"descricao"`
	Quantity    int    `json:"quantidade_atual"`
	Threshold   int    `json:"ponto_ressuprimento"`
}

type ProductUpdate struct {
	Name        string `json:"nome"`
	Description string `json:"descricao"`
	Threshold   int    `json:"ponto_ressuprimento"`
}

type Direction string

const (
	DirectionIn  Direction = "entrada"
	DirectionOut Direction = "saida"
)

func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

type MovementInput struct {
	SKU       string    `json:"sku"`
	Direction Direction `json:"tipo"`
	Quantity  int       `json:"quantidade"`
}

// Movement is an immutable history entry.
type Movement struct {
	ID          int       `json:"id"`
	SKU         string    `json:"sku"`
	ProductName string    `json:"nome,omitempty"`
	Direction   Direction `json:"tipo"`
	Quantity    int       `json:"quantidade"`
	At          Timestamp `json:"data_hora"`
}

// Forecast is either an estimate (HasEstimate) or an informational message.
type Forecast struct {
	SKU           string   `json:"sku"`
	DaysRemaining *float64 `json:"dias_restantes,omitempty"`
	DailyOutflow  *float64 `json:"media_saida_diaria,omitempty"`
	Message       string   `json:"mensagem,omitempty"`
}

func (f Forecast) HasEstimate() bool { return f.DaysRemaining != nil }

// Timestamp accepts RFC 3339 as well as the zone-less ISO layout the backend emits.
type Timestamp struct{ time.Time }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}
