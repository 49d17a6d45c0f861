// Package live holds the push connection to the inventory backend and turns
// its frames into notifications on the event bus.
package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"stockboard/internal/domain"
)

type wireMessage struct {
	Kind      domain.NotificationKind `json:"tipo_msg"`
	SKU       string                  `json:"sku"`
	Quantity  *int                    `json:"quantidade_atual"`
	Threshold int                     `json:"ponto_ressuprimento"`
	Message   string                  `json:"mensagem"`
}

// Decode parses one pushed frame. ok is false for kinds this client does not
// handle; err is set only for malformed payloads.
func Decode(b []byte) (domain.Notification, bool, error) {
	return decode(b, "")
}

// decode uses hint when the payload itself carries no tipo_msg.
func decode(b []byte, hint domain.NotificationKind) (domain.Notification, bool, error) {
	var m wireMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return domain.Notification{}, false, fmt.Errorf("decode live message: %w", err)
	}
	if m.Kind == "" {
		m.Kind = hint
	}

	switch m.Kind {
	case domain.KindStockChanged:
		if m.SKU == "" || m.Quantity == nil {
			return domain.Notification{}, false, errors.New("stock update without sku or quantidade_atual")
		}
		return domain.StockChanged(m.SKU, *m.Quantity), true, nil
	case domain.KindLowStockAlert:
		n := domain.LowStockAlert(m.Message)
		n.SKU = m.SKU
		n.Threshold = m.Threshold
		if m.Quantity != nil {
			n.Quantity = *m.Quantity
		}
		return n, true, nil
	}
	return domain.Notification{}, false, nil
}
