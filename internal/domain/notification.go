package domain

// NotificationKind is the wire discriminator carried in tipo_msg.
type NotificationKind string

const (
	KindStockChanged  NotificationKind = "atualizacao_estoque"
	KindLowStockAlert NotificationKind = "alerta_estoque_baixo"
)

// Notification is a pushed, transient event. Only the fields of its Kind are set.
type Notification struct {
	Kind      NotificationKind `json:"tipo_msg"`
	SKU       string           `json:"sku,omitempty"`
	Quantity  int              `json:"quantidade_atual"`
	Threshold int              `json:"ponto_ressuprimento,omitempty"`
	Message   string           `json:"mensagem,omitempty"`
}

func StockChanged(sku string, qty int) Notification {
	return Notification{Kind: KindStockChanged, SKU: sku, Quantity: qty}
}

func LowStockAlert(message string) Notification {
	return Notification{Kind: KindLowStockAlert, Message: message}
}
