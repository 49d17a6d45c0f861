// Package view turns a store snapshot into the page model the templates
// render. Build is pure: the same snapshot always yields the same page.
package view

import (
	"fmt"
	"net/url"
	"strconv"

	"stockboard/internal/domain"
	"stockboard/internal/store"
	"stockboard/internal/validate"
)

type Tab struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

type Row struct {
	Key         string `json:"key"`
	SKU         string `json:"sku"`
	Path        string `json:"path"` // SKU escaped for use in a URL path
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Threshold   int    `json:"threshold"`
	LowStock    bool   `json:"low_stock"`
	Pending     bool   `json:"pending"`
}

type HistoryRow struct {
	Key         string `json:"key"`
	ID          int    `json:"id"`
	SKU         string `json:"sku"`
	ProductName string `json:"product_name"`
	Direction   string `json:"direction"`
	Label       string `json:"label"`
	Quantity    int    `json:"quantity"`
	At          string `json:"at"`
}

type Bar struct {
	SKU          string `json:"sku"`
	Quantity     int    `json:"quantity"`
	Threshold    int    `json:"threshold"`
	QuantityPct  int    `json:"quantity_pct"`
	ThresholdPct int    `json:"threshold_pct"`
	LowStock     bool   `json:"low_stock"`
}

type Chart struct {
	Empty        bool   `json:"empty"`
	EmptyMessage string `json:"empty_message,omitempty"`
	Bars         []Bar  `json:"bars"`
}

type Alert struct {
	Message string `json:"message"`
	SKU     string `json:"sku,omitempty"`
}

type Notice struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type Choice struct {
	SKU      string `json:"sku"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

type Forecast struct {
	SKU         string `json:"sku"`
	Loading     bool   `json:"loading"`
	Error       string `json:"error,omitempty"`
	HasEstimate bool   `json:"has_estimate"`
	Days        string `json:"days,omitempty"`
	DailyAvg    string `json:"daily_avg,omitempty"`
	Message     string `json:"message,omitempty"`
}

type Edit struct {
	SKU         string `json:"sku"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Threshold   string `json:"threshold"`
	Error       string `json:"error,omitempty"`
}

type Live struct {
	State        string `json:"state"`
	Label        string `json:"label"`
	CanReconnect bool   `json:"can_reconnect"`
}

type Page struct {
	Version       uint64                  `json:"version"`
	Tab           string                  `json:"tab"`
	Tabs          []Tab                   `json:"tabs"`
	Loaded        bool                    `json:"loaded"`
	Alert         *Alert                  `json:"alert,omitempty"`
	Notice        *Notice                 `json:"notice,omitempty"`
	Rows          []Row                   `json:"rows"`
	LowStockCount int                     `json:"low_stock_count"`
	History       []HistoryRow            `json:"history"`
	Chart         Chart                   `json:"chart"`
	Registration  store.RegistrationDraft `json:"registration"`
	Movement      store.MovementDraft     `json:"movement"`
	Products      []Choice                `json:"products"`
	Forecast      *Forecast               `json:"forecast,omitempty"`
	Edit          *Edit                   `json:"edit,omitempty"`
	Live          Live                    `json:"live"`
}

var tabs = []Tab{
	{Key: "inventory", Label: "Inventory"},
	{Key: "history", Label: "History"},
	{Key: "chart", Label: "Chart"},
}

const emptyChart = "No products registered yet."

func Build(snap store.Snapshot, tab string) Page {
	tab = validate.Tab(tab)
	p := Page{
		Version:      snap.Version,
		Tab:          tab,
		Loaded:       snap.Loaded,
		Registration: snap.Registration,
		Movement:     snap.Movement,
		Live:         liveView(snap.Live),
		Rows:         make([]Row, 0, len(snap.Items)),
		History:      make([]HistoryRow, 0, len(snap.History)),
	}
	for _, t := range tabs {
		t.Active = t.Key == tab
		p.Tabs = append(p.Tabs, t)
	}

	if snap.Alert.Message != "" {
		p.Alert = &Alert{Message: snap.Alert.Message, SKU: snap.Alert.SKU}
	}
	if snap.Notice.Text != "" {
		p.Notice = &Notice{Level: string(snap.Notice.Level), Text: snap.Notice.Text}
	}

	for _, it := range snap.Items {
		low := it.LowStock()
		if low && !it.Pending {
			p.LowStockCount++
		}
		p.Rows = append(p.Rows, Row{
			Key:         it.Key,
			SKU:         it.SKU,
			Path:        url.PathEscape(it.SKU),
			Name:        it.Name,
			Description: it.Description,
			Quantity:    it.Quantity,
			Threshold:   it.Threshold,
			LowStock:    low,
			Pending:     it.Pending,
		})
		if !it.Pending {
			p.Products = append(p.Products, Choice{
				SKU:      it.SKU,
				Label:    fmt.Sprintf("%s (%s)", it.Name, it.SKU),
				Selected: it.SKU == snap.Movement.SKU,
			})
		}
	}

	for _, m := range snap.History {
		p.History = append(p.History, historyRow(m))
	}
	p.Chart = chart(snap.Items)

	if f := snap.Forecast; f.Open {
		fv := &Forecast{SKU: f.SKU, Loading: f.Loading, Error: f.Error}
		if r := f.Result; r != nil {
			fv.HasEstimate = r.HasEstimate()
			fv.Message = r.Message
			if r.DaysRemaining != nil {
				fv.Days = strconv.FormatFloat(*r.DaysRemaining, 'f', 1, 64)
			}
			if r.DailyOutflow != nil {
				fv.DailyAvg = strconv.FormatFloat(*r.DailyOutflow, 'f', 2, 64)
			}
		}
		p.Forecast = fv
	}
	if e := snap.Edit; e.Open {
		p.Edit = &Edit{SKU: e.SKU, Path: url.PathEscape(e.SKU), Name: e.Form.Name, Description: e.Form.Description, Threshold: e.Form.Threshold, Error: e.Error}
	}
	return p
}

func historyRow(m domain.Movement) HistoryRow {
	label := "Entry"
	if m.Direction == domain.DirectionOut {
		label = "Exit"
	}
	at := ""
	if !m.At.IsZero() {
		at = m.At.Format("2006-01-02 15:04:05")
	}
	return HistoryRow{
		Key:         "mov-" + strconv.Itoa(m.ID),
		ID:          m.ID,
		SKU:         m.SKU,
		ProductName: m.ProductName,
		Direction:   string(m.Direction),
		Label:       label,
		Quantity:    m.Quantity,
		At:          at,
	}
}

// chart scales quantity and threshold bars against the largest value shown.
func chart(items []store.Item) Chart {
	var bars []Bar
	top := 0
	for _, it := range items {
		if it.Pending {
			continue
		}
		if it.Quantity > top {
			top = it.Quantity
		}
		if it.Threshold > top {
			top = it.Threshold
		}
		bars = append(bars, Bar{SKU: it.SKU, Quantity: it.Quantity, Threshold: it.Threshold, LowStock: it.LowStock()})
	}
	if len(bars) == 0 {
		return Chart{Empty: true, EmptyMessage: emptyChart}
	}
	if top == 0 {
		top = 1
	}
	for i := range bars {
		bars[i].QuantityPct = bars[i].Quantity * 100 / top
		bars[i].ThresholdPct = bars[i].Threshold * 100 / top
	}
	return Chart{Bars: bars}
}

func liveView(state string) Live {
	switch state {
	case "open":
		return Live{State: state, Label: "Live"}
	case "connecting":
		return Live{State: state, Label: "Connecting"}
	default:
		return Live{State: "disconnected", Label: "Offline", CanReconnect: true}
	}
}
