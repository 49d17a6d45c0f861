// Package fakeapi is an in-process stand-in for the inventory backend used by
// tests: the same REST routes, error bodies and WebSocket notifications,
// backed by an in-memory SQLite database.
package fakeapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"stockboard/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05.000000"

type Server struct {
	DB  *sqlx.DB
	Hub *Hub

	products  *ProductRepo
	movements *MovementRepo

	router *mux.Router
	http   *httptest.Server

	mu      sync.Mutex
	hits    map[string]int
	failing int
	now     func() time.Time
}

// Start runs a fresh backend for the duration of the test.
func Start(tb testing.TB) *Server {
	tb.Helper()
	s, err := New()
	if err != nil {
		tb.Fatalf("fakeapi: %v", err)
	}
	s.http = httptest.NewServer(s.router)
	tb.Cleanup(func() {
		s.Hub.CloseAll()
		s.http.Close()
		_ = s.DB.Close()
	})
	return s
}

func New() (*Server, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	s := &Server{
		DB:        db,
		Hub:       newHub(),
		products:  NewProductRepo(db),
		movements: NewMovementRepo(db),
		hits:      map[string]int{},
		now:       time.Now,
	}
	r := mux.NewRouter()
	r.Use(s.count)
	r.HandleFunc("/produtos", s.listProducts).Methods(http.MethodGet)
	r.HandleFunc("/produtos", s.createProduct).Methods(http.MethodPost)
	r.HandleFunc("/produtos/previsao/{sku}", s.forecast).Methods(http.MethodGet)
	r.HandleFunc("/produtos/{sku}", s.updateProduct).Methods(http.MethodPut)
	r.HandleFunc("/produtos/{sku}", s.deleteProduct).Methods(http.MethodDelete)
	r.HandleFunc("/movimentacoes", s.createMovement).Methods(http.MethodPost)
	r.HandleFunc("/movimentacoes/historico", s.history).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.Hub.serveWS)
	s.router = r
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) URL() string { return s.http.URL }

func (s *Server) WSURL() string { return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws" }

// Hits returns how many requests matched "METHOD /route/template".
func (s *Server) Hits(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key]
}

// FailWith makes every REST request answer status until called with 0.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	s.failing = status
	s.mu.Unlock()
}

// SetClock pins the time used for new movements.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// Seed inserts a product directly, bypassing validation and notifications.
func (s *Server) Seed(p domain.Product) {
	_, err := s.products.Create(productRow{SKU: p.SKU, Name: p.Name, Description: p.Description, Quantity: p.Quantity, Threshold: p.Threshold})
	if err != nil {
		panic(fmt.Sprintf("fakeapi seed %s: %v", p.SKU, err))
	}
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				key = r.Method + " " + tpl
			}
		}
		s.mu.Lock()
		s.hits[key]++
		failing := s.failing
		s.mu.Unlock()
		if failing != 0 && r.URL.Path != "/ws" {
			writeJSON(w, failing, map[string]string{"detail": "internal failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.products.List()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]domain.Product, 0, len(rows))
	for _, p := range rows {
		out = append(out, p.product())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SKU         *string `json:"sku"`
		Name        *string `json:"nome"`
		Description string  `json:"descricao"`
		Quantity    int     `json:"quantidade_atual"`
		Threshold   *int    `json:"ponto_ressuprimento"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFieldErrors(w, "body: invalid JSON")
		return
	}
	var missing []string
	if in.SKU == nil || *in.SKU == "" {
		missing = append(missing, "sku: Field required")
	}
	if in.Name == nil || *in.Name == "" {
		missing = append(missing, "nome: Field required")
	}
	if len(missing) > 0 {
		writeFieldErrors(w, missing...)
		return
	}
	threshold := 5
	if in.Threshold != nil {
		threshold = *in.Threshold
	}
	p, err := s.products.Create(productRow{SKU: *in.SKU, Name: *in.Name, Description: in.Description, Quantity: in.Quantity, Threshold: threshold})
	switch {
	case errors.Is(err, errDuplicate):
		writeDetail(w, http.StatusConflict, fmt.Sprintf("Produto com o SKU '%s' já existe.", *in.SKU))
	case err != nil:
		writeFieldErrors(w, err.Error())
	default:
		writeJSON(w, http.StatusOK, p.product())
	}
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	sku := mux.Vars(r)["sku"]
	var in domain.ProductUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.Threshold < 0 {
		writeFieldErrors(w, "nome: Field required")
		return
	}
	p, err := s.products.Update(sku, in)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeNotFound(w, sku)
	case err != nil:
		writeDetail(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, p.product())
	}
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	sku := mux.Vars(r)["sku"]
	err := s.products.Delete(sku)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeNotFound(w, sku)
	case err != nil:
		writeDetail(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) createMovement(w http.ResponseWriter, r *http.Request) {
	var in domain.MovementInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFieldErrors(w, "body: invalid JSON")
		return
	}
	if in.Quantity <= 0 || !in.Direction.Valid() {
		writeFieldErrors(w, "quantidade: Input should be greater than 0")
		return
	}

	p, err := s.movements.Record(in, s.clock().UTC().Format(timeLayout))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeNotFound(w, in.SKU)
		return
	case errors.Is(err, errInsufficient):
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Estoque insuficiente. Quantidade atual: %d", p.Quantity))
		return
	case err != nil:
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.Hub.Broadcast(map[string]any{
		"tipo_msg":         string(domain.KindStockChanged),
		"sku":              p.SKU,
		"quantidade_atual": p.Quantity,
	})
	if p.Quantity <= p.Threshold {
		s.Hub.Broadcast(map[string]any{
			"tipo_msg":            string(domain.KindLowStockAlert),
			"sku":                 p.SKU,
			"quantidade_atual":    p.Quantity,
			"ponto_ressuprimento": p.Threshold,
			"mensagem":            fmt.Sprintf("ALERTA: Produto %s (%s) está com estoque baixo!", p.Name, p.SKU),
		})
	}
	writeJSON(w, http.StatusOK, p.product())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	rows, err := s.movements.History()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(rows))
	for _, m := range rows {
		out = append(out, map[string]any{
			"id": m.ID, "sku": m.SKU, "nome": m.Name, "tipo": m.Direction,
			"quantidade": m.Quantity, "data_hora": m.At,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// forecast divides stock on hand by the average daily saida of the last 30 days.
func (s *Server) forecast(w http.ResponseWriter, r *http.Request) {
	sku := mux.Vars(r)["sku"]
	p, err := s.products.Get(sku)
	if errors.Is(err, sql.ErrNoRows) {
		writeNotFound(w, sku)
		return
	} else if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := s.clock().UTC()
	total, oldest, err := s.movements.Outflow(p.ID, now.AddDate(0, 0, -30).Format(timeLayout))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if total == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"sku":      sku,
			"mensagem": "Sem saídas nos últimos 30 dias; não é possível prever a ruptura.",
		})
		return
	}
	days := 1.0
	if t, perr := time.Parse(timeLayout, oldest); perr == nil {
		days = math.Max(1, math.Ceil(now.Sub(t).Hours()/24))
	}
	avg := float64(total) / days
	remaining := math.Round(float64(p.Quantity)/avg*10) / 10
	writeJSON(w, http.StatusOK, map[string]any{
		"sku":                sku,
		"dias_restantes":     remaining,
		"media_saida_diaria": math.Round(avg*100) / 100,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeNotFound(w http.ResponseWriter, sku string) {
	writeDetail(w, http.StatusNotFound, fmt.Sprintf("Produto com SKU '%s' não encontrado.", sku))
}

func writeFieldErrors(w http.ResponseWriter, msgs ...string) {
	items := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, map[string]string{"msg": m})
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": items})
}
