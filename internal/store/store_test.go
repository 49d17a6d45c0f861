package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stockboard/internal/apiclient"
	"stockboard/internal/domain"
	"stockboard/internal/fakeapi"
	"stockboard/internal/store"
)

// recordingAPI counts calls and lets a test hold a forecast in flight.
type recordingAPI struct {
	store.API
	movements atomic.Int32
	creates   atomic.Int32

	mu       sync.Mutex
	forecast map[string]chan struct{}
}

func (r *recordingAPI) CreateMovement(ctx context.Context, in domain.MovementInput) (domain.Product, error) {
	r.movements.Add(1)
	return r.API.CreateMovement(ctx, in)
}

func (r *recordingAPI) CreateProduct(ctx context.Context, in domain.NewProduct) (domain.Product, error) {
	r.creates.Add(1)
	return r.API.CreateProduct(ctx, in)
}

func (r *recordingAPI) hold(sku string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forecast == nil {
		r.forecast = map[string]chan struct{}{}
	}
	ch := make(chan struct{})
	r.forecast[sku] = ch
	return ch
}

func (r *recordingAPI) Forecast(ctx context.Context, sku string) (domain.Forecast, error) {
	r.mu.Lock()
	gate := r.forecast[sku]
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Forecast{}, &domain.Error{Kind: domain.KindNetwork, Op: "forecast", Err: ctx.Err()}
		}
	}
	return r.API.Forecast(ctx, sku)
}

func setup(t *testing.T, opts ...store.Option) (*store.Store, *fakeapi.Server, *recordingAPI) {
	t.Helper()
	backend := fakeapi.Start(t)
	api := &recordingAPI{API: apiclient.New(backend.URL(), 2*time.Second)}
	s := store.New(api, opts...)
	t.Cleanup(s.Close)
	return s, backend, api
}

func item(t *testing.T, snap store.Snapshot, sku string) store.Item {
	t.Helper()
	for _, it := range snap.Items {
		if it.SKU == sku {
			return it
		}
	}
	t.Fatalf("no row for %s in %+v", sku, snap.Items)
	return store.Item{}
}

func TestLoadAndStockChangedPatchesOnlyQuantity(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	backend.Seed(domain.Product{SKU: "A", Name: "Alicate", Description: "azul", Quantity: 10, Threshold: 2})
	backend.Seed(domain.Product{SKU: "B", Name: "Broca", Quantity: 4, Threshold: 1})
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot()
	if !before.Loaded || len(before.Items) != 2 {
		t.Fatalf("bad load: %+v", before)
	}

	s.Apply(ctx, domain.StockChanged("A", 1))
	fetches := backend.Hits("GET /movimentacoes/historico")
	s.Apply(ctx, domain.StockChanged("GHOST", 99))
	waitFor(t, func() bool { return backend.Hits("GET /movimentacoes/historico") > fetches })

	after := s.Snapshot()
	a := item(t, after, "A")
	if a.Quantity != 1 || a.Name != "Alicate" || a.Description != "azul" || a.Threshold != 2 {
		t.Fatalf("only quantity should change: %+v", a)
	}
	if b := item(t, after, "B"); b.Product != item(t, before, "B").Product {
		t.Fatalf("other product changed: %+v", b)
	}
	if len(after.Items) != 2 {
		t.Fatal("unknown sku must not add a row")
	}
}

func TestStockChangedForUnlistedProductReloads(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	backend.Seed(domain.Product{SKU: "A", Name: "Alicate", Quantity: 10, Threshold: 2})
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}

	// another client registers C and moves it
	other := apiclient.New(backend.URL(), 2*time.Second)
	if _, err := other.CreateProduct(ctx, domain.NewProduct{SKU: "C", Name: "Chave", Quantity: 8, Threshold: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := other.CreateMovement(ctx, domain.MovementInput{SKU: "C", Direction: domain.DirectionOut, Quantity: 3}); err != nil {
		t.Fatal(err)
	}

	s.Apply(ctx, domain.StockChanged("C", 5))
	waitFor(t, func() bool {
		snap := s.Snapshot()
		return len(snap.Items) == 2 && len(snap.History) == 1
	})
	if c := item(t, s.Snapshot(), "C"); c.Quantity != 5 || c.Pending {
		t.Fatalf("reloaded row: %+v", c)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeliverRunsOnInboxLoop(t *testing.T) {
	s, backend, _ := setup(t)
	backend.Seed(domain.Product{SKU: "A", Name: "A", Quantity: 10, Threshold: 2})
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	changes, stop := s.Changes()
	defer stop()

	if !s.Deliver(domain.StockChanged("A", 3)) {
		t.Fatal("inbox should accept")
	}
	deadline := time.After(2 * time.Second)
	for item(t, s.Snapshot(), "A").Quantity != 3 {
		select {
		case <-changes:
		case <-deadline:
			t.Fatal("pushed update never applied")
		}
	}
}

func TestInvalidMovementQuantityMakesNoRequest(t *testing.T) {
	s, backend, api := setup(t)
	backend.Seed(domain.Product{SKU: "A", Name: "A", Quantity: 10, Threshold: 2})
	_ = s.Load(context.Background())

	for _, qty := range []string{"0", "-3", "", "abc", "1.5"} {
		d := store.MovementDraft{SKU: "A", Direction: domain.DirectionOut, Quantity: qty}
		err := s.SubmitMovement(context.Background(), d)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("qty %q: want validation error, got %v", qty, err)
		}
		snap := s.Snapshot()
		if snap.Notice.Level != store.NoticeWarning {
			t.Fatalf("qty %q: want warning notice, got %+v", qty, snap.Notice)
		}
		if snap.Movement != d {
			t.Fatalf("draft should be kept, got %+v", snap.Movement)
		}
	}
	if api.movements.Load() != 0 || backend.Hits("POST /movimentacoes") != 0 {
		t.Fatal("no movement request expected")
	}
}

func TestMovementSuccessResetsDraftAndRefetchesHistory(t *testing.T) {
	s, backend, _ := setup(t)
	backend.Seed(domain.Product{SKU: "A", Name: "A", Quantity: 10, Threshold: 2})
	_ = s.Load(context.Background())

	err := s.SubmitMovement(context.Background(), store.MovementDraft{SKU: "A", Direction: domain.DirectionOut, Quantity: "4"})
	if err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if item(t, snap, "A").Quantity != 6 {
		t.Fatalf("want 6, got %+v", item(t, snap, "A"))
	}
	if snap.Movement != store.DefaultMovement() {
		t.Fatalf("draft should reset, got %+v", snap.Movement)
	}
	if len(snap.History) != 1 || snap.History[0].Quantity != 4 {
		t.Fatalf("history not refetched: %+v", snap.History)
	}

	err = s.SubmitMovement(context.Background(), store.MovementDraft{SKU: "A", Direction: domain.DirectionOut, Quantity: "60"})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("want insufficient stock, got %v", err)
	}
	snap = s.Snapshot()
	if snap.Notice.Level != store.NoticeError || snap.Notice.Text != "Estoque insuficiente. Quantidade atual: 6" {
		t.Fatalf("server detail not surfaced: %+v", snap.Notice)
	}
	if snap.Movement.Quantity != "60" || item(t, snap, "A").Quantity != 6 {
		t.Fatal("failure must keep the draft and the prior state")
	}
}

func TestDuplicateRegistrationAddsNoRow(t *testing.T) {
	s, backend, _ := setup(t)
	backend.Seed(domain.Product{SKU: "A", Name: "A", Quantity: 1, Threshold: 0})
	_ = s.Load(context.Background())

	d := store.RegistrationDraft{SKU: "A", Name: "Outro", Quantity: "3", Threshold: "1"}
	err := s.SubmitRegistration(context.Background(), d)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Items) != 1 {
		t.Fatalf("duplicate row added: %+v", snap.Items)
	}
	if snap.Notice.Text != "Produto com o SKU 'A' já existe." {
		t.Fatalf("server detail not surfaced: %+v", snap.Notice)
	}
	if snap.Registration != d {
		t.Fatal("draft should survive a failed submit")
	}
}

func TestRegistrationConfirmsPendingRow(t *testing.T) {
	s, _, api := setup(t)
	_ = s.Load(context.Background())
	err := s.SubmitRegistration(context.Background(), store.RegistrationDraft{SKU: "N1", Name: "Novo", Quantity: "", Threshold: ""})
	if err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	it := item(t, snap, "N1")
	if it.Pending || it.ID == 0 || it.Key != "N1" || it.Threshold != 5 || it.Quantity != 0 {
		t.Fatalf("row not confirmed with defaults: %+v", it)
	}
	if len(snap.Items) != 1 {
		t.Fatalf("want one row, got %+v", snap.Items)
	}
	if snap.Registration != store.DefaultRegistration() {
		t.Fatal("draft should reset after success")
	}
	if api.creates.Load() != 1 {
		t.Fatal("want exactly one create")
	}
}

func TestRegistrationRollsBackOnFailure(t *testing.T) {
	s, backend, _ := setup(t)
	_ = s.Load(context.Background())
	backend.FailWith(500)

	err := s.SubmitRegistration(context.Background(), store.RegistrationDraft{SKU: "N1", Name: "Novo", Quantity: "1", Threshold: "1"})
	if !errors.Is(err, domain.ErrUnexpected) {
		t.Fatalf("want unexpected, got %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Items) != 0 {
		t.Fatalf("pending row should be rolled back: %+v", snap.Items)
	}
	if snap.Notice.Text != domain.FallbackMessage {
		t.Fatalf("want fallback message, got %q", snap.Notice.Text)
	}
}

func TestDeleteRemovesRowAndHistory(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	backend.Seed(domain.Product{SKU: "A", Name: "A", Quantity: 10, Threshold: 0})
	backend.Seed(domain.Product{SKU: "B", Name: "B", Quantity: 10, Threshold: 0})
	_ = s.Load(ctx)
	for _, sku := range []string{"A", "B"} {
		if err := s.SubmitMovement(ctx, store.MovementDraft{SKU: sku, Direction: domain.DirectionIn, Quantity: "1"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Delete(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.Items) != 1 || snap.Items[0].SKU != "B" {
		t.Fatalf("row not removed: %+v", snap.Items)
	}
	for _, m := range snap.History {
		if m.SKU == "A" {
			t.Fatalf("deleted product still in history: %+v", snap.History)
		}
	}

	// already gone on the backend: the row still disappears
	backend.Seed(domain.Product{SKU: "C", Name: "C", Quantity: 1, Threshold: 0})
	_ = s.Load(ctx)
	if _, err := backend.DB.Exec(`DELETE FROM produtos WHERE sku = 'C'`); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "C"); err != nil {
		t.Fatal(err)
	}
	if len(s.Snapshot().Items) != 1 {
		t.Fatal("not-found delete should still drop the row")
	}
}

func TestAlertAutoDismissAndReplace(t *testing.T) {
	s, _, _ := setup(t, store.WithAlertDuration(200*time.Millisecond))
	ctx := context.Background()

	s.Apply(ctx, domain.LowStockAlert("primeiro"))
	time.Sleep(100 * time.Millisecond)
	s.Apply(ctx, domain.LowStockAlert("segundo"))
	if got := s.Snapshot().Alert.Message; got != "segundo" {
		t.Fatalf("new alert should replace, got %q", got)
	}

	// the first alert's timer must not clear the replacement
	time.Sleep(150 * time.Millisecond)
	if got := s.Snapshot().Alert.Message; got != "segundo" {
		t.Fatalf("replacement dismissed early, got %q", got)
	}

	time.Sleep(200 * time.Millisecond)
	if got := s.Snapshot().Alert.Message; got != "" {
		t.Fatalf("alert should auto-dismiss, got %q", got)
	}
}

func TestEditUpdatesOnlyEditedFields(t *testing.T) {
	s, backend, _ := setup(t)
	ctx := context.Background()
	backend.Seed(domain.Product{SKU: "A", Name: "Alicate", Description: "x", Quantity: 10, Threshold: 2})
	_ = s.Load(ctx)

	if err := s.OpenEdit("A"); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if !snap.Edit.Open || snap.Edit.Form.Threshold != "2" || snap.Edit.Form.Name != "Alicate" {
		t.Fatalf("edit modal not prefilled: %+v", snap.Edit)
	}

	// a pushed update lands while the modal is open
	s.Apply(ctx, domain.StockChanged("A", 7))

	if err := s.SaveEdit(ctx, "A", store.EditForm{Name: "Alicate", Description: "x", Threshold: "12"}); err != nil {
		t.Fatal(err)
	}
	snap = s.Snapshot()
	a := item(t, snap, "A")
	if a.Threshold != 12 || a.Quantity != 7 || a.Name != "Alicate" {
		t.Fatalf("want threshold 12 and quantity untouched, got %+v", a)
	}
	if snap.Edit.Open {
		t.Fatal("modal should close on success")
	}

	if err := s.OpenEdit("A"); err != nil {
		t.Fatal(err)
	}
	err := s.SaveEdit(ctx, "A", store.EditForm{Name: "  ", Threshold: "1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want validation, got %v", err)
	}
	if snap := s.Snapshot(); !snap.Edit.Open || snap.Edit.Error == "" {
		t.Fatalf("invalid save keeps the modal open with an error: %+v", snap.Edit)
	}
}

func TestForecastSupersededResultIsDiscarded(t *testing.T) {
	s, backend, api := setup(t)
	backend.Seed(domain.Product{SKU: "A", Name: "A", Quantity: 10, Threshold: 0})
	backend.Seed(domain.Product{SKU: "B", Name: "B", Quantity: 10, Threshold: 0})
	_ = s.Load(context.Background())

	api.hold("A")
	firstDone := make(chan error, 1)
	go func() { firstDone <- s.RequestForecast(context.Background(), "A") }()

	deadline := time.Now().Add(2 * time.Second)
	for f := s.Snapshot().Forecast; !(f.Loading && f.SKU == "A"); f = s.Snapshot().Forecast {
		if time.Now().After(deadline) {
			t.Fatal("first forecast never started loading")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.RequestForecast(context.Background(), "B"); err != nil {
		t.Fatal(err)
	}
	if err := <-firstDone; err != nil {
		t.Fatalf("superseded request should end quietly, got %v", err)
	}

	f := s.Snapshot().Forecast
	if !f.Open || f.Loading || f.SKU != "B" || f.Result == nil || f.Result.SKU != "B" {
		t.Fatalf("want B's result, got %+v", f)
	}

	s.CloseModals()
	if s.Snapshot().Forecast.Open {
		t.Fatal("modal should close")
	}
}

func TestCloseReleasesSubscribers(t *testing.T) {
	backend := fakeapi.Start(t)
	s := store.New(apiclient.New(backend.URL(), time.Second))
	changes, _ := s.Changes()
	s.Apply(context.Background(), domain.LowStockAlert("x"))
	s.Close()
	for range changes {
	}
	if s.Deliver(domain.StockChanged("A", 1)) {
		t.Fatal("closed store should refuse deliveries")
	}
}
