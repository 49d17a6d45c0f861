// Package store keeps one dashboard session's state: the inventory rows,
// the movement history, the form drafts and the transient UI (alert, notice,
// modals). Mutations happen under one mutex; backend calls never do.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockboard/internal/domain"
	applog "stockboard/internal/log"
	"stockboard/internal/metrics"
	"stockboard/internal/validate"
)

const (
	DefaultAlertDuration = 5 * time.Second
	defaultInboxSize     = 32
)

type Store struct {
	api       API
	alertFor  time.Duration
	inboxSize int

	mu           sync.Mutex
	loaded       bool
	items        []Item
	history      []domain.Movement
	registration RegistrationDraft
	movement     MovementDraft
	alert        Alert
	alertTimer   *time.Timer
	alertGen     uint64
	notice       Notice
	forecast     ForecastModal
	forecastSeq  uint64
	cancelFetch  context.CancelFunc
	edit         EditModal
	live         string
	version      uint64
	subs         map[chan struct{}]struct{}
	closed       bool

	inbox  chan domain.Notification
	resync chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Store)

func WithAlertDuration(d time.Duration) Option { return func(s *Store) { s.alertFor = d } }

func WithInboxSize(n int) Option { return func(s *Store) { s.inboxSize = n } }

// New mounts a store and starts its inbox loop. Call Load to fetch the
// initial data and Close to unmount.
func New(api API, opts ...Option) *Store {
	s := &Store{
		api:          api,
		alertFor:     DefaultAlertDuration,
		inboxSize:    defaultInboxSize,
		registration: DefaultRegistration(),
		movement:     DefaultMovement(),
		live:         "disconnected",
		subs:         map[chan struct{}]struct{}{},
		resync:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.inbox = make(chan domain.Notification, s.inboxSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case n := <-s.inbox:
			s.Apply(s.ctx, n)
		case <-s.resync:
			if err := s.Load(s.ctx); err != nil && s.ctx.Err() == nil {
				applog.Logger.Warn().Err(err).Msg("store resync failed")
			}
		}
	}
}

// Deliver queues a pushed notification without blocking. When the inbox is
// full the notification is dropped and a full resync is scheduled instead.
func (s *Store) Deliver(n domain.Notification) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	select {
	case s.inbox <- n:
		return true
	default:
		metrics.DroppedEvent()
		applog.Logger.Warn().Str("kind", string(n.Kind)).Msg("store inbox full, scheduling resync")
		s.Resync()
		return false
	}
}

// Resync schedules a reload of products and history on the inbox loop.
func (s *Store) Resync() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// Apply handles one pushed notification. A stock change for a SKU this
// session does not list schedules a full resync instead of a patch.
func (s *Store) Apply(ctx context.Context, n domain.Notification) {
	switch n.Kind {
	case domain.KindStockChanged:
		s.mu.Lock()
		i := s.indexOf(n.SKU)
		if i >= 0 {
			s.items[i].Quantity = n.Quantity
			s.changed()
		}
		s.mu.Unlock()
		if i < 0 {
			// registered elsewhere: products and history both need a reload
			s.Resync()
			return
		}
		_ = s.RefreshHistory(ctx)
	case domain.KindLowStockAlert:
		s.showAlert(n)
	}
}

func (s *Store) showAlert(n domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.alertGen++
	gen := s.alertGen
	if s.alertTimer != nil {
		s.alertTimer.Stop()
	}
	s.alert = Alert{
		Message:   n.Message,
		SKU:       n.SKU,
		Quantity:  n.Quantity,
		Threshold: n.Threshold,
		Until:     time.Now().Add(s.alertFor),
	}
	s.alertTimer = time.AfterFunc(s.alertFor, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.alertGen != gen {
			return
		}
		s.alert = Alert{}
		s.alertTimer = nil
		s.changed()
	})
	s.changed()
}

// Load replaces products and history with the backend's. Pending rows whose
// SKU the backend does not know yet are kept.
func (s *Store) Load(ctx context.Context) error {
	if err := s.RefreshProducts(ctx); err != nil {
		return err
	}
	return s.RefreshHistory(ctx)
}

func (s *Store) RefreshProducts(ctx context.Context) error {
	products, err := s.api.ListProducts(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.setNotice(NoticeError, domain.UserMessage(err))
		return err
	}
	known := make(map[string]bool, len(products))
	items := make([]Item, 0, len(products))
	for _, p := range products {
		known[p.SKU] = true
		items = append(items, Item{Product: p, Key: p.SKU})
	}
	for _, it := range s.items {
		if it.Pending && !known[it.SKU] {
			items = append(items, it)
		}
	}
	s.items = items
	s.loaded = true
	s.changed()
	return nil
}

// RefreshHistory re-fetches the full history. On failure the previous list stays.
func (s *Store) RefreshHistory(ctx context.Context) error {
	history, err := s.api.ListHistory(ctx)
	if err != nil {
		applog.WithContext(ctx).Warn().Err(err).Msg("history refresh failed")
		return err
	}
	s.mu.Lock()
	s.history = history
	s.changed()
	s.mu.Unlock()
	return nil
}

// SubmitRegistration creates a product optimistically: a pending row shows
// immediately and is confirmed or rolled back when the backend answers.
func (s *Store) SubmitRegistration(ctx context.Context, d RegistrationDraft) error {
	s.mu.Lock()
	s.registration = d
	s.mu.Unlock()

	in, err := parseRegistration(d)
	if err != nil {
		s.warn(err)
		return err
	}

	s.mu.Lock()
	pendingKey := ""
	if s.indexOf(in.SKU) < 0 {
		pendingKey = "pending-" + uuid.NewString()
		s.items = append(s.items, Item{
			Product: domain.Product{SKU: in.SKU, Name: in.Name, Description: in.Description, Quantity: in.Quantity, Threshold: in.Threshold},
			Key:     pendingKey,
			Pending: true,
		})
		s.changed()
	}
	s.mu.Unlock()

	p, err := s.api.CreateProduct(ctx, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if pendingKey != "" {
			s.removeKey(pendingKey)
		}
		s.setNotice(NoticeError, domain.UserMessage(err))
		return err
	}
	if i := s.indexOfKey(pendingKey); pendingKey != "" && i >= 0 {
		s.items[i] = Item{Product: p, Key: p.SKU}
		s.changed()
	} else {
		s.upsert(p)
	}
	s.registration = DefaultRegistration()
	s.setNotice(NoticeSuccess, fmt.Sprintf("Product %s registered.", p.SKU))
	return nil
}

func parseRegistration(d RegistrationDraft) (domain.NewProduct, error) {
	const op = "register_product"
	sku, ok := validate.SKU(d.SKU)
	if !ok {
		return domain.NewProduct{}, domain.NewValidationError(op, "SKU is required (up to 64 characters, no slashes).")
	}
	name, ok := validate.Name(d.Name)
	if !ok {
		return domain.NewProduct{}, domain.NewValidationError(op, "Name is required.")
	}
	qty, ok := validate.NonNegative(d.Quantity, 0)
	if !ok {
		return domain.NewProduct{}, domain.NewValidationError(op, "Initial quantity must be a whole number of zero or more.")
	}
	threshold, ok := validate.NonNegative(d.Threshold, 5)
	if !ok {
		return domain.NewProduct{}, domain.NewValidationError(op, "Reorder point must be a whole number of zero or more.")
	}
	return domain.NewProduct{SKU: sku, Name: name, Description: validate.Description(d.Description), Quantity: qty, Threshold: threshold}, nil
}

// SubmitMovement records a stock entry or exit. A quantity that is not a
// positive integer is rejected before any request.
func (s *Store) SubmitMovement(ctx context.Context, d MovementDraft) error {
	const op = "record_movement"
	s.mu.Lock()
	s.movement = d
	s.mu.Unlock()

	var verr error
	sku, skuOK := validate.SKU(d.SKU)
	dir, dirOK := validate.Direction(string(d.Direction))
	qty, qtyOK := validate.Positive(d.Quantity)
	switch {
	case !skuOK:
		verr = domain.NewValidationError(op, "Choose a product.")
	case !dirOK:
		verr = domain.NewValidationError(op, "Choose entry or exit.")
	case !qtyOK:
		verr = domain.NewValidationError(op, "Quantity must be a whole number greater than zero.")
	}
	if verr != nil {
		s.warn(verr)
		return verr
	}

	p, err := s.api.CreateMovement(ctx, domain.MovementInput{SKU: sku, Direction: dir, Quantity: qty})
	s.mu.Lock()
	if err != nil {
		s.setNotice(NoticeError, domain.UserMessage(err))
		s.mu.Unlock()
		return err
	}
	s.upsert(p)
	s.movement = DefaultMovement()
	s.setNotice(NoticeSuccess, fmt.Sprintf("Movement recorded. %s now has %d.", p.SKU, p.Quantity))
	s.mu.Unlock()

	_ = s.RefreshHistory(ctx)
	return nil
}

func (s *Store) OpenEdit(sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(sku)
	if i < 0 || s.items[i].Pending {
		err := &domain.Error{Kind: domain.KindNotFound, Op: "open_edit", Detail: fmt.Sprintf("Product %s is not in the list.", sku)}
		s.setNotice(NoticeError, err.Detail)
		return err
	}
	p := s.items[i].Product
	s.closeModalsLocked()
	s.edit = EditModal{
		Open: true,
		SKU:  p.SKU,
		Form: EditForm{Name: p.Name, Description: p.Description, Threshold: strconv.Itoa(p.Threshold)},
	}
	s.changed()
	return nil
}

// SaveEdit patches name, description and threshold. The quantity is never
// touched by an edit.
func (s *Store) SaveEdit(ctx context.Context, sku string, f EditForm) error {
	const op = "save_product"
	var verr error
	name, nameOK := validate.Name(f.Name)
	threshold, thOK := validate.NonNegative(f.Threshold, 5)
	switch {
	case !nameOK:
		verr = domain.NewValidationError(op, "Name is required.")
	case !thOK:
		verr = domain.NewValidationError(op, "Reorder point must be a whole number of zero or more.")
	}
	if verr != nil {
		s.mu.Lock()
		s.edit.Form = f
		s.edit.Error = domain.UserMessage(verr)
		s.changed()
		s.mu.Unlock()
		return verr
	}

	p, err := s.api.UpdateProduct(ctx, sku, domain.ProductUpdate{Name: name, Description: validate.Description(f.Description), Threshold: threshold})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.edit.Open && s.edit.SKU == sku {
			s.edit.Form = f
			s.edit.Error = domain.UserMessage(err)
		}
		s.setNotice(NoticeError, domain.UserMessage(err))
		return err
	}
	if i := s.indexOf(sku); i >= 0 {
		s.items[i].Name = p.Name
		s.items[i].Description = p.Description
		s.items[i].Threshold = p.Threshold
	}
	if s.edit.SKU == sku {
		s.edit = EditModal{}
	}
	s.setNotice(NoticeSuccess, fmt.Sprintf("Product %s updated.", sku))
	return nil
}

// Delete removes the product, also when the backend no longer knows it, and
// re-fetches history since the backend drops the product's movements.
func (s *Store) Delete(ctx context.Context, sku string) error {
	err := s.api.DeleteProduct(ctx, sku)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.mu.Lock()
		s.setNotice(NoticeError, domain.UserMessage(err))
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	if i := s.indexOf(sku); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
	if s.edit.SKU == sku {
		s.edit = EditModal{}
	}
	if s.forecast.SKU == sku {
		s.closeForecastLocked()
	}
	s.setNotice(NoticeSuccess, fmt.Sprintf("Product %s deleted.", sku))
	s.mu.Unlock()

	_ = s.RefreshHistory(ctx)
	return nil
}

// RequestForecast opens the forecast modal in its loading state and fetches
// the estimate. A newer request cancels this one and its result is dropped.
func (s *Store) RequestForecast(ctx context.Context, sku string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	s.closeModalsLocked()
	s.forecastSeq++
	seq := s.forecastSeq
	fctx, cancel := context.WithCancel(ctx)
	s.cancelFetch = cancel
	s.forecast = ForecastModal{Open: true, Loading: true, SKU: sku}
	s.changed()
	s.mu.Unlock()
	defer cancel()

	f, err := s.api.Forecast(fctx, sku)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.forecastSeq || !s.forecast.Open {
		return nil
	}
	s.cancelFetch = nil
	s.forecast.Loading = false
	if err != nil {
		s.forecast.Error = domain.UserMessage(err)
		s.changed()
		return err
	}
	s.forecast.Result = &f
	s.changed()
	return nil
}

func (s *Store) CloseModals() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeModalsLocked()
	s.changed()
}

// Notify shows a notice that does not come from a store operation.
func (s *Store) Notify(level NoticeLevel, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNotice(level, text)
}

func (s *Store) DismissNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice != (Notice{}) {
		s.notice = Notice{}
		s.changed()
	}
}

// SetLiveStatus mirrors the push channel state for display.
func (s *Store) SetLiveStatus(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live != state {
		s.live = state
		s.changed()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Version:      s.version,
		Loaded:       s.loaded,
		Items:        append([]Item(nil), s.items...),
		History:      append([]domain.Movement(nil), s.history...),
		Registration: s.registration,
		Movement:     s.movement,
		Alert:        s.alert,
		Notice:       s.notice,
		Forecast:     s.forecast,
		Edit:         s.edit,
		Live:         s.live,
	}
	if s.forecast.Result != nil {
		r := *s.forecast.Result
		snap.Forecast.Result = &r
	}
	return snap
}

// Changes returns a channel signalled after every mutation and a func that
// unsubscribes it. The channel is closed when the store closes.
func (s *Store) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// Close unmounts the store: timers stop, the in-flight forecast is cancelled
// and change subscribers are released.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.alertTimer != nil {
		s.alertTimer.Stop()
		s.alertTimer = nil
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.mu.Unlock()
	s.cancel()
	<-s.done
}

func (s *Store) changed() {
	s.version++
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) setNotice(level NoticeLevel, text string) {
	s.notice = Notice{Level: level, Text: text}
	s.changed()
}

func (s *Store) warn(err error) {
	s.mu.Lock()
	s.setNotice(NoticeWarning, domain.UserMessage(err))
	s.mu.Unlock()
}

func (s *Store) closeModalsLocked() {
	s.closeForecastLocked()
	s.edit = EditModal{}
}

func (s *Store) closeForecastLocked() {
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.forecast = ForecastModal{}
}

func (s *Store) indexOf(sku string) int {
	for i, it := range s.items {
		if it.SKU == sku {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfKey(key string) int {
	for i, it := range s.items {
		if it.Key == key {
			return i
		}
	}
	return -1
}

func (s *Store) removeKey(key string) {
	if i := s.indexOfKey(key); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
}

// upsert replaces the row with p's SKU or appends it.
func (s *Store) upsert(p domain.Product) {
	if i := s.indexOf(p.SKU); i >= 0 {
		s.items[i] = Item{Product: p, Key: p.SKU}
	} else {
		s.items = append(s.items, Item{Product: p, Key: p.SKU})
	}
	s.changed()
}
