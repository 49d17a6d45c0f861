package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"stockboard/internal/domain"
	"stockboard/internal/fakeapi"
)

type chanPub chan domain.Notification

func (p chanPub) Publish(_ context.Context, n domain.Notification) error {
	p <- n
	return nil
}

type stateLog struct {
	mu  sync.Mutex
	got []State
}

func (l *stateLog) hook(s State) {
	l.mu.Lock()
	l.got = append(l.got, s)
	l.mu.Unlock()
}

func (l *stateLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.got...)
}

func waitState(t *testing.T, s Source, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state: want %s, got %s", want, s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDecode(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		ok    bool
		fails bool
		want  domain.Notification
	}{
		{"stock", `{"tipo_msg":"atualizacao_estoque","sku":"A","quantidade_atual":0}`, true, false, domain.StockChanged("A", 0)},
		{"alert", `{"tipo_msg":"alerta_estoque_baixo","mensagem":"baixo","sku":"A","quantidade_atual":1,"ponto_ressuprimento":5}`, true, false,
			domain.Notification{Kind: domain.KindLowStockAlert, Message: "baixo", SKU: "A", Quantity: 1, Threshold: 5}},
		{"unknown kind", `{"tipo_msg":"ping"}`, false, false, domain.Notification{}},
		{"stock without quantity", `{"tipo_msg":"atualizacao_estoque","sku":"A"}`, false, true, domain.Notification{}},
		{"not json", `{oops`, false, true, domain.Notification{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := Decode([]byte(tc.in))
			if (err != nil) != tc.fails || ok != tc.ok {
				t.Fatalf("ok=%v err=%v", ok, err)
			}
			if got != tc.want {
				t.Fatalf("want %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestChannelLifecycle(t *testing.T) {
	backend := fakeapi.Start(t)
	pub := make(chanPub, 8)
	var log stateLog
	ch := NewChannel(backend.WSURL(), pub, WithStateHook(log.hook))

	if ch.State() != Disconnected {
		t.Fatalf("new channel should start disconnected, got %s", ch.State())
	}
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ch.State() != Open {
		t.Fatalf("want open, got %s", ch.State())
	}
	if !backend.Hub.WaitForClients(1, 2*time.Second) {
		t.Fatal("backend never saw the socket")
	}
	// a second Connect while open is a no-op
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	backend.Hub.BroadcastRaw([]byte(`{not json`))
	backend.Hub.BroadcastRaw([]byte(`{"tipo_msg":"ping"}`))
	backend.Hub.Broadcast(domain.StockChanged("A", 7))
	backend.Hub.Broadcast(domain.LowStockAlert("baixo"))

	for _, want := range []domain.NotificationKind{domain.KindStockChanged, domain.KindLowStockAlert} {
		select {
		case n := <-pub:
			if n.Kind != want {
				t.Fatalf("want %s, got %+v", want, n)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	backend.Hub.CloseAll()
	waitState(t, ch, Disconnected)

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitState(t, ch, Open)
	if err := ch.Close(); err != nil {
		t.Log(err)
	}
	waitState(t, ch, Disconnected)

	want := []State{Connecting, Open, Disconnected, Connecting, Open, Disconnected}
	got := log.states()
	if len(got) != len(want) {
		t.Fatalf("transitions: want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions: want %v, got %v", want, got)
		}
	}
}

func TestChannelDialFailure(t *testing.T) {
	ch := NewChannel("ws://127.0.0.1:1/ws", make(chanPub, 1))
	err := ch.Connect(context.Background())
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("want network error, got %v", err)
	}
	if ch.State() != Disconnected {
		t.Fatalf("failed dial should leave the channel disconnected, got %s", ch.State())
	}
}

func TestKafkaHandleUsesEventTypeHeader(t *testing.T) {
	pub := make(chanPub, 2)
	k := NewKafkaSource([]string{"localhost:9092"}, "estoque", "stockboard", pub, nil)

	k.handle(context.Background(), &sarama.ConsumerMessage{
		Topic:   "estoque",
		Value:   []byte(`{"sku":"B","quantidade_atual":4}`),
		Headers: []*sarama.RecordHeader{{Key: []byte("event_type"), Value: []byte("atualizacao_estoque")}},
	})
	k.handle(context.Background(), &sarama.ConsumerMessage{Topic: "estoque", Value: []byte(`{"sku":"B"}`)})

	select {
	case n := <-pub:
		if n != domain.StockChanged("B", 4) {
			t.Fatalf("got %+v", n)
		}
	default:
		t.Fatal("header-typed message was not published")
	}
	if len(pub) != 0 {
		t.Fatal("message without a kind should be ignored")
	}
}
