package natsbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bjaus/thingmsg"
	"github.com/bjaus/thingmsg/transport/natsbus"
)

func runServer(t testing.TB) *server.Server {
	t.Helper()
	s, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

type inbox struct {
	mu   sync.Mutex
	msgs []thingmsg.InboundMessage
}

func (in *inbox) consume(_ context.Context, msg thingmsg.InboundMessage) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.msgs = append(in.msgs, msg)
}

func (in *inbox) snapshot() []thingmsg.InboundMessage {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]thingmsg.InboundMessage(nil), in.msgs...)
}

type BusSuite struct {
	suite.Suite
	srv *server.Server
	ctx context.Context
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusSuite))
}

func (s *BusSuite) SetupSuite() {
	s.srv = runServer(s.T())
	s.ctx = context.Background()
}

func (s *BusSuite) connect(subject string, opts ...natsbus.Option) *natsbus.Bus {
	b, err := natsbus.Connect(s.srv.ClientURL(), nil, append([]natsbus.Option{natsbus.WithSubject(subject)}, opts...)...)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func (s *BusSuite) consuming(b *natsbus.Bus) *inbox {
	in := &inbox{}
	b.OnMessage(in.consume)
	s.Require().NoError(b.StartConsumption(s.ctx))
	return in
}

func alarm() thingmsg.OutboundMessage {
	return thingmsg.OutboundMessage{
		ID:            "m-1",
		Subject:       "alarm",
		Address:       thingmsg.FeatureAddress("org.acme:house-1", "smoke"),
		Direction:     thingmsg.DirectionFrom,
		ContentType:   thingmsg.ContentTypeJSON,
		CorrelationID: "c-1",
		Headers:       map[string]string{"site": "north"},
		Payload:       []byte(`{"level":"critical"}`),
	}
}

func (s *BusSuite) TestRoundTrip() {
	a := s.connect("test.roundtrip")
	b := s.connect("test.roundtrip")
	ina := s.consuming(a)
	inb := s.consuming(b)

	s.Require().NoError(a.Submit(s.ctx, alarm()))

	s.Eventually(func() bool { return len(ina.snapshot()) == 1 && len(inb.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	got := inb.snapshot()[0]
	s.Equal("alarm", got.Subject)
	s.Equal(thingmsg.FeatureAddress("org.acme:house-1", "smoke"), got.Address)
	s.Equal(thingmsg.DirectionFrom, got.Direction)
	s.Equal("m-1", got.ID)
	s.Equal("c-1", got.CorrelationID)
	s.Equal("north", got.Headers["site"])
	s.JSONEq(`{"level":"critical"}`, string(got.Payload))
}

func (s *BusSuite) TestNatsHeaders() {
	b := s.connect("test.headers")

	raw, err := b.Conn().SubscribeSync("test.headers")
	s.Require().NoError(err)
	s.Require().NoError(b.Conn().Flush())

	s.Require().NoError(b.Submit(s.ctx, alarm()))

	m, err := raw.NextMsg(2 * time.Second)
	s.Require().NoError(err)
	s.Equal("m-1", m.Header.Get(thingmsg.HeaderMessageID))
	s.Equal("c-1", m.Header.Get(thingmsg.HeaderCorrelationID))
	s.Equal(thingmsg.ContentTypeJSON, m.Header.Get(thingmsg.HeaderContentType))

	parsed, err := thingmsg.ParseEnvelope(m.Data)
	s.Require().NoError(err)
	s.Equal("alarm", parsed.Subject)
}

func (s *BusSuite) TestInvalidEnvelopeDropped() {
	core, logs := observer.New(zap.WarnLevel)
	dropped := make(chan []byte, 1)
	b := s.connect("test.invalid",
		natsbus.WithLogger(zap.New(core)),
		natsbus.WithOnInvalidEnvelope(func(_ context.Context, raw []byte, err error) {
			s.ErrorIs(err, thingmsg.ErrInvalidEnvelope)
			dropped <- raw
		}),
	)
	in := s.consuming(b)

	s.Require().NoError(b.Conn().Publish("test.invalid", []byte("not an envelope")))
	s.Require().NoError(b.Submit(s.ctx, alarm()))

	s.Eventually(func() bool { return len(in.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Equal(1, logs.FilterMessage("dropping invalid envelope").Len())
	select {
	case raw := <-dropped:
		s.Equal("not an envelope", string(raw))
	case <-time.After(time.Second):
		s.Fail("invalid envelope callback not called")
	}
}

func (s *BusSuite) TestSubmitRejectsInvalidMessage() {
	b := s.connect("test.reject")
	msg := alarm()
	msg.Subject = ""

	s.ErrorIs(b.Submit(s.ctx, msg), thingmsg.ErrInvalidEnvelope)
}

func (s *BusSuite) TestQueueGroup() {
	pub := s.connect("test.queue")
	a := s.consuming(s.connect("test.queue", natsbus.WithQueue("workers")))
	b := s.consuming(s.connect("test.queue", natsbus.WithQueue("workers")))

	for range 10 {
		s.Require().NoError(pub.Submit(s.ctx, alarm()))
	}

	s.Eventually(func() bool { return len(a.snapshot())+len(b.snapshot()) == 10 }, 2*time.Second, 10*time.Millisecond)
	s.Never(func() bool { return len(a.snapshot())+len(b.snapshot()) > 10 }, 100*time.Millisecond, 10*time.Millisecond)
}

func (s *BusSuite) TestLifecycleErrors() {
	b := s.connect("test.lifecycle")
	s.ErrorIs(b.StartConsumption(s.ctx), natsbus.ErrNoConsumer)

	s.consuming(b)
	s.ErrorIs(b.StartConsumption(s.ctx), thingmsg.ErrAlreadyConsuming)

	s.Require().NoError(b.Close(s.ctx))
	s.Require().NoError(b.Close(s.ctx))
	s.ErrorIs(b.Submit(s.ctx, alarm()), thingmsg.ErrTransportClosed)
	s.ErrorIs(b.StartConsumption(s.ctx), thingmsg.ErrTransportClosed)
	s.True(b.Conn().IsClosed())
}

func (s *BusSuite) TestBorrowedConnectionStaysOpen() {
	nc, err := nats.Connect(s.srv.ClientURL())
	s.Require().NoError(err)
	defer nc.Close()

	b := natsbus.New(nc, natsbus.WithSubject("test.borrowed"))
	s.Equal("test.borrowed", b.Subject())
	s.consuming(b)
	s.Require().NoError(b.Close(s.ctx))

	s.False(nc.IsClosed())
}

func (s *BusSuite) TestClients() {
	done := thingmsg.NewCoordinator(thingmsg.CountMessages)
	receiver := thingmsg.NewClient(s.connect("test.clients"),
		thingmsg.WithRouterOptions(thingmsg.WithCompletion(done)))
	sender := thingmsg.NewClient(s.connect("test.clients"))

	got := make(chan string, 4)
	_, err := thingmsg.RegisterFunc(receiver.Router(), "smoke",
		thingmsg.ForFeature("org.acme:house-1", "smoke"), thingmsg.Subject("alarm"),
		func(_ context.Context, m thingmsg.Message[string]) error {
			got <- m.Payload
			return nil
		})
	s.Require().NoError(err)
	s.Require().NoError(receiver.StartConsumption(s.ctx))

	_, err = sender.Feature("org.acme:house-1", "smoke").From().
		Subject("alarm").Payload("kitchen").Send(s.ctx).Await(2 * time.Second)
	s.Require().NoError(err)

	s.True(done.Await(s.ctx, 1, 2*time.Second).Delivered())
	s.Equal("kitchen", <-got)
}

func TestConnectFailure(t *testing.T) {
	_, err := natsbus.Connect("nats://127.0.0.1:1", []nats.Option{nats.Timeout(100 * time.Millisecond), nats.MaxReconnects(0)})
	assert.Error(t, err)
}
