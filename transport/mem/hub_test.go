package mem_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/bjaus/thingmsg"
	"github.com/bjaus/thingmsg/transport/mem"
)

type collector struct {
	mu   sync.Mutex
	msgs []thingmsg.InboundMessage
}

func (c *collector) consume(_ context.Context, msg thingmsg.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) subjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Subject
	}
	return out
}

type HubSuite struct {
	suite.Suite
	ctx context.Context
	hub *mem.Hub
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.ctx = context.Background()
	s.hub = mem.NewHub()
}

func (s *HubSuite) consumer(name string) (*mem.Endpoint, *collector) {
	c := &collector{}
	ep := s.hub.Connect(name)
	ep.OnMessage(c.consume)
	s.Require().NoError(ep.StartConsumption(s.ctx))
	s.T().Cleanup(func() { _ = ep.Close(context.Background()) })
	return ep, c
}

func outbound(subject string) thingmsg.OutboundMessage {
	return thingmsg.OutboundMessage{
		ID:        subject,
		Subject:   subject,
		Address:   thingmsg.ThingAddress("org.acme:house-1"),
		Direction: thingmsg.DirectionFrom,
		Payload:   []byte(subject),
	}
}

func (s *HubSuite) TestFanOutIncludesSender() {
	a, ca := s.consumer("a")
	_, cb := s.consumer("b")

	s.Require().NoError(a.Submit(s.ctx, outbound("ping")))

	s.Eventually(func() bool { return len(ca.subjects()) == 1 && len(cb.subjects()) == 1 }, time.Second, 5*time.Millisecond)
}

func (s *HubSuite) TestNonConsumingEndpointReceivesNothing() {
	_, c := s.consumer("a")
	idle := &collector{}
	ep := s.hub.Connect("idle")
	ep.OnMessage(idle.consume)

	s.Require().NoError(ep.Submit(s.ctx, outbound("ping")))

	s.Eventually(func() bool { return len(c.subjects()) == 1 }, time.Second, 5*time.Millisecond)
	s.Empty(idle.subjects())
}

func (s *HubSuite) TestOrderPerEndpoint() {
	a, c := s.consumer("a")
	want := []string{"1", "2", "3", "4", "5"}

	for _, subject := range want {
		s.Require().NoError(a.Submit(s.ctx, outbound(subject)))
	}

	s.Eventually(func() bool { return len(c.subjects()) == len(want) }, time.Second, 5*time.Millisecond)
	s.Equal(want, c.subjects())
}

func (s *HubSuite) TestDeliveredMessageIsACopy() {
	a, c := s.consumer("a")
	msg := outbound("ping")

	s.Require().NoError(a.Submit(s.ctx, msg))
	msg.Payload[0] = 'X'

	s.Eventually(func() bool { return len(c.subjects()) == 1 }, time.Second, 5*time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	s.Equal([]byte("ping"), c.msgs[0].Payload)
}

func (s *HubSuite) TestCloseDetaches() {
	a, _ := s.consumer("a")
	b, cb := s.consumer("b")
	s.Equal(2, s.hub.Len())

	s.Require().NoError(b.Close(s.ctx))
	s.Require().NoError(b.Close(s.ctx), "close is idempotent")

	s.Equal(1, s.hub.Len())
	s.Require().NoError(a.Submit(s.ctx, outbound("ping")))
	s.ErrorIs(b.Submit(s.ctx, outbound("ping")), thingmsg.ErrTransportClosed)
	s.ErrorIs(b.StartConsumption(s.ctx), thingmsg.ErrTransportClosed)
	s.Never(func() bool { return len(cb.subjects()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *HubSuite) TestStartConsumptionErrors() {
	ep := s.hub.Connect("x")
	s.ErrorIs(ep.StartConsumption(s.ctx), mem.ErrNoConsumer)

	ep.OnMessage(func(context.Context, thingmsg.InboundMessage) {})
	s.Require().NoError(ep.StartConsumption(s.ctx))
	s.ErrorIs(ep.StartConsumption(s.ctx), thingmsg.ErrAlreadyConsuming)
	s.Require().NoError(ep.Close(s.ctx))
}

func (s *HubSuite) TestSubmitHonorsContext() {
	hub := mem.NewHub(mem.WithBuffer(1))
	block := make(chan struct{})
	ep := hub.Connect("slow")
	ep.OnMessage(func(context.Context, thingmsg.InboundMessage) { <-block })
	s.Require().NoError(ep.StartConsumption(s.ctx))
	defer func() {
		close(block)
		_ = ep.Close(context.Background())
	}()

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = ep.Submit(ctx, outbound("fill"))
	}

	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *HubSuite) TestTwoClients() {
	ctx := s.ctx
	done := thingmsg.NewCoordinator(thingmsg.CountInvocations)

	receiver := thingmsg.NewClient(s.hub.Connect("receiver"),
		thingmsg.WithRouterOptions(thingmsg.WithCompletion(done)))
	sender := thingmsg.NewClient(s.hub.Connect("sender"))
	defer receiver.Close(ctx)
	defer sender.Close(ctx)

	var got []string
	var mu sync.Mutex
	_, err := thingmsg.RegisterFunc(receiver.Router(), "house", thingmsg.ForThing("org.acme:house-1"), thingmsg.AnySubject(),
		func(_ context.Context, m thingmsg.Message[string]) error {
			mu.Lock()
			got = append(got, m.Subject+"="+m.Payload)
			mu.Unlock()
			return nil
		})
	s.Require().NoError(err)
	s.Require().NoError(receiver.StartConsumption(ctx))

	house := sender.Thing("org.acme:house-1")
	_, err = house.From().Subject("smoke").Payload("kitchen").Send(ctx).Await(time.Second)
	s.Require().NoError(err)
	_, err = sender.Thing("org.acme:house-2").From().Subject("smoke").Payload("garage").Send(ctx).Await(time.Second)
	s.Require().NoError(err)

	out := done.Await(ctx, 1, time.Second)
	s.True(out.Delivered())
	s.Never(func() bool { return done.Count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"smoke=kitchen"}, got)
}
