package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/journal"
	"matchcore/internal/market"
	"matchcore/internal/matching"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"
)

const (
	maxRecvSize      = 4 * 1024
	defaultNWorkers  = 10
	defaultConnTimeout = time.Second
)

var (
	ErrImproperConversion = errors.New("wire: improper type conversion")
	ErrUnknownMarket      = errors.New("wire: unknown market")
)

// clientMessage links a parsed request to the connection it arrived on.
type clientMessage struct {
	conn    net.Conn
	message Message
}

// Server is the TCP gateway in front of one or more per-market matching
// engines. Exactly one goroutine (sessionHandler) ever calls into an
// Engine, preserving the single-writer-per-market contract the matching
// package relies on — the worker pool only parses bytes off the wire and
// hands the parsed request to sessionHandler over a channel, mirroring
// the teacher's server loop.
type Server struct {
	address  string
	port     int
	engines  map[market.ID]*matching.Engine
	journals map[market.ID]*journal.Writer // may be nil per market to run without durability, e.g. in tests
	pool     WorkerPool
	log      zerolog.Logger

	cancel context.CancelFunc

	sessionsLock sync.Mutex
	sessions     map[id.AccountID][]net.Conn // a client may have several resting subscriptions across accounts in principle, but in practice one conn per account

	inbox chan clientMessage

	clock func() int64 // supplies PlacedAt/requested-at timestamps; never read inside matching itself
}

// New builds a gateway serving the given engines, keyed by market id.
// journals, also keyed by market id, receives every event this gateway
// produces before it is broadcast to clients — the wire layer is the
// durability boundary, journaling before delivery so a client never
// learns of an event whose journal Append failed (with a journal that
// fsyncs every N records, an appended event may reach clients before its
// fsync). clock supplies
// wall-clock timestamps for inbound requests — the wire layer is where
// "now" is allowed to be read, never the engine.
func New(address string, port int, engines map[market.ID]*matching.Engine, journals map[market.ID]*journal.Writer, clock func() int64, log zerolog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		engines:  engines,
		journals: journals,
		pool:     NewWorkerPool(defaultNWorkers),
		log:      log.With().Str("component", "wire").Logger(),
		sessions: make(map[id.AccountID][]net.Conn),
		inbox:    make(chan clientMessage, 64),
		clock:    clock,
	}
}

func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Run accepts connections and routes requests until ctx is canceled.
func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		s.log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			s.log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	s.log.Info().Str("address", listener.Addr().String()).Msg("gateway listening")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				s.log.Error().Err(err).Msg("accept failed")
				continue
			}
			s.pool.AddTask(conn)
		}
	}
}

// sessionHandler is the single goroutine permitted to call into any
// Engine — every request, regardless of which connection it arrived on,
// is serialized through this loop.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case cm := <-s.inbox:
			s.handleMessage(cm)
		}
	}
}

func (s *Server) handleMessage(cm clientMessage) {
	switch m := cm.message.(type) {
	case *SubmitOrderMessage:
		s.handleSubmit(cm.conn, m)
	case *CancelOrderMessage:
		s.handleCancel(cm.conn, m)
	default:
		s.sendError(cm.conn, ErrInvalidMessageType)
	}
}

func (s *Server) handleSubmit(conn net.Conn, m *SubmitOrderMessage) {
	eng, ok := s.engines[m.MarketID]
	if !ok {
		s.sendError(conn, ErrUnknownMarket)
		return
	}
	req, err := m.ToSubmitRequest()
	if err != nil {
		s.sendError(conn, err)
		return
	}
	req.PlacedAt = s.clock()
	s.registerSession(req.AccountID, conn)

	_, events, err := eng.Submit(req)
	if err != nil {
		s.log.Error().Err(err).Str("account", req.AccountID.String()).Msg("submit failed")
		s.sendError(conn, err)
		return
	}
	s.broadcast(m.MarketID, events, eng)
}

func (s *Server) handleCancel(conn net.Conn, m *CancelOrderMessage) {
	eng, ok := s.engines[m.MarketID]
	if !ok {
		s.sendError(conn, ErrUnknownMarket)
		return
	}
	s.registerSession(m.AccountID, conn)

	events, err := eng.Cancel(m.OrderID, m.AccountID, m.ByAdmin, s.clock())
	if err != nil {
		s.log.Error().Err(err).Str("account", m.AccountID.String()).Msg("cancel failed")
		s.sendError(conn, err)
		return
	}
	s.broadcast(m.MarketID, events, eng)
}

// broadcast journals every event (if this market has a journal wired up),
// then delivers it to whichever connected accounts it concerns. An
// account with no live connection simply misses the push — the journal,
// not this fan-out, is the durable record.
func (s *Server) broadcast(marketID market.ID, events []event.Event, eng *matching.Engine) {
	w := s.journals[marketID]
	for _, ev := range events {
		if w != nil {
			if err := w.Append(ev); err != nil {
				// A journal write failure is a fatal operational fault for
				// this market: the event already happened in the engine's
				// in-memory state, and if it can't be durably recorded the
				// gateway must not tell clients about it as if it had.
				s.log.Error().Err(err).Uint64("sequence", ev.Sequence).Msg("journal append failed, event withheld from clients")
				continue
			}
		}
		report, err := EncodeEventReport(ev)
		if err != nil {
			s.log.Error().Err(err).Msg("encode event report")
			continue
		}
		for _, acct := range interestedAccounts(ev, eng) {
			s.deliver(acct, report)
		}
	}
}

func (s *Server) deliver(acct id.AccountID, payload []byte) {
	s.sessionsLock.Lock()
	conns := append([]net.Conn(nil), s.sessions[acct]...)
	s.sessionsLock.Unlock()

	for _, conn := range conns {
		if _, err := conn.Write(payload); err != nil {
			s.log.Error().Err(err).Str("account", acct.String()).Msg("report delivery failed")
			s.dropSession(acct, conn)
		}
	}
}

func (s *Server) sendError(conn net.Conn, err error) {
	if _, werr := conn.Write(EncodeErrorReport(err.Error())); werr != nil {
		s.log.Error().Err(werr).Msg("error report delivery failed")
	}
}

func (s *Server) registerSession(acct id.AccountID, conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	for _, c := range s.sessions[acct] {
		if c == conn {
			return
		}
	}
	s.sessions[acct] = append(s.sessions[acct], conn)
}

func (s *Server) dropSession(acct id.AccountID, conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	conns := s.sessions[acct]
	for i, c := range conns {
		if c == conn {
			s.sessions[acct] = append(conns[:i], conns[i+1:]...)
			return
		}
	}
}

// handleConnection is a short-lived worker task: read one frame, parse
// it, hand it to the session handler, then requeue the connection so
// another worker picks up its next frame. This is the teacher's
// self-requeueing connection pattern, generalized to matchcore's request
// types.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		s.log.Error().Err(err).Msg("set read deadline")
		conn.Close()
		return nil
	}

	select {
	case <-t.Dying():
		conn.Close()
		return nil
	default:
		buf := make([]byte, maxRecvSize)
		n, err := conn.Read(buf)
		if err != nil {
			var ne net.Error
			if !(errors.As(err, &ne) && ne.Timeout()) {
				s.log.Debug().Err(err).Msg("connection read failed, closing")
			}
			conn.Close()
			return nil
		}

		msg, err := ParseMessage(buf[:n])
		if err != nil {
			s.log.Error().Err(err).Msg("parse message")
			s.sendError(conn, err)
			s.pool.AddTask(conn)
			return nil
		}

		s.inbox <- clientMessage{conn: conn, message: msg}
		s.pool.AddTask(conn)
	}
	return nil
}

// interestedAccounts returns the accounts that should receive a copy of
// ev — the maker and taker for a trade, the single owner for everything
// else. OrderPartiallyFilled/OrderFilled/OrderCanceled carry only an
// OrderID, so the owning account is recovered via eng's order index;
// TradeExecuted and the admission-time events already carry account ids
// directly.
func interestedAccounts(ev event.Event, eng *matching.Engine) []id.AccountID {
	switch ev.Kind {
	case event.KindOrderPlaced:
		return []id.AccountID{ev.OrderPlaced.AccountID}
	case event.KindOrderPartiallyFilled:
		return ownerOf(eng, ev.OrderPartiallyFilled.OrderID)
	case event.KindOrderFilled:
		return ownerOf(eng, ev.OrderFilled.OrderID)
	case event.KindOrderCanceled:
		return ownerOf(eng, ev.OrderCanceled.OrderID)
	case event.KindTradeExecuted:
		return []id.AccountID{ev.TradeExecuted.MakerAccountID, ev.TradeExecuted.TakerAccountID}
	case event.KindBalanceChanged:
		return []id.AccountID{ev.BalanceChanged.AccountID}
	case event.KindRiskDecision:
		return []id.AccountID{ev.RiskDecision.AccountID}
	case event.KindSettlementFailed:
		return nil
	default:
		return nil
	}
}

func ownerOf(eng *matching.Engine, orderID id.OrderID) []id.AccountID {
	o, ok := eng.Order(orderID)
	if !ok {
		return nil
	}
	return []id.AccountID{o.AccountID}
}
