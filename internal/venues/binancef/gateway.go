package binancef

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/perpgate/perpgate/gateway"
	"github.com/perpgate/perpgate/internal/config"
	"github.com/perpgate/perpgate/internal/conn"
	"github.com/perpgate/perpgate/internal/ident"
	"github.com/perpgate/perpgate/internal/journal"
	"github.com/perpgate/perpgate/internal/meta"
	"github.com/perpgate/perpgate/internal/observability"
	"github.com/perpgate/perpgate/internal/reconcile"
	"github.com/perpgate/perpgate/internal/schema"
	"github.com/perpgate/perpgate/internal/sign"
	"github.com/perpgate/perpgate/internal/subs"
	"github.com/perpgate/perpgate/internal/telemetry"
)

const listenKeyRefreshInterval = 30 * time.Minute

// Options configures the venue gateway. Only Config is required.
type Options struct {
	Config  config.VenueConfig
	Metrics *telemetry.Metrics
	Journal journal.Recorder
	// Dialer overrides the websocket dialer, primarily for tests.
	Dialer conn.Dialer
}

// Gateway binds the façade contract to Binance USD-M futures. Construction is
// cheap; the venue session is established lazily on first use and shared by
// all callers.
type Gateway struct {
	cfg     config.VenueConfig
	log     observability.Logger
	metrics *telemetry.Metrics
	journal journal.Recorder

	rest   *RESTClient
	parser *Parser
	meta   *meta.Cache
	ident  *ident.Resolver
	signer *sign.Serializer
	status *gateway.StatusTracker
	boot   *gateway.Initializer

	dialer   conn.Dialer
	manager  *conn.Manager
	sender   *wireSender
	registry *subs.Registry

	positions *reconcile.PositionTable
	fresh     *reconcile.Freshness

	runCtx  context.Context
	runStop context.CancelFunc
	tasks   conc.WaitGroup

	mu          sync.Mutex
	toCanonical map[string]string
	books       map[string]*reconcile.BookAssembler
	klines      map[string]*reconcile.KlineWindow
	assets      map[string]schema.Asset
	canTrade    bool
	listenKey   string
	lastKeep    time.Time
	closed      bool

	depthFeeds   map[string]*gateway.Feed[schema.Depth]
	tickerFeeds  map[string]*gateway.Feed[schema.Ticker]
	klineFeeds   map[string]*gateway.Feed[schema.Kline]
	fundingFeeds map[string]*gateway.Feed[schema.FundingRate]
	orderFeed    *gateway.Feed[schema.Order]
	accountFeed  *gateway.Feed[schema.AccountSnapshot]
	connFeed     *gateway.Feed[conn.Event]
	healthFeed   *gateway.Feed[bool]

	restFailures int
	restHealthy  bool

	ctrl atomic.Uint64
}

var (
	_ gateway.Gateway               = (*Gateway)(nil)
	_ gateway.ConnectionEventSource = (*Gateway)(nil)
	_ gateway.RESTHealthSource      = (*Gateway)(nil)
	_ gateway.OrderQuerier          = (*Gateway)(nil)
	_ gateway.AccountQuerier        = (*Gateway)(nil)
	_ gateway.MarginModeChanger     = (*Gateway)(nil)
	_ gateway.VerifiedCanceller     = (*Gateway)(nil)
)

// clockNonceSource seeds each signing key's counter from wall-clock
// milliseconds and keeps it tracking the clock between operations. The nonce
// is signed as the request timestamp, so after an idle gap it must jump to
// the current clock instead of continuing prev+1 inside a stale recvWindow.
type clockNonceSource struct{}

func (clockNonceSource) FetchNonce(context.Context, string) (uint64, error) {
	return uint64(time.Now().UnixMilli()), nil
}

func (clockNonceSource) NonceFloor(string) uint64 {
	return uint64(time.Now().UnixMilli())
}

var _ sign.NonceFloorSource = clockNonceSource{}

// New constructs the venue gateway.
func New(opts Options) *Gateway {
	cfg := opts.Config
	rec := opts.Journal
	if rec == nil {
		rec = journal.Nop{}
	}
	runCtx, runStop := context.WithCancel(context.Background())

	g := &Gateway{
		cfg:     cfg,
		log:     observability.Log(),
		metrics: opts.Metrics,
		journal: rec,
		dialer:  opts.Dialer,
		runCtx:  runCtx,
		runStop: runStop,

		toCanonical:  make(map[string]string),
		books:        make(map[string]*reconcile.BookAssembler),
		klines:       make(map[string]*reconcile.KlineWindow),
		assets:       make(map[string]schema.Asset),
		depthFeeds:   make(map[string]*gateway.Feed[schema.Depth]),
		tickerFeeds:  make(map[string]*gateway.Feed[schema.Ticker]),
		klineFeeds:   make(map[string]*gateway.Feed[schema.Kline]),
		fundingFeeds: make(map[string]*gateway.Feed[schema.FundingRate]),
		orderFeed:    gateway.NewFeed[schema.Order]("orders"),
		accountFeed:  gateway.NewFeed[schema.AccountSnapshot]("account"),
		connFeed:     gateway.NewFeed[conn.Event]("connection"),
		healthFeed:   gateway.NewFeed[bool]("rest-health"),
		restHealthy:  true,
	}

	g.rest = NewRESTClient(cfg.RESTBaseURL, cfg.Credentials.APIKey, cfg.Credentials.APISecret, cfg.Conn.RequestTimeout)
	g.rest.SetSymbolResolver(g.canonicalSymbol)
	g.parser = NewParser(g.canonicalSymbol)
	g.meta = meta.NewCache(Venue, g.rest)
	g.ident = ident.NewResolver()
	g.signer = sign.NewSerializer(clockNonceSource{}, cfg.Order.NonceRefreshMin)
	g.sender = newWireSender(g)
	g.registry = subs.NewRegistry(g.sender)
	g.status = gateway.NewStatusTracker(Venue)
	g.boot = gateway.NewInitializer(g.initialize, cfg.Order.InitErrorDebounce)

	epsilon, err := decimal.NewFromString(cfg.Reconcile.PositionEpsilon)
	if err != nil {
		epsilon = decimal.New(1, -7)
	}
	g.positions = reconcile.NewPositionTable(epsilon, cfg.Reconcile.DefenseWindow, cfg.Reconcile.StaleCeiling)
	g.fresh = reconcile.NewFreshness(cfg.Reconcile.MaxStreamAge)
	g.fresh.OnStale(g.onStale)
	return g
}

// Name implements gateway.Gateway.
func (g *Gateway) Name() string { return Venue }

// Status implements gateway.Gateway.
func (g *Gateway) Status() gateway.Status { return g.status.Current() }

// canonicalSymbol translates a venue symbol through the reverse index built
// at metadata load. Unknown symbols pass through unchanged.
func (g *Gateway) canonicalSymbol(exchangeSymbol string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if canonical, ok := g.toCanonical[exchangeSymbol]; ok {
		return canonical
	}
	return exchangeSymbol
}

func (g *Gateway) hasCredentials() bool {
	return g.cfg.Credentials.APIKey != "" && g.cfg.Credentials.APISecret != ""
}

// initialize is the one-time session bootstrap run under the shared
// initializer: metadata, listen key, websocket session, background loops.
func (g *Gateway) initialize(ctx context.Context) error {
	g.status.To(gateway.StatusInitializing)

	if err := g.meta.Load(ctx); err != nil {
		g.status.To(gateway.StatusFailed)
		return err
	}
	reverse := make(map[string]string)
	for _, symbol := range g.meta.Symbols() {
		md, err := g.meta.Get(symbol)
		if err != nil {
			continue
		}
		reverse[md.ExchangeSymbolID] = symbol
	}
	g.mu.Lock()
	g.toCanonical = reverse
	g.mu.Unlock()

	if g.hasCredentials() {
		key, err := g.rest.CreateListenKey(ctx)
		if err != nil {
			g.status.To(gateway.StatusFailed)
			return err
		}
		g.mu.Lock()
		g.listenKey = key
		g.lastKeep = time.Now()
		g.mu.Unlock()
	}

	g.manager = conn.NewManager(Venue, g.cfg.WSBaseURL+"/stream", g.cfg.Conn, g.dialer, conn.Hooks{
		OnSession:   g.onSession,
		OnFrame:     g.onFrame,
		CorrelateID: correlateControlID,
		KeepAlive:   g.keepAlive,
	})
	if err := g.manager.Start(); err != nil {
		// Stop the dial loop so a retry does not leave an orphaned
		// manager racing this gateway for the session.
		g.manager.Stop()
		g.manager = nil
		g.status.To(gateway.StatusFailed)
		return err
	}

	g.tasks.Go(g.pumpConnectionEvents)
	g.tasks.Go(g.pollLoop)

	g.status.To(gateway.StatusReady)
	return nil
}

func (g *Gateway) ensureInit(ctx context.Context) error {
	return g.boot.Ensure(ctx)
}

// onSession runs on every (re)connect before the session is ready: it joins
// the user stream and replays all active subscriptions on the new socket.
func (g *Gateway) onSession(ctx context.Context, w conn.Writer) error {
	g.sender.setWriter(w)
	defer g.sender.setWriter(nil)

	g.mu.Lock()
	key := g.listenKey
	g.mu.Unlock()
	if key != "" {
		id := g.ctrl.Add(1)
		frame, err := encodeControl("SUBSCRIBE", []string{key}, id)
		if err != nil {
			return err
		}
		if err := w.Write(ctx, frame); err != nil {
			return err
		}
	}
	return g.registry.Replay(ctx)
}

func (g *Gateway) onFrame(payload []byte) error {
	evt, err := g.parser.Parse(payload)
	if err != nil {
		return err
	}
	if evt == nil {
		return nil
	}
	g.handleEvent(evt)
	return nil
}

// keepAlive runs on heartbeat ticks; the listen key needs periodic renewal
// well below its one hour expiry.
func (g *Gateway) keepAlive(ctx context.Context, _ conn.Writer) error {
	g.mu.Lock()
	key := g.listenKey
	due := key != "" && time.Since(g.lastKeep) >= listenKeyRefreshInterval
	if due {
		g.lastKeep = time.Now()
	}
	g.mu.Unlock()
	if !due {
		return nil
	}
	return g.rest.KeepAliveListenKey(ctx)
}

func (g *Gateway) handleEvent(evt Event) {
	switch e := evt.(type) {
	case DepthEvent:
		g.handleDepth(e)
	case TickerEvent:
		g.fresh.Touch(reconcile.StreamTicker)
		if feed := g.lookupTickerFeed(e.Ticker.Symbol); feed != nil {
			feed.Publish(e.Ticker)
		}
	case KlineEvent:
		g.handleKline(e.Kline)
	case FundingEvent:
		if feed := g.lookupFundingFeed(e.Funding.Symbol); feed != nil {
			feed.Publish(e.Funding)
		}
	case OrderEvent:
		g.handleOrderPush(e.Order)
	case AccountEvent:
		g.handleAccountPush(e)
	case ListenKeyExpiredEvent:
		g.tasks.Go(g.refreshListenKey)
	}
}

func (g *Gateway) handleDepth(e DepthEvent) {
	g.fresh.Touch(reconcile.StreamDepth)
	g.mu.Lock()
	book := g.books[e.Symbol]
	feed := g.depthFeeds[e.Symbol]
	g.mu.Unlock()
	if book == nil {
		return
	}
	depth, applied := book.ApplyDelta(e.Delta)
	if !applied {
		if book.HasSnapshot() && g.metrics != nil {
			g.metrics.DroppedDelta(g.runCtx, Venue, e.Symbol)
		}
		return
	}
	if feed != nil {
		feed.Publish(depth)
	}
}

func (g *Gateway) handleKline(bar schema.Kline) {
	key := bar.Symbol + "|" + bar.Interval
	g.mu.Lock()
	window := g.klines[key]
	feed := g.klineFeeds[key]
	g.mu.Unlock()
	if window != nil && !window.Apply(bar) {
		return
	}
	if feed != nil {
		feed.Publish(bar)
	}
}

func (g *Gateway) handleOrderPush(order schema.Order) {
	g.fresh.Touch(reconcile.StreamOrders)
	merged, _ := g.ident.Apply(order)
	if err := g.journal.RecordTransition(g.runCtx, Venue, merged); err != nil {
		g.log.Error("journal transition failed",
			observability.F("venue", Venue),
			observability.F("clientOrderID", merged.ClientOrderID),
			observability.F("error", err.Error()))
	}
	if g.metrics != nil {
		switch merged.Status {
		case schema.OrderStatusFilled:
			g.metrics.OrderFilled(g.runCtx, Venue, merged.Symbol)
		case schema.OrderStatusRejected, schema.OrderStatusExpired:
			g.metrics.OrderRejected(g.runCtx, Venue, merged.Symbol)
		case schema.OrderStatusCanceled:
			g.metrics.OrderCanceled(g.runCtx, Venue, merged.Symbol)
		}
	}
	g.orderFeed.Publish(merged)
}

func (g *Gateway) handleAccountPush(e AccountEvent) {
	g.fresh.Touch(reconcile.StreamAccount)
	for _, position := range e.Positions {
		g.positions.ApplyPush(position)
	}
	g.mu.Lock()
	for _, asset := range e.Assets {
		g.assets[asset.Asset] = asset
	}
	g.mu.Unlock()
	g.publishAccount(e.EventTime)
}

// publishAccount assembles a fresh immutable snapshot from the position
// table and the balance map.
func (g *Gateway) publishAccount(at time.Time) {
	g.mu.Lock()
	assets := make([]schema.Asset, 0, len(g.assets))
	for _, asset := range g.assets {
		assets = append(assets, asset)
	}
	canTrade := g.canTrade
	g.mu.Unlock()

	snapshot := schema.AccountSnapshot{
		Positions:  g.positions.Snapshot(),
		Assets:     assets,
		CanTrade:   canTrade,
		UpdateTime: at,
	}
	g.accountFeed.Publish(snapshot)
}

func (g *Gateway) pumpConnectionEvents() {
	for {
		select {
		case <-g.runCtx.Done():
			return
		case event, ok := <-g.manager.Events():
			if !ok {
				return
			}
			switch event.State {
			case conn.StateReconnecting:
				g.status.To(gateway.StatusReconnecting)
				g.registry.SetConnected(false)
				if g.metrics != nil {
					g.metrics.Reconnect(g.runCtx, Venue)
				}
			case conn.StateReconnected:
				g.status.To(gateway.StatusReady)
				g.reseedBooks()
			case conn.StateDisconnected:
				g.registry.SetConnected(false)
			}
			g.connFeed.Publish(event)
		}
	}
}

// reseedBooks reloads REST snapshots for every watched book after a
// reconnect; deltas that arrived meanwhile are buffered by the assemblers.
func (g *Gateway) reseedBooks() {
	g.mu.Lock()
	symbols := make([]string, 0, len(g.books))
	for symbol := range g.books {
		symbols = append(symbols, symbol)
	}
	g.mu.Unlock()
	for _, symbol := range symbols {
		symbol := symbol
		g.tasks.Go(func() { g.seedBook(symbol) })
	}
}

func (g *Gateway) seedBook(symbol string) {
	md, err := g.meta.Get(symbol)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(g.runCtx, g.cfg.Conn.RequestTimeout)
	defer cancel()
	snapshot, err := g.rest.DepthSnapshot(ctx, md.ExchangeSymbolID, 500)
	if err != nil {
		g.log.Error("depth snapshot failed",
			observability.F("venue", Venue),
			observability.F("symbol", symbol),
			observability.F("error", err.Error()))
		return
	}
	g.mu.Lock()
	book := g.books[symbol]
	feed := g.depthFeeds[symbol]
	g.mu.Unlock()
	if book == nil {
		return
	}
	depth, err := book.ApplySnapshot(snapshot)
	if err != nil {
		g.log.Error("depth snapshot rejected",
			observability.F("venue", Venue),
			observability.F("symbol", symbol),
			observability.F("error", err.Error()))
		return
	}
	if feed != nil {
		feed.Publish(depth)
	}
}

// pollLoop reconciles authoritative REST state against streamed state and
// drives freshness escalation.
func (g *Gateway) pollLoop() {
	ticker := time.NewTicker(g.cfg.Reconcile.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.runCtx.Done():
			return
		case <-ticker.C:
			g.pollOnce()
		}
	}
}

func (g *Gateway) pollOnce() {
	if g.hasCredentials() {
		ctx, cancel := context.WithTimeout(g.runCtx, g.cfg.Conn.RequestTimeout)
		snapshot, err := g.rest.Account(ctx)
		cancel()
		if err != nil {
			g.log.Error("account poll failed",
				observability.F("venue", Venue),
				observability.F("error", err.Error()))
		} else {
			g.positions.ApplyPoll(snapshot.Positions)
			g.mu.Lock()
			for _, asset := range snapshot.Assets {
				g.assets[asset.Asset] = asset
			}
			g.canTrade = snapshot.CanTrade
			g.mu.Unlock()
			g.publishAccount(snapshot.UpdateTime)
		}

		ctx, cancel = context.WithTimeout(g.runCtx, g.cfg.Conn.RequestTimeout)
		open, err := g.rest.OpenOrders(ctx, "")
		cancel()
		if err != nil {
			g.log.Error("open orders poll failed",
				observability.F("venue", Venue),
				observability.F("error", err.Error()))
		} else {
			for _, order := range open {
				if merged, live := g.ident.Apply(order); live {
					g.orderFeed.Publish(merged)
				}
			}
		}
	}

	g.pollFunding()
	g.pollRESTHealth()

	g.positions.Prune()
	g.fresh.Check()
	if g.fresh.AllFresh() && g.status.Current() == gateway.StatusDegraded {
		g.status.To(gateway.StatusReady)
	}
}

// pollFunding refreshes funding snapshots over REST for watched symbols.
// Mark price pushes arrive every second; the poll covers gaps where the
// stream drops without a disconnect.
func (g *Gateway) pollFunding() {
	g.mu.Lock()
	symbols := make([]string, 0, len(g.fundingFeeds))
	for symbol := range g.fundingFeeds {
		symbols = append(symbols, symbol)
	}
	g.mu.Unlock()

	for _, symbol := range symbols {
		md, err := g.meta.Get(symbol)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(g.runCtx, g.cfg.Conn.RequestTimeout)
		funding, err := g.rest.PremiumIndex(ctx, md.ExchangeSymbolID)
		cancel()
		if err != nil {
			g.log.Error("funding poll failed",
				observability.F("venue", Venue),
				observability.F("symbol", symbol),
				observability.F("error", err.Error()))
			continue
		}
		if feed := g.lookupFundingFeed(symbol); feed != nil {
			feed.Publish(funding)
		}
	}
}

// restFailureThreshold is the consecutive probe failure count that flips the
// health signal to unhealthy. A single success flips it back.
const restFailureThreshold = 3

func (g *Gateway) pollRESTHealth() {
	ctx, cancel := context.WithTimeout(g.runCtx, g.cfg.Conn.RequestTimeout)
	err := g.rest.Ping(ctx)
	cancel()

	g.mu.Lock()
	var transition *bool
	if err != nil {
		g.restFailures++
		if g.restHealthy && g.restFailures >= restFailureThreshold {
			g.restHealthy = false
			down := false
			transition = &down
		}
	} else {
		g.restFailures = 0
		if !g.restHealthy {
			g.restHealthy = true
			up := true
			transition = &up
		}
	}
	g.mu.Unlock()

	if transition == nil {
		return
	}
	if !*transition {
		g.log.Error("rest endpoint unhealthy",
			observability.F("venue", Venue),
			observability.F("failures", restFailureThreshold))
	} else {
		g.log.Info("rest endpoint recovered", observability.F("venue", Venue))
	}
	g.healthFeed.Publish(*transition)
}

// WatchRESTHealth implements gateway.RESTHealthSource.
func (g *Gateway) WatchRESTHealth(fn func(healthy bool)) gateway.Subscription {
	return g.healthFeed.Subscribe(fn)
}

// onStale escalates a silent stream: the gateway degrades and the stream is
// reported, leaving reconnect decisions to the connection watchdog.
func (g *Gateway) onStale(stream reconcile.Stream, age time.Duration) {
	g.log.Error("stream stale",
		observability.F("venue", Venue),
		observability.F("stream", string(stream)),
		observability.F("age", age.String()))
	if g.metrics != nil {
		g.metrics.StaleStream(g.runCtx, Venue, string(stream))
	}
	g.status.To(gateway.StatusDegraded)
}

// refreshListenKey replaces an expired user stream credential and joins the
// new stream without tearing the socket down.
func (g *Gateway) refreshListenKey() {
	ctx, cancel := context.WithTimeout(g.runCtx, g.cfg.Conn.RequestTimeout)
	defer cancel()
	key, err := g.rest.CreateListenKey(ctx)
	if err != nil {
		g.log.Error("listen key refresh failed",
			observability.F("venue", Venue),
			observability.F("error", err.Error()))
		return
	}
	g.mu.Lock()
	old := g.listenKey
	g.listenKey = key
	g.lastKeep = time.Now()
	g.mu.Unlock()

	id := g.ctrl.Add(1)
	if frame, err := encodeControl("SUBSCRIBE", []string{key}, id); err == nil {
		_ = g.manager.Send(ctx, frame)
	}
	if old != "" && old != key {
		id = g.ctrl.Add(1)
		if frame, err := encodeControl("UNSUBSCRIBE", []string{old}, id); err == nil {
			_ = g.manager.Send(ctx, frame)
		}
	}
}

// Close shuts the gateway down. It is safe to call once; subsequent calls
// are no-ops.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.status.To(gateway.StatusClosed)
	g.runStop()
	if g.manager != nil {
		g.manager.Stop()
	}
	g.signer.Close()
	g.tasks.Wait()
	return nil
}
