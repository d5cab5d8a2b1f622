package risk

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/indicator"
	"futures-trading-engine/internal/market"
)

// Side is the direction of an open position
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ExitReason records why a position was closed
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitPanic        ExitReason = "PANIC"
	ExitSignal       ExitReason = "SIGNAL_EXIT"
)

var (
	ErrNoPosition          = errors.New("no open position")
	ErrPositionExists      = errors.New("position already open")
	ErrInsufficientBalance = errors.New("insufficient balance for margin")
)

// Position is an open position with its stop state. TrailingStop stays zero
// until price moves past breakeven.
type Position struct {
	ID           string  `json:"id"`
	SignalID     string  `json:"signal_id"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	EntryPrice   float64 `json:"entry_price"`
	Quantity     float64 `json:"quantity"`
	InitialStop  float64 `json:"initial_stop"`
	TrailingStop float64 `json:"trailing_stop"`
	Margin       float64 `json:"margin"`
	EntryFee     float64 `json:"entry_fee"`
	Leverage     int     `json:"leverage"`
	OpenTime     int64   `json:"open_time"`
}

// EffectiveStop is the stop that actually protects the position: the initial
// stop until the trailing stop has activated, then whichever is tighter.
func (p *Position) EffectiveStop() float64 {
	if p.TrailingStop == 0 {
		return p.InitialStop
	}
	if p.Side == Long {
		if p.TrailingStop > p.InitialStop {
			return p.TrailingStop
		}
		return p.InitialStop
	}
	if p.TrailingStop < p.InitialStop {
		return p.TrailingStop
	}
	return p.InitialStop
}

// UnrealizedPnL values the position at the given mark price
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Side == Long {
		return (price - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - price) * p.Quantity
}

// Trade is a completed round trip
type Trade struct {
	ID         string     `json:"id"`
	PositionID string     `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Quantity   float64    `json:"quantity"`
	PnL        float64    `json:"pnl"`
	Fees       float64    `json:"fees"`
	Reason     ExitReason `json:"exit_reason"`
	OpenTime   int64      `json:"open_time"`
	CloseTime  int64      `json:"close_time"`
}

// Suspension is the trading kill switch. The Manager owns it; the signal
// generator holds a read-only handle.
type Suspension struct {
	flag atomic.Bool
}

func (s *Suspension) Suspended() bool { return s.flag.Load() }
func (s *Suspension) suspend()        { s.flag.Store(true) }
func (s *Suspension) clear()          { s.flag.Store(false) }

// Manager tracks balance, open positions and completed trades for one
// account. Safe for concurrent use.
type Manager struct {
	cfg    config.RiskConfig
	bus    *events.Bus
	logger zerolog.Logger

	mu         sync.Mutex
	balance    float64
	positions  map[string]*Position
	trades     []Trade
	suspension Suspension
}

// NewManager creates a manager with the given starting balance
func NewManager(cfg config.RiskConfig, balance float64, bus *events.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		bus:       bus,
		logger:    logger.With().Str("component", "risk").Logger(),
		balance:   balance,
		positions: make(map[string]*Position),
	}
}

// Suspension returns the kill switch handle
func (m *Manager) Suspension() *Suspension {
	return &m.suspension
}

// Resume clears the kill switch after an operator intervenes
func (m *Manager) Resume() {
	m.suspension.clear()
	m.logger.Info().Msg("trading resumed")
	if m.bus != nil {
		m.bus.Publish(events.Event{Type: events.EventPanicCleared})
	}
}

// Balance returns the realized account balance
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// Equity is realized balance plus unrealized PnL at the given mark prices
func (m *Manager) Equity(marks map[string]float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	equity := m.balance
	for sym, p := range m.positions {
		if price, ok := marks[sym]; ok {
			equity += p.UnrealizedPnL(price)
		}
	}
	return equity
}

// Position returns the open position for a symbol, or nil
func (m *Manager) Position(symbol string) *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Positions returns copies of all open positions
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// Trades returns a copy of the completed trade log
func (m *Manager) Trades() []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// OpenPosition sizes and records a new position. The initial stop is placed
// a fixed ATR multiple from entry on the losing side. fillPrice is the
// executed price, which may differ from the signal price by slippage, and
// entryFee is carried on the position until the round trip is booked.
func (m *Manager) OpenPosition(symbol string, side Side, fillPrice, atr, entryFee float64, signalID string, ts int64) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[symbol]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}

	size, err := CalculatePositionSize(m.balance, fillPrice, atr, m.cfg)
	if err != nil {
		return nil, err
	}

	available := m.balance
	for _, p := range m.positions {
		available -= p.Margin
	}
	if size.Margin > available {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, size.Margin, available)
	}

	stop := fillPrice - size.StopDistance
	if side == Short {
		stop = fillPrice + size.StopDistance
	}

	p := &Position{
		ID:          uuid.NewString(),
		SignalID:    signalID,
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  fillPrice,
		Quantity:    size.Quantity,
		InitialStop: stop,
		Margin:      size.Margin,
		EntryFee:    entryFee,
		Leverage:    m.cfg.Leverage,
		OpenTime:    ts,
	}
	m.positions[symbol] = p

	m.logger.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("entry", fillPrice).
		Float64("quantity", size.Quantity).
		Float64("stop", stop).
		Msg("position opened")
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.EventTradeOpened,
			Data: map[string]interface{}{
				"position_id": p.ID,
				"symbol":      symbol,
				"side":        string(side),
				"entry_price": fillPrice,
				"quantity":    size.Quantity,
			},
		})
	}

	cp := *p
	return &cp, nil
}

// UpdateStops advances the trailing stop for a symbol. The trailing stop
// activates only after price crosses breakeven, and only ever moves in the
// position's favor. A no-op when no position is open or ATR is unusable.
func (m *Manager) UpdateStops(symbol string, price, atr float64) {
	if atr <= 0 || !indicator.Valid(atr) || !indicator.Valid(price) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return
	}

	trail := m.cfg.TrailingATRMult * atr
	switch p.Side {
	case Long:
		if price <= p.EntryPrice {
			return
		}
		candidate := price - trail
		if candidate > p.TrailingStop {
			p.TrailingStop = candidate
			m.logger.Debug().
				Str("symbol", symbol).
				Float64("trailing_stop", candidate).
				Msg("trailing stop raised")
		}
	case Short:
		if price >= p.EntryPrice {
			return
		}
		candidate := price + trail
		if p.TrailingStop == 0 || candidate < p.TrailingStop {
			p.TrailingStop = candidate
			m.logger.Debug().
				Str("symbol", symbol).
				Float64("trailing_stop", candidate).
				Msg("trailing stop lowered")
		}
	}
}

// CheckStopHit tests a candle against the effective stop. On a hit it
// returns the fill price and the exit reason: the stop itself when the
// candle traded through it, or the candle open when price gapped past the
// stop. The reason is TRAILING_STOP once the trailing stop governs the
// position, STOP_LOSS while the initial stop still does.
func (m *Manager) CheckStopHit(symbol string, c market.Candle) (float64, ExitReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return 0, "", false
	}

	stop := p.EffectiveStop()
	switch p.Side {
	case Long:
		if c.Low > stop {
			return 0, "", false
		}
	case Short:
		if c.High < stop {
			return 0, "", false
		}
	}

	reason := ExitStopLoss
	if p.TrailingStop != 0 && stop == p.TrailingStop {
		reason = ExitTrailingStop
	}
	if stop >= c.Low && stop <= c.High {
		return stop, reason, true
	}
	return c.Open, reason, true
}

// ClosePosition removes the position for a symbol and books the trade with
// the position's entry fee plus the given exit fee. Calling it again for the
// same symbol returns ErrNoPosition, so retries after a partial failure are
// safe.
func (m *Manager) ClosePosition(symbol string, exitPrice, exitFee float64, reason ExitReason, ts int64) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(symbol, exitPrice, exitFee, reason, ts)
}

func (m *Manager) closeLocked(symbol string, exitPrice, exitFee float64, reason ExitReason, ts int64) (Trade, error) {
	p, ok := m.positions[symbol]
	if !ok {
		return Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	fees := p.EntryFee + exitFee
	pnl := p.UnrealizedPnL(exitPrice) - fees
	m.balance += pnl
	delete(m.positions, symbol)

	trade := Trade{
		ID:         uuid.NewString(),
		PositionID: p.ID,
		Symbol:     symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		PnL:        pnl,
		Fees:       fees,
		Reason:     reason,
		OpenTime:   p.OpenTime,
		CloseTime:  ts,
	}
	m.trades = append(m.trades, trade)

	m.logger.Info().
		Str("symbol", symbol).
		Str("side", string(p.Side)).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Str("reason", string(reason)).
		Msg("position closed")
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.EventTradeClosed,
			Data: map[string]interface{}{
				"trade_id": trade.ID,
				"symbol":   symbol,
				"pnl":      pnl,
				"reason":   string(reason),
			},
		})
	}
	return trade, nil
}

// CloseFunc executes a market close for a position and reports the fill
// price and fees paid.
type CloseFunc func(p Position) (exitPrice, fees float64, err error)

// PanicClose suspends signal generation and closes every open position.
// The kill switch is set before any close is attempted and stays set no
// matter what fails, so no new entries can race the unwind. Each position
// is closed independently; one failure does not abandon the rest.
func (m *Manager) PanicClose(closeFn CloseFunc, ts int64) (int, error) {
	m.suspension.suspend()

	m.logger.Warn().Msg("panic close triggered")
	if m.bus != nil {
		m.bus.Publish(events.Event{Type: events.EventPanicTriggered})
	}

	m.mu.Lock()
	open := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		open = append(open, *p)
	}
	m.mu.Unlock()

	closed := 0
	var errs []error
	for _, p := range open {
		exitPrice, fees, err := closeFn(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Symbol, err))
			m.logger.Error().Err(err).Str("symbol", p.Symbol).Msg("panic close failed for position")
			continue
		}
		m.mu.Lock()
		_, err = m.closeLocked(p.Symbol, exitPrice, fees, ExitPanic, ts)
		m.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}

	return closed, errors.Join(errs...)
}
