// Package capital snapshots account state once per cycle and gates new
// trades against position counts and deployed-capital limits.
package capital

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
	"github.com/eddiefleurent/michael_scarn/internal/models"
	"github.com/eddiefleurent/michael_scarn/internal/store"
)

// Config holds the global capital-management caps.
type Config struct {
	Enabled                   bool    `yaml:"enabled"`
	MaxTotalOpenPositions     int     `yaml:"max_total_open_positions"`
	PerSymbolMaxOpenPositions int     `yaml:"per_symbol_max_open_positions"`
	MaxCapitalDeployedPct     float64 `yaml:"max_capital_deployed_pct"`
	BuyingPowerReservePct     float64 `yaml:"buying_power_reserve_pct"`
}

// RiskLimits are the per-playbook limits applied to a single trade.
// Zero values mean the limit is not set and the gate is skipped.
type RiskLimits struct {
	MaxOpenPlaysPerSymbol   int     `yaml:"max_open_plays_per_symbol"`
	MaxOpenPlays            int     `yaml:"max_open_plays"`
	MaxContractsPerTrade    int     `yaml:"max_contracts_per_trade"`
	MaxCapitalPerTradeFixed float64 `yaml:"max_capital_per_trade_fixed"`
	MaxCapitalPerTradePct   float64 `yaml:"max_capital_per_trade_pct"`
}

// AccountSnapshot is the once-per-cycle view of the brokerage account.
type AccountSnapshot struct {
	BuyingPower    float64
	Equity         float64
	PortfolioValue float64
	RefreshedAt    time.Time
}

// cycleCounts caches the store scan for the current cycle: position counts
// and deployed capital across OPEN and PENDING_OPENING.
type cycleCounts struct {
	total      int
	bySymbol   map[string]int
	byPlaybook map[string]int
	deployed   float64
}

// Manager gates new trades. Refresh must be called once at the top of every
// cycle; CheckTrade is then safe to call from concurrent strategy goroutines.
type Manager struct {
	broker broker.Broker
	store  store.Interface
	cfg    Config
	logger *log.Logger

	mu     sync.RWMutex
	snap   AccountSnapshot
	counts *cycleCounts
}

// NewManager builds a capital manager over the broker and play store.
func NewManager(b broker.Broker, st store.Interface, cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "capital: ", log.LstdFlags)
	}
	return &Manager{broker: b, store: st, cfg: cfg, logger: logger}
}

// Refresh pulls a fresh account snapshot and invalidates the per-cycle
// count cache. Options buying power is preferred when the broker reports it.
func (m *Manager) Refresh(ctx context.Context) error {
	acct, err := m.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("refreshing account snapshot: %w", err)
	}

	bp := acct.BuyingPower
	if acct.OptionsBuyingPower > 0 {
		bp = acct.OptionsBuyingPower
	}

	m.mu.Lock()
	m.snap = AccountSnapshot{
		BuyingPower:    bp,
		Equity:         acct.Equity,
		PortfolioValue: acct.PortfolioValue,
		RefreshedAt:    time.Now().UTC(),
	}
	m.counts = nil
	m.mu.Unlock()

	m.logger.Printf("account snapshot: buying_power=$%.2f equity=$%.2f", bp, acct.Equity)
	return nil
}

// Snapshot returns the current account snapshot.
func (m *Manager) Snapshot() AccountSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// liveCounts scans OPEN and PENDING_OPENING once per cycle and caches the
// result until the next Refresh.
func (m *Manager) liveCounts() (*cycleCounts, error) {
	m.mu.RLock()
	c := m.counts
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts != nil {
		return m.counts, nil
	}

	c = &cycleCounts{
		bySymbol:   make(map[string]int),
		byPlaybook: make(map[string]int),
	}
	for _, st := range []models.PlayStatus{models.StatusOpen, models.StatusPendingOpening} {
		plays, err := m.store.ListByStatus(st)
		if err != nil {
			return nil, fmt.Errorf("counting %s plays: %w", st, err)
		}
		for _, p := range plays {
			c.total++
			c.bySymbol[p.Symbol]++
			if p.PlaybookName != "" {
				c.byPlaybook[p.PlaybookName]++
			}
			c.deployed += p.EntryNotional()
		}
	}
	m.counts = c
	return c, nil
}

// CheckTrade runs the capital gates in order; the first failing gate wins
// and its reason is returned. An error means the store scan failed, which
// counts as a rejection.
func (m *Manager) CheckTrade(play *models.Play, limits RiskLimits) (bool, string) {
	if !m.cfg.Enabled {
		return true, ""
	}

	counts, err := m.liveCounts()
	if err != nil {
		m.logger.Printf("capital check unavailable: %v", err)
		return false, fmt.Sprintf("capital check unavailable: %v", err)
	}
	snap := m.Snapshot()
	cost := play.EntryNotional()

	// 2. Global open-position cap
	if m.cfg.MaxTotalOpenPositions > 0 && counts.total >= m.cfg.MaxTotalOpenPositions {
		return false, fmt.Sprintf("open_positions=%d at max_total_open_positions=%d",
			counts.total, m.cfg.MaxTotalOpenPositions)
	}

	// 3. Per-symbol cap; playbook limit overrides the global default
	symbolLimit := m.cfg.PerSymbolMaxOpenPositions
	if limits.MaxOpenPlaysPerSymbol > 0 {
		symbolLimit = limits.MaxOpenPlaysPerSymbol
	}
	if symbolLimit > 0 && counts.bySymbol[play.Symbol] >= symbolLimit {
		return false, fmt.Sprintf("%s open_plays=%d at max_open_plays_per_symbol=%d",
			play.Symbol, counts.bySymbol[play.Symbol], symbolLimit)
	}

	// 4. Per-playbook cap
	if limits.MaxOpenPlays > 0 && play.PlaybookName != "" &&
		counts.byPlaybook[play.PlaybookName] >= limits.MaxOpenPlays {
		return false, fmt.Sprintf("playbook %s open_plays=%d at max_open_plays=%d",
			play.PlaybookName, counts.byPlaybook[play.PlaybookName], limits.MaxOpenPlays)
	}

	// 5. Per-trade contract cap
	if limits.MaxContractsPerTrade > 0 && play.Contracts > limits.MaxContractsPerTrade {
		return false, fmt.Sprintf("contracts=%d exceeds max_contracts_per_trade=%d",
			play.Contracts, limits.MaxContractsPerTrade)
	}

	// 6. Per-trade fixed dollar cap
	if limits.MaxCapitalPerTradeFixed > 0 && cost > limits.MaxCapitalPerTradeFixed {
		return false, fmt.Sprintf("estimated_cost=$%.2f exceeds max_capital_per_trade_fixed=$%.2f",
			cost, limits.MaxCapitalPerTradeFixed)
	}

	// 7. Per-trade percent-of-equity cap
	if limits.MaxCapitalPerTradePct > 0 && snap.Equity > 0 {
		pct := cost / snap.Equity * 100
		if pct > limits.MaxCapitalPerTradePct {
			return false, fmt.Sprintf("estimated_cost=$%.2f is %.2f%% of equity, exceeds max_capital_per_trade_pct=%.2f%%",
				cost, pct, limits.MaxCapitalPerTradePct)
		}
	}

	// 8. Global deployed-capital cap
	if m.cfg.MaxCapitalDeployedPct > 0 && snap.Equity > 0 {
		deployedPct := counts.deployed / snap.Equity * 100
		if deployedPct >= m.cfg.MaxCapitalDeployedPct {
			return false, fmt.Sprintf("deployed_capital_pct=%.2f%% at max_capital_deployed_pct=%.2f%%",
				deployedPct, m.cfg.MaxCapitalDeployedPct)
		}
	}

	// 9. Buying-power headroom after reserve
	available := snap.BuyingPower * (1 - m.cfg.BuyingPowerReservePct/100)
	if cost > available {
		return false, fmt.Sprintf("estimated_cost=$%.2f exceeds available buying power $%.2f (reserve %.1f%%)",
			cost, available, m.cfg.BuyingPowerReservePct)
	}

	return true, ""
}
