package mock

import (
	"context"
	"sync"
	"time"

	"github.com/eddiefleurent/michael_scarn/internal/marketdata"
)

// Provider is a scriptable market-data provider.
type Provider struct {
	mu sync.Mutex

	ProviderName string

	Prices      map[string]float64
	Quotes      map[string]*marketdata.OptionQuote
	Chains      map[string]*marketdata.OptionChain
	Expirations map[string][]time.Time
	Bars        map[string][]marketdata.Bar

	PriceErr error
	QuoteErr error
	BarsErr  error
}

// NewProvider creates an empty scriptable provider.
func NewProvider(name string) *Provider {
	return &Provider{
		ProviderName: name,
		Prices:       make(map[string]float64),
		Quotes:       make(map[string]*marketdata.OptionQuote),
		Chains:       make(map[string]*marketdata.OptionChain),
		Expirations:  make(map[string][]time.Time),
		Bars:         make(map[string][]marketdata.Bar),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.ProviderName }

// SetPrice scripts the stock price for a symbol.
func (p *Provider) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prices[symbol] = price
}

// SetQuote scripts the option quote for a contract.
func (p *Provider) SetQuote(contract string, q *marketdata.OptionQuote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Quotes[contract] = q
}

// SetBars scripts the historical bars for a symbol.
func (p *Provider) SetBars(symbol string, bars []marketdata.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Bars[symbol] = bars
}

// StockPrice returns the scripted price.
func (p *Provider) StockPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PriceErr != nil {
		return 0, p.PriceErr
	}
	price, ok := p.Prices[symbol]
	if !ok {
		return 0, marketdata.NewError(p.ProviderName, marketdata.KindQuoteNotFound, "no price for "+symbol, nil)
	}
	return price, nil
}

// OptionQuote returns the scripted quote.
func (p *Provider) OptionQuote(_ context.Context, contract string) (*marketdata.OptionQuote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.QuoteErr != nil {
		return nil, p.QuoteErr
	}
	q, ok := p.Quotes[contract]
	if !ok {
		return nil, marketdata.NewError(p.ProviderName, marketdata.KindQuoteNotFound, "no quote for "+contract, nil)
	}
	cp := *q
	return &cp, nil
}

// OptionChain returns the scripted chain.
func (p *Provider) OptionChain(_ context.Context, symbol string, _ time.Time) (*marketdata.OptionChain, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	chain, ok := p.Chains[symbol]
	if !ok {
		return &marketdata.OptionChain{}, nil
	}
	return chain, nil
}

// OptionExpirations returns the scripted expirations.
func (p *Provider) OptionExpirations(_ context.Context, symbol string) ([]time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Expirations[symbol], nil
}

// HistoricalBars returns the scripted bars.
func (p *Provider) HistoricalBars(_ context.Context, symbol string, _, _ time.Time, _ string) ([]marketdata.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BarsErr != nil {
		return nil, p.BarsErr
	}
	return p.Bars[symbol], nil
}

// Ensure Provider implements the contract
var _ marketdata.Provider = (*Provider)(nil)
