package fallback

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"market-dashboard-api/internal/models"
)

// stockNames maps well-known tickers to company names
var stockNames = map[string]string{
	"AAPL":     "Apple Inc.",
	"MSFT":     "Microsoft Corporation",
	"GOOGL":    "Alphabet Inc.",
	"AMZN":     "Amazon.com Inc.",
	"TSLA":     "Tesla Inc.",
	"NVDA":     "NVIDIA Corporation",
	"META":     "Meta Platforms Inc.",
	"NFLX":     "Netflix Inc.",
	"V":        "Visa Inc.",
	"JPM":      "JPMorgan Chase & Co.",
	"UNH":      "UnitedHealth Group Inc.",
	"HD":       "The Home Depot Inc.",
	"PG":       "Procter & Gamble Co.",
	"JNJ":      "Johnson & Johnson",
	"MA":       "Mastercard Inc.",
	"VALE3.SA": "Vale S.A.",
	"PETR4.SA": "Petroleo Brasileiro S.A.",
	"ITUB4.SA": "Itau Unibanco Holding S.A.",
	"BBDC4.SA": "Banco Bradesco S.A.",
	"ABEV3.SA": "Ambev S.A.",
	"WEGE3.SA": "WEG S.A.",
	"RENT3.SA": "Localiza Rent a Car S.A.",
	"MGLU3.SA": "Magazine Luiza S.A.",
	"B3SA3.SA": "B3 S.A.",
	"SUZB3.SA": "Suzano S.A.",
}

// cryptoNames maps well-known symbols to coin names
var cryptoNames = map[string]string{
	"BTC":   "Bitcoin",
	"ETH":   "Ethereum",
	"BNB":   "BNB",
	"XRP":   "XRP",
	"ADA":   "Cardano",
	"SOL":   "Solana",
	"DOGE":  "Dogecoin",
	"MATIC": "Polygon",
	"DOT":   "Polkadot",
	"AVAX":  "Avalanche",
	"LINK":  "Chainlink",
	"UNI":   "Uniswap",
	"LTC":   "Litecoin",
	"ATOM":  "Cosmos",
	"FIL":   "Filecoin",
}

var trendingStockSymbols = map[string][]string{
	"BR": {"VALE3.SA", "PETR4.SA", "ITUB4.SA", "BBDC4.SA", "ABEV3.SA", "WEGE3.SA", "RENT3.SA", "MGLU3.SA", "B3SA3.SA", "SUZB3.SA"},
	"US": {"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "NVDA", "META", "NFLX", "JPM", "V"},
}

var trendingCryptoSymbols = []string{"BTC", "ETH", "BNB", "XRP", "ADA", "SOL", "DOGE", "MATIC", "DOT", "AVAX"}

// Generator produces plausible synthetic quotes for use when live data is
// unavailable or insufficient. Shapes are deterministic, values are
// randomized within domain-reasonable bounds, and every record is tagged
// IsSampleData so consumers can tell it apart from live data. It never
// touches the cache or the network.
type Generator struct {
	rngMutex sync.Mutex
	rng      *rand.Rand
}

// NewGenerator creates a generator. A nil rng selects a time-seeded
// default; tests pass a fixed-seed source for deterministic values.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// Stock generates a synthetic stock quote for the symbol
func (generator *Generator) Stock(symbol string) models.Quote {
	return generator.sampleStock(symbol, false)
}

// Crypto generates a synthetic cryptocurrency quote for the symbol
func (generator *Generator) Crypto(symbol string) models.Quote {
	return generator.sampleCrypto(symbol, false)
}

// TrendingStocks generates a synthetic trending list for the region,
// ordered by percent change descending. Trending implies gaining, so all
// generated changes are positive.
func (generator *Generator) TrendingStocks(region string, limit int) []models.Quote {
	symbols := trendingStockSymbols["US"]
	if strings.EqualFold(region, "BR") {
		symbols = trendingStockSymbols["BR"]
	}
	symbols = padSymbols(symbols, limit, "STOCK")

	quotes := make([]models.Quote, 0, limit)
	for _, symbol := range symbols[:limit] {
		quotes = append(quotes, generator.sampleStock(symbol, true))
	}
	sortQuotes(quotes, models.OrderByChangePercent)
	return quotes
}

// TrendingCryptos generates a synthetic trending list ordered by the
// requested key descending, all changes positive.
func (generator *Generator) TrendingCryptos(limit int, orderBy models.TrendingOrder) []models.Quote {
	symbols := padSymbols(trendingCryptoSymbols, limit, "COIN")

	quotes := make([]models.Quote, 0, limit)
	for _, symbol := range symbols[:limit] {
		quotes = append(quotes, generator.sampleCrypto(symbol, true))
	}
	sortQuotes(quotes, orderBy)
	return quotes
}

func (generator *Generator) sampleStock(symbol string, forceGain bool) models.Quote {
	symbol = strings.ToUpper(symbol)

	price := round2(generator.uniform(50, 500))
	changePercent := generator.changePercent(5, forceGain)
	previousClose := round2(price - price*changePercent/100)
	if forceGain {
		price = floorGain(price, previousClose)
	}

	quote := models.NewQuote(symbol, stockName(symbol), price, previousClose)
	quote.MarketCap = generator.uniform(1e9, 1e12)
	quote.Volume = generator.int64Between(1e6, 1e8)
	quote.IsSampleData = true
	return quote
}

func (generator *Generator) sampleCrypto(symbol string, forceGain bool) models.Quote {
	symbol = strings.ToUpper(symbol)

	price := round2(generator.uniform(0.01, 50000))
	changePercent := generator.changePercent(10, forceGain)
	previousClose := round2(price - price*changePercent/100)
	if forceGain {
		price = floorGain(price, previousClose)
	}

	quote := models.NewQuote(symbol, cryptoName(symbol), price, previousClose)
	quote.MarketCap = generator.uniform(1e8, 5e11)
	quote.Volume = generator.int64Between(1e7, 1e10)
	quote.IsSampleData = true
	return quote
}

func (generator *Generator) changePercent(bound float64, forceGain bool) float64 {
	if forceGain {
		return generator.uniform(0.01, bound)
	}
	return generator.uniform(-bound, bound)
}

func (generator *Generator) uniform(low, high float64) float64 {
	generator.rngMutex.Lock()
	defer generator.rngMutex.Unlock()
	return low + generator.rng.Float64()*(high-low)
}

func (generator *Generator) int64Between(low, high int64) int64 {
	generator.rngMutex.Lock()
	defer generator.rngMutex.Unlock()
	return low + generator.rng.Int63n(high-low)
}

func stockName(symbol string) string {
	if name, ok := stockNames[symbol]; ok {
		return name
	}
	return fmt.Sprintf("%s Corporation", symbol)
}

func cryptoName(symbol string) string {
	if name, ok := cryptoNames[symbol]; ok {
		return name
	}
	return fmt.Sprintf("%s Token", symbol)
}

func padSymbols(symbols []string, limit int, prefix string) []string {
	padded := append([]string{}, symbols...)
	for len(padded) < limit {
		padded = append(padded, fmt.Sprintf("%s%d", prefix, len(padded)))
	}
	return padded
}

func sortQuotes(quotes []models.Quote, orderBy models.TrendingOrder) {
	sort.Slice(quotes, func(i, j int) bool {
		switch orderBy {
		case models.OrderByMarketCap:
			return quotes[i].MarketCap > quotes[j].MarketCap
		case models.OrderByVolume:
			return quotes[i].Volume > quotes[j].Volume
		case models.OrderByPrice:
			return quotes[i].Price > quotes[j].Price
		default:
			return quotes[i].ChangePercent > quotes[j].ChangePercent
		}
	})
}

// floorGain keeps a forced gain visible at two-decimal precision. A
// change below one hundredth of a percent can round away entirely,
// leaving a flat quote in a list that must be all-gaining.
func floorGain(price, previousClose float64) float64 {
	if price-previousClose < 0.01 {
		return round2(previousClose + 0.01)
	}
	return price
}

func round2(value float64) float64 {
	return float64(int64(value*100+0.5)) / 100
}
