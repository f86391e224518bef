package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/robinhood/internal/client"
	"github.com/betbot/robinhood/internal/domain"
	"github.com/betbot/robinhood/internal/marketdata"
	"github.com/betbot/robinhood/internal/orders"
	"github.com/betbot/robinhood/pkg/config"
	"github.com/betbot/robinhood/pkg/tone"
)

// errAborted is returned when the user declines a safe mode confirmation.
var errAborted = errors.New("aborted")

type app struct {
	cfg    *config.Config
	client *client.Client
	in     io.Reader
	out    io.Writer

	reader *bufio.Reader
	paint  *tone.Painter
}

func (a *app) run(ctx context.Context, args []string) error {
	a.reader = bufio.NewReader(a.in)
	a.paint = tone.NewPainter(a.out)

	cmd, rest := args[0], args[1:]
	if cmd != "logout" {
		if err := a.login(ctx); err != nil {
			return err
		}
	}

	switch cmd {
	case "login":
		a.printf("%s\n", a.paint.Label("logged in"))
		return nil
	case "logout":
		return a.client.Logout()
	case "quote":
		return a.quote(ctx, rest)
	case "fundamentals":
		return a.fundamentals(ctx, rest)
	case "historicals":
		return a.historicals(ctx, rest)
	case "news":
		return a.news(ctx, rest)
	case "earnings":
		return a.earnings(ctx, rest)
	case "movers":
		return a.movers(ctx, rest)
	case "watchlist":
		return a.watchlist(ctx)
	case "positions":
		return a.positions(ctx)
	case "portfolio":
		return a.portfolio(ctx)
	case "chain":
		return a.chain(ctx, rest)
	case "orders":
		return a.orders(ctx, rest)
	case "order":
		return a.order(ctx, rest)
	case "buy", "sell":
		return a.placeEquity(ctx, domain.Side(cmd), rest)
	case "buy-option":
		return a.placeOption(ctx, rest)
	case "cancel":
		return a.cancel(ctx, rest)
	case "cancel-all":
		return a.cancelAll(ctx, rest)
	case "get":
		return a.get(ctx, rest)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) ask(ctx context.Context, prompt string) (string, error) {
	a.printf("%s", prompt)
	type line struct {
		s   string
		err error
	}
	ch := make(chan line, 1)
	go func() {
		s, err := a.reader.ReadString('\n')
		ch <- line{s, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		if l.err != nil && l.s == "" {
			return "", l.err
		}
		return strings.TrimSpace(l.s), nil
	}
}

func (a *app) login(ctx context.Context) error {
	out, err := a.client.Login(ctx, func(ctx context.Context) (string, error) {
		return a.ask(ctx, "MFA code: ")
	})
	if err != nil {
		return err
	}
	if out.Status == domain.AuthMfaRequired {
		return errors.New("mfa code required")
	}
	return out.Err()
}

func need(args []string, n int, what string) error {
	if len(args) != n {
		return errors.Errorf("expected %s", what)
	}
	return nil
}

func (a *app) quote(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return errors.New("expected SYMBOL...")
	}
	for _, sym := range symbols {
		q, err := a.client.Market.Quote(ctx, sym)
		if err != nil {
			return err
		}
		a.printf("%-6s %10s %s\n", a.paint.Label(q.Symbol), q.LastTradePrice.StringFixed(2), a.paint.Change(q.Change()))
	}
	return nil
}

func (a *app) fundamentals(ctx context.Context, args []string) error {
	if err := need(args, 1, "SYMBOL"); err != nil {
		return err
	}
	f, err := a.client.Market.Fundamentals(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("open %s  high %s  low %s\n52w %s - %s  market cap %s  p/e %s\n%s\n",
		f.Open.StringFixed(2), f.High.StringFixed(2), f.Low.StringFixed(2),
		f.Low52Weeks.StringFixed(2), f.High52Weeks.StringFixed(2), f.MarketCap.String(), f.PERatio.StringFixed(2),
		f.Description)
	return nil
}

func (a *app) historicals(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("historicals", flag.ContinueOnError)
	var q marketdata.HistoricalsQuery
	fs.StringVar(&q.Interval, "interval", "", "week|day|10minute|5minute")
	fs.StringVar(&q.Span, "span", "", "day|week|year|5year|all")
	fs.StringVar(&q.Bounds, "bounds", "", "extended|regular|trading")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs.Args(), 1, "SYMBOL"); err != nil {
		return err
	}
	h, err := a.client.Market.Historicals(ctx, fs.Arg(0), q)
	if err != nil {
		return err
	}
	for _, b := range h.Bars {
		change := b.ClosePrice.Sub(b.OpenPrice)
		a.printf("%s  %10s %10s  %s\n", b.BeginsAt.Format("2006-01-02 15:04"),
			b.OpenPrice.StringFixed(2), b.ClosePrice.StringFixed(2), a.paint.Change(change))
	}
	return nil
}

func (a *app) news(ctx context.Context, args []string) error {
	if err := need(args, 1, "SYMBOL"); err != nil {
		return err
	}
	items, err := a.client.Market.News(ctx, args[0])
	if err != nil {
		return err
	}
	for _, n := range items {
		a.printf("%s  [%s] %s\n", n.PublishedAt.Format("2006-01-02"), n.Source, n.Title)
	}
	return nil
}

func (a *app) earnings(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("earnings", flag.ContinueOnError)
	days := fs.Int("days", 0, "upcoming reports within N days (1-21)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var (
		list []domain.Earnings
		err  error
	)
	if *days > 0 {
		list, err = a.client.Market.UpcomingEarnings(ctx, *days)
	} else {
		if err := need(fs.Args(), 1, "SYMBOL or -days N"); err != nil {
			return err
		}
		list, err = a.client.Market.Earnings(ctx, fs.Arg(0))
	}
	if err != nil {
		return err
	}
	for _, e := range list {
		date := "-"
		if e.Report != nil {
			date = e.Report.Date + " " + e.Report.Timing
		}
		a.printf("%-6s %dQ%d  %s  est %s  act %s\n", e.Symbol, e.Year, e.Quarter, date,
			e.EPS.Estimate.StringFixed(2), e.EPS.Actual.StringFixed(2))
	}
	return nil
}

func (a *app) movers(ctx context.Context, args []string) error {
	if err := need(args, 1, "up|down"); err != nil {
		return err
	}
	movers, err := a.client.Market.TopMovers(ctx, args[0])
	if err != nil {
		return err
	}
	for _, m := range movers {
		pct := m.PriceMovement.MarketHoursLastMovementPct
		a.printf("%-6s %10s %s%%\n", m.Symbol, m.PriceMovement.MarketHoursLastPrice.StringFixed(2), a.paint.Change(pct))
	}
	return nil
}

func (a *app) watchlist(ctx context.Context) error {
	items, err := a.client.Market.DefaultWatchlist(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		sym, err := a.client.Resolver.Resolve(ctx, it.Instrument)
		if err != nil {
			return err
		}
		a.printf("%s\n", sym)
	}
	return nil
}

func (a *app) positions(ctx context.Context) error {
	stocks, err := a.client.Market.StockPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range stocks {
		a.printf("%-6s %10s @ %s\n", p.Symbol, p.Quantity.String(), p.AverageBuy.StringFixed(2))
	}
	options, err := a.client.Market.OptionPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range options {
		a.printf("%-6s %-4s %10s @ %s\n", p.ChainSymbol, p.Type, p.Quantity.String(), p.AveragePrice.StringFixed(2))
	}
	return nil
}

func (a *app) portfolio(ctx context.Context) error {
	p, err := a.client.Market.Portfolio(ctx)
	if err != nil {
		return err
	}
	a.printf("%s %s  %s\n", a.paint.Label("equity"), p.Equity.StringFixed(2), a.paint.Change(p.DayChange()))
	return nil
}

func (a *app) chain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chain", flag.ContinueOnError)
	typ := fs.String("type", "", "call|put")
	exp := fs.String("expiration", "", "YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs.Args(), 1, "SYMBOL"); err != nil {
		return err
	}
	chainID, expirations, err := a.client.Market.ChainAndExpirations(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *typ == "" {
		a.printf("%s\n", strings.Join(expirations, "\n"))
		return nil
	}
	contracts, err := a.client.Market.OptionInstruments(ctx, *typ, *exp, chainID)
	if err != nil {
		return err
	}
	urls := make([]string, len(contracts))
	for i, c := range contracts {
		urls[i] = c.URL
	}
	quotes, err := a.client.Market.OptionQuotes(ctx, urls)
	if err != nil {
		return err
	}
	marks := make(map[string]decimal.Decimal, len(quotes))
	for _, q := range quotes {
		marks[q.Instrument] = q.MarkPrice
	}
	for _, c := range contracts {
		a.printf("%10s %s  mark %s  %s\n", c.StrikePrice.StringFixed(2), c.Type, marks[c.URL].StringFixed(2), c.URL)
	}
	return nil
}

func (a *app) orders(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("orders", flag.ContinueOnError)
	kind := fs.String("kind", string(domain.KindEquity), "equity|option")
	var f orders.Filter
	fs.StringVar(&f.Symbol, "symbol", "", "only orders for this symbol")
	fs.IntVar(&f.Days, "days", 0, "only orders updated in the last N days")
	fs.IntVar(&f.Last, "last", 0, "only the N most recent orders")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.client.Orders.ListOrders(ctx, domain.OrderKind(*kind), f)
	if err != nil {
		return err
	}
	for _, o := range list {
		a.printLine(o)
	}
	return nil
}

func (a *app) printLine(o domain.Listed) {
	switch v := o.(type) {
	case *domain.Order:
		a.printf("%s  %-6s %-4s %s @ %s  %s\n", v.ID, v.Symbol, v.Side, v.Quantity.String(), v.Price.StringFixed(2), v.State)
	case *domain.OptionOrder:
		a.printf("%s  %-6s %s %s @ %s  %s\n", v.ID, v.ChainSymbol, v.Strategy(), v.Quantity.String(), v.Price.StringFixed(2), v.State)
	}
}

func (a *app) order(ctx context.Context, args []string) error {
	if err := need(args, 2, "KIND ID"); err != nil {
		return err
	}
	o, err := a.client.Orders.GetOrder(ctx, domain.OrderKind(args[0]), args[1])
	if err != nil {
		return err
	}
	a.printLine(o)
	return nil
}

func parseAmounts(qty, price string) (decimal.Decimal, decimal.Decimal, error) {
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return q, q, &domain.ValidationFault{Field: "quantity", Reason: err.Error()}
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return q, p, &domain.ValidationFault{Field: "price", Reason: err.Error()}
	}
	return q, p, nil
}

// confirm previews a placement in safe mode and asks before going live.
// It reports whether the live submission should proceed.
func (a *app) confirm(ctx context.Context, dry bool, preview func() (orders.Result, error)) (bool, error) {
	if !dry && !a.cfg.SafeMode {
		return true, nil
	}
	res, err := preview()
	if err != nil {
		return false, err
	}
	a.printf("%s\n", res.Preview)
	if dry {
		return false, nil
	}
	answer, err := a.ask(ctx, "Place this order? [y/N] ")
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
		return false, errAborted
	}
	return true, nil
}

func (a *app) report(res orders.Result) {
	if res.Placed {
		a.printf("%s\n", a.paint.Paint(tone.Positive, "order placed"))
		return
	}
	a.printf("%s (status %d)\n", a.paint.Paint(tone.Negative, "order not placed"), res.Status)
}

func (a *app) placeEquity(ctx context.Context, side domain.Side, args []string) error {
	fs := flag.NewFlagSet(string(side), flag.ContinueOnError)
	dry := fs.Bool("dry", false, "preview only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs.Args(), 3, "SYMBOL QTY PRICE"); err != nil {
		return err
	}
	qty, price, err := parseAmounts(fs.Arg(1), fs.Arg(2))
	if err != nil {
		return err
	}
	order := orders.EquityOrder{Side: side, Symbol: fs.Arg(0), Quantity: qty, Price: price}

	proceed, err := a.confirm(ctx, *dry, func() (orders.Result, error) {
		return a.client.Orders.PlaceEquityOrder(ctx, order, true)
	})
	if err != nil || !proceed {
		return err
	}
	res, err := a.client.Orders.PlaceEquityOrder(ctx, order, false)
	if err != nil {
		return err
	}
	a.report(res)
	return nil
}

func (a *app) placeOption(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("buy-option", flag.ContinueOnError)
	dry := fs.Bool("dry", false, "preview only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs.Args(), 3, "INSTRUMENT_URL QTY PRICE"); err != nil {
		return err
	}
	qty, price, err := parseAmounts(fs.Arg(1), fs.Arg(2))
	if err != nil {
		return err
	}
	req := orders.OptionOrderRequest{Instrument: fs.Arg(0), Quantity: qty, Price: price}

	proceed, err := a.confirm(ctx, *dry, func() (orders.Result, error) {
		return a.client.Orders.PlaceOptionOrder(ctx, req, true)
	})
	if err != nil || !proceed {
		return err
	}
	res, err := a.client.Orders.PlaceOptionOrder(ctx, req, false)
	if err != nil {
		return err
	}
	a.report(res)
	return nil
}

func (a *app) cancel(ctx context.Context, args []string) error {
	if err := need(args, 2, "KIND ID"); err != nil {
		return err
	}
	ok, err := a.client.Orders.CancelOrder(ctx, domain.OrderKind(args[0]), args[1])
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("order %s was not cancelled", args[1])
	}
	a.printf("cancelled %s\n", args[1])
	return nil
}

func (a *app) cancelAll(ctx context.Context, args []string) error {
	if err := need(args, 1, "KIND"); err != nil {
		return err
	}
	n, err := a.client.Orders.CancelAll(ctx, domain.OrderKind(args[0]))
	if err != nil {
		return err
	}
	a.printf("cancelled %d order(s)\n", n)
	return nil
}

func (a *app) get(ctx context.Context, args []string) error {
	if err := need(args, 1, "URL"); err != nil {
		return err
	}
	body, status, err := a.client.Market.Raw(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("%s\n", body)
	if status != http.StatusOK {
		return errors.Errorf("status %d", status)
	}
	return nil
}
