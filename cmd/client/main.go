package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"matchcore/internal/event"
	"matchcore/internal/id"
	"matchcore/internal/market"
	"matchcore/internal/order"
	"matchcore/internal/wire"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the matchcore gateway")
	accountStr := flag.String("account", "", "account id (UUID, compulsory)")
	action := flag.String("action", "place", "action to perform: ['place', 'cancel']")

	marketFlag := flag.String("market", "BTC/USD", "market to trade, BASE/QUOTE")
	sideStr := flag.String("side", "buy", "order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "order type: 'limit' or 'market'")
	tifStr := flag.String("tif", "gtc", "time in force: 'gtc', 'ioc', 'fok', 'post_only'")
	price := flag.String("price", "100.00", "limit price (ignored for market orders)")
	qty := flag.String("qty", "1", "order quantity")

	orderIDStr := flag.String("order-id", "", "order id to cancel")

	flag.Parse()

	if *accountStr == "" {
		fmt.Println("Error: -account is compulsory.")
		flag.Usage()
		os.Exit(1)
	}
	accountID, err := id.ParseAccountID(*accountStr)
	if err != nil {
		log.Fatalf("invalid -account: %v", err)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s as account %s\n", *serverAddr, accountID)

	go readReports(conn)

	switch strings.ToLower(*action) {
	case "place":
		if err := sendSubmit(conn, market.ID(*marketFlag), accountID, *sideStr, *typeStr, *tifStr, *price, *qty); err != nil {
			log.Fatalf("failed to submit order: %v", err)
		}
		fmt.Printf("-> submitted %s %s %s @ %s qty %s\n", strings.ToUpper(*sideStr), strings.ToUpper(*typeStr), *marketFlag, *price, *qty)

	case "cancel":
		if *orderIDStr == "" {
			log.Fatal("Error: -order-id is required for cancel")
		}
		orderID, err := id.ParseOrderID(*orderIDStr)
		if err != nil {
			log.Fatalf("invalid -order-id: %v", err)
		}
		if err := sendCancel(conn, market.ID(*marketFlag), orderID, accountID); err != nil {
			log.Fatalf("failed to send cancel: %v", err)
		}
		fmt.Printf("-> sent cancel for order %s\n", orderID)

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for reports... (press Ctrl+C to exit)")
	select {}
}

func sendSubmit(conn net.Conn, marketID market.ID, accountID id.AccountID, sideStr, typeStr, tifStr, price, qty string) error {
	side := order.Sell
	if strings.ToLower(sideStr) == "buy" {
		side = order.Buy
	}
	orderType := order.Limit
	hasPrice := true
	if strings.ToLower(typeStr) == "market" {
		orderType = order.Market
		hasPrice = false
	}

	var tif order.TimeInForce
	switch strings.ToLower(tifStr) {
	case "ioc":
		tif = order.IOC
	case "fok":
		tif = order.FOK
	case "post_only", "postonly":
		tif = order.PostOnly
	default:
		tif = order.GTC
	}

	msg := wire.SubmitOrderMessage{
		MarketID:  marketID,
		AccountID: accountID,
		Side:      side,
		Type:      orderType,
		TIF:       tif,
		HasPrice:  hasPrice,
		Price:     price,
		Qty:       qty,
		PlacedAt:  time.Now().UnixNano(),
	}
	_, err := conn.Write(wire.EncodeSubmitOrder(msg))
	return err
}

func sendCancel(conn net.Conn, marketID market.ID, orderID id.OrderID, accountID id.AccountID) error {
	msg := wire.CancelOrderMessage{
		MarketID:  marketID,
		OrderID:   orderID,
		AccountID: accountID,
		ByAdmin:   false,
	}
	_, err := conn.Write(wire.EncodeCancelOrder(msg))
	return err
}

// readReports drains the connection for gateway reports. Each report is
// whatever length the gateway wrote in one conn.Write, so one Read call
// is one report, mirroring how the gateway frames them (no length
// prefix at this outer layer — see wire.EncodeEventReport/EncodeErrorReport
// for the inner framing this parses).
func readReports(conn net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}
		kind, ev, errText, err := wire.ParseReport(buf[:n])
		if err != nil {
			log.Printf("malformed report: %v", err)
			continue
		}
		switch kind {
		case wire.ReportError:
			fmt.Printf("\n[GATEWAY ERROR] %s\n", errText)
		case wire.ReportEvent:
			printEvent(ev)
		}
	}
}

func printEvent(ev event.Event) {
	switch ev.Kind {
	case event.KindTradeExecuted:
		t := ev.TradeExecuted
		fmt.Printf("\n[TRADE] %s %s @ %s qty %s (maker %s, taker %s)\n",
			t.TradeID, sideLabel(t.Side), t.Price, t.Quantity, t.MakerOrderID, t.TakerOrderID)
	case event.KindOrderCanceled:
		c := ev.OrderCanceled
		fmt.Printf("\n[CANCELED] order %s reason %s filled %s unfilled %s\n", c.OrderID, c.Reason, c.FilledQty, c.UnfilledQty)
	case event.KindOrderFilled:
		f := ev.OrderFilled
		fmt.Printf("\n[FILLED] order %s qty %s\n", f.OrderID, f.FilledQty)
	case event.KindOrderPartiallyFilled:
		f := ev.OrderPartiallyFilled
		fmt.Printf("\n[PARTIAL FILL] order %s filled %s remaining %s @ %s\n", f.OrderID, f.FilledQty, f.RemainingQty, f.LastFillPrice)
	case event.KindOrderPlaced:
		p := ev.OrderPlaced
		fmt.Printf("\n[PLACED] order %s %s type=%d qty %s\n", p.OrderID, sideLabel(p.Side), p.Type, p.OriginalQty)
	case event.KindBalanceChanged:
		b := ev.BalanceChanged
		fmt.Printf("\n[BALANCE] %s %s total %s available %s locked %s\n", b.AccountID, b.Asset, b.Total, b.Available, b.Locked)
	case event.KindRiskDecision:
		r := ev.RiskDecision
		fmt.Printf("\n[RISK] account %s result %d %s\n", r.AccountID, r.Result, r.Detail)
	case event.KindSettlementFailed:
		s := ev.SettlementFailed
		fmt.Printf("\n[SETTLEMENT FAILED] trade %s attempts %d reason %s\n", s.TradeID, s.Attempts, s.Reason)
	}
}

func sideLabel(s order.Side) string {
	if s == order.Buy {
		return "BUY"
	}
	return "SELL"
}
