package sim

import (
	"context"
	"testing"

	"quantflow/internal/model"
)

func TestMarketOrderFillsImmediately(t *testing.T) {
	s := NewSimulated()
	defer s.Close()

	resp, err := s.PlaceOrder(context.Background(), &model.Order{
		ClientOrderId: "c1",
		Symbol:        "RELIANCE",
		Side:          model.Buy,
		Quantity:      10,
		OrderType:     model.Market,
		Price:         2850,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.BrokerOrderId == "" {
		t.Fatal("missing broker order id")
	}

	ev := <-s.Events()
	if ev.Status != model.StatusFilled || ev.FilledQty != 10 {
		t.Errorf("expected immediate fill of 10, got %+v", ev)
	}
}

func TestDuplicateClientIdReturnsSameBrokerId(t *testing.T) {
	s := NewSimulated()
	defer s.Close()

	o := &model.Order{ClientOrderId: "dup", Symbol: "TCS", Side: model.Buy, Quantity: 5, OrderType: model.Limit, Price: 4000}
	r1, err := s.PlaceOrder(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := s.PlaceOrder(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if r1.BrokerOrderId != r2.BrokerOrderId {
		t.Errorf("duplicate submission created a second broker order: %s vs %s", r1.BrokerOrderId, r2.BrokerOrderId)
	}
}

func TestCancelTerminalOrderFails(t *testing.T) {
	s := NewSimulated()
	defer s.Close()

	resp, err := s.PlaceOrder(context.Background(), &model.Order{
		ClientOrderId: "c2", Symbol: "TCS", Side: model.Sell, Quantity: 5, OrderType: model.Market, Price: 4000,
	})
	if err != nil {
		t.Fatal(err)
	}
	<-s.Events() // 消费成交事件

	// 已成交订单的撤单要报错，和真实券商语义一致
	if err := s.CancelOrder(context.Background(), resp.BrokerOrderId, "TCS"); err == nil {
		t.Fatal("cancel of a filled order must fail")
	}
}

func TestFillHookDrivesPendingOrder(t *testing.T) {
	s := NewSimulated()
	defer s.Close()

	_, err := s.PlaceOrder(context.Background(), &model.Order{
		ClientOrderId: "c3", Symbol: "TCS", Side: model.Sell, Quantity: 5, OrderType: model.Limit, Price: 4100,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Fill("c3", 4100); err != nil {
		t.Fatal(err)
	}
	ev := <-s.Events()
	if ev.ClientOrderId != "c3" || ev.Status != model.StatusFilled {
		t.Errorf("unexpected event %+v", ev)
	}
	if st, _ := s.StatusOf("c3"); st != model.StatusFilled {
		t.Errorf("status = %s, want FILLED", st)
	}
}
