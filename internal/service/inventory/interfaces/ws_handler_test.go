package interfaces

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// Run 退出后广播通道没人消费：灌满之后的投递必须被 ctx 解除阻塞而不是卡死
func TestStockEventHubPublishUnblocksOnShutdown(t *testing.T) {
	hub := NewStockEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 先灌满缓冲，模拟 Run 已停止消费
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- []byte(fmt.Sprintf("event-%d", i))
	}

	done := make(chan bool, 1)
	go func() {
		done <- hub.publish(ctx, []byte("one more"))
	}()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("publish into a full channel after shutdown must report failure")
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked forever after shutdown")
	}
}

func TestStockEventHubPublishDelivers(t *testing.T) {
	hub := NewStockEventHub()
	if !hub.publish(context.Background(), []byte("event")) {
		t.Fatal("publish with a live hub should succeed")
	}
	select {
	case got := <-hub.broadcast:
		if string(got) != "event" {
			t.Fatalf("payload = %q, want %q", got, "event")
		}
	default:
		t.Fatal("payload not queued for broadcast")
	}
}
