package channels

import (
	"context"
	"math/big"
	"testing"

	"github.com/lnrebalance/rebalanced/lnclient"
)

func TestViewRefreshReplacesWholesale(t *testing.T) {
	client := lnclient.NewMockClient("self-ln", "self")
	client.SetChannels([]*lnclient.Channel{
		{ID: "chan-1", RemotePubKey: "bob-ln", LocalBalance: big.NewInt(1), RemoteBalance: big.NewInt(1), Capacity: big.NewInt(2), IsActive: true},
	})

	v := NewView()
	if err := v.Refresh(context.Background(), client); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !v.Contains("chan-1") {
		t.Fatalf("expected chan-1 present after first refresh")
	}

	client.SetChannels([]*lnclient.Channel{
		{ID: "chan-2", RemotePubKey: "carol-ln", LocalBalance: big.NewInt(1), RemoteBalance: big.NewInt(1), Capacity: big.NewInt(2), IsActive: true},
	})
	if err := v.Refresh(context.Background(), client); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if v.Contains("chan-1") {
		t.Fatalf("expected chan-1 gone after wholesale replace")
	}
	if !v.Contains("chan-2") {
		t.Fatalf("expected chan-2 present after second refresh")
	}
}

func TestWatchListAddRemoveContains(t *testing.T) {
	w := NewWatchList()
	w.Add("chan-1")
	if !w.Contains("chan-1") {
		t.Fatalf("expected chan-1 watched")
	}
	w.Remove("chan-1")
	if w.Contains("chan-1") {
		t.Fatalf("expected chan-1 unwatched after remove")
	}
}
