// internal/zookeeper/lock_test.go
package zookeeper

import "testing"

func TestParseSeq(t *testing.T) {
	cases := []struct {
		name    string
		node    string
		want    int
		wantErr bool
	}{
		{"protected", "_c_8e2a1f40b3d94c6f9d2b7a15c0e83f11-lock-0000000007", 7, false},
		{"plain", "lock-0000000042", 42, false},
		{"no suffix", "lock", 0, true},
		{"garbage suffix", "lock-abc", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSeq(tc.node)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseSeq(%q) = %d, want error", tc.node, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSeq(%q): %v", tc.node, err)
			}
			if got != tc.want {
				t.Fatalf("parseSeq(%q) = %d, want %d", tc.node, got, tc.want)
			}
		})
	}
}

// 保护前缀里的 GUID 是随机的：后到者的名字完全可能在字典序上排在持锁者之前。
// 排队位置必须由顺序号决定，后到者要监听持锁者而不是直接持锁。
func TestQueuePositionIgnoresGUIDOrder(t *testing.T) {
	holder := "_c_ffffffffffffffffffffffffffffffff-lock-0000000001"
	latecomer := "_c_00000000000000000000000000000000-lock-0000000002"
	children := []string{latecomer, holder}

	prev, err := queuePosition(children, 2)
	if err != nil {
		t.Fatalf("queuePosition: %v", err)
	}
	if prev != holder {
		t.Fatalf("latecomer should wait on %q, got %q", holder, prev)
	}

	prev, err = queuePosition(children, 1)
	if err != nil {
		t.Fatalf("queuePosition: %v", err)
	}
	if prev != "" {
		t.Fatalf("holder has the smallest sequence, should hold the lock, got predecessor %q", prev)
	}
}

func TestQueuePositionWatchesImmediatePredecessor(t *testing.T) {
	children := []string{
		"_c_aaaa0000000000000000000000000000-lock-0000000003",
		"_c_bbbb0000000000000000000000000000-lock-0000000009",
		"_c_cccc0000000000000000000000000000-lock-0000000005",
		// 父路径下混入的非排队节点不影响竞争
		"config",
	}
	prev, err := queuePosition(children, 9)
	if err != nil {
		t.Fatalf("queuePosition: %v", err)
	}
	if want := "_c_cccc0000000000000000000000000000-lock-0000000005"; prev != want {
		t.Fatalf("should watch %q, got %q", want, prev)
	}
}

func TestQueuePositionMissingSelf(t *testing.T) {
	if _, err := queuePosition([]string{"lock-0000000001"}, 2); err == nil {
		t.Fatal("expected error when own node is absent from the queue")
	}
}
