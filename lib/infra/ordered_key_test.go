package infra

import (
	"math"
	randv2 "math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesComparator(t *testing.T) {
	testcases := []struct {
		name string
		i, j []byte
		want int64
	}{
		{"equal", []byte("abc"), []byte("abc"), 0},
		{"less", []byte("abb"), []byte("abc"), -1},
		{"greater", []byte("abd"), []byte("abc"), 1},
		{"prefix is less", []byte("ab"), []byte("abc"), -1},
		{"empty", nil, []byte{}, 0},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(tt *testing.T) {
			require.Equal(tt, tc.want, BytesComparator(tc.i, tc.j))
			require.Equal(tt, -tc.want, ReverseComparator(BytesComparator)(tc.i, tc.j))
		})
	}
	require.Nil(t, ReverseComparator(nil))
}

func TestOrderedKeyBytes_Signed(t *testing.T) {
	nums := []int64{math.MinInt64, -1024, -1, 0, 1, 7, 1 << 40, math.MaxInt64}
	for i := 0; i < 256; i++ {
		nums = append(nums, randv2.Int64()-randv2.Int64())
	}
	keys := make([][]byte, 0, len(nums))
	for _, n := range nums {
		k := OrderedKeyBytes(n)
		require.Len(t, k, OrderedKeySize)
		require.Equal(t, n, OrderedKeyFromBytes[int64](k))
		keys = append(keys, k)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	sort.Slice(keys, func(i, j int) bool { return BytesComparator(keys[i], keys[j]) < 0 })
	for i := range nums {
		require.Equal(t, nums[i], OrderedKeyFromBytes[int64](keys[i]))
	}
}

func TestOrderedKeyBytes_Unsigned(t *testing.T) {
	require.Equal(t, int64(-1), BytesComparator(OrderedKeyBytes(uint64(1)), OrderedKeyBytes(uint64(math.MaxUint64))))
	require.Equal(t, uint64(math.MaxUint64), OrderedKeyFromBytes[uint64](OrderedKeyBytes(uint64(math.MaxUint64))))
	require.Equal(t, uint8(200), OrderedKeyFromBytes[uint8](OrderedKeyBytes(uint8(200))))
	require.Equal(t, int8(-100), OrderedKeyFromBytes[int8](OrderedKeyBytes(int8(-100))))
	require.Equal(t, int64(-1), BytesComparator(OrderedKeyBytes(int32(-5)), OrderedKeyBytes(int32(3))))
}

func TestOrderedKeyFromBytes_Short(t *testing.T) {
	require.Panics(t, func() {
		_ = OrderedKeyFromBytes[uint64]([]byte{1, 2})
	})
}
