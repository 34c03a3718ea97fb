package delivery

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/sales"
)

func TestInsuranceFor(t *testing.T) {
	cases := []struct {
		total string
		want  int64
	}{
		{"0", 0},
		{"120000.4", 120000},
		{"499999", 499999},
		{"500000", 499000},
		{"600000", 499000},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, insuranceFor(decimal.RequireFromString(tc.total)), tc.total)
	}
}

func TestCheckRecipientReportsFirstMissingField(t *testing.T) {
	c := &sales.Customer{}
	require.ErrorIs(t, checkRecipient(c), ErrPhoneRequired)
	c.Phone = "0912345678"
	require.ErrorIs(t, checkRecipient(c), ErrAddressRequired)
	c.Address = "12 Lê Lợi"
	require.ErrorIs(t, checkRecipient(c), ErrProvinceRequired)
	c.Province = "Hà Nội"
	require.ErrorIs(t, checkRecipient(c), ErrDistrictRequired)
	c.DistrictName = "Hoàn Kiếm"
	require.ErrorIs(t, checkRecipient(c), ErrWardRequired)
	c.WardName = "Hàng Bạc"
	require.NoError(t, checkRecipient(c))
}

func TestParcelSizeStacksItems(t *testing.T) {
	items := []Item{
		{Quantity: 3, Length: 8, Width: 6, Height: 2, Weight: 150},
		{Quantity: 1, Length: 20, Width: 3, Height: 5, Weight: 400},
	}
	weight, length, width, height := parcelSize(items)
	require.Equal(t, 850, weight)
	require.Equal(t, 20, length)
	require.Equal(t, 6, width)
	require.Equal(t, 11, height)

	weight, length, width, height = parcelSize(nil)
	require.Equal(t, []int{1, 1, 1, 1}, []int{weight, length, width, height})
}

func TestParcelContent(t *testing.T) {
	got := parcelContent([]Item{{Name: "Son môi", Quantity: 2}, {Name: "Phấn nước", Quantity: 1}})
	require.Equal(t, "Son môi [SL: 2], Phấn nước [SL: 1]", got)
}
