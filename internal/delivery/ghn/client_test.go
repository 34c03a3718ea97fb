package ghn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/delivery"
)

type recorded struct {
	path   string
	token  string
	shopID string
	body   map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{path: r.URL.Path, token: r.Header.Get("Token"), shopID: r.Header.Get("ShopId")}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &rec.body))
		}
		calls = append(calls, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(Config{BaseURL: srv.URL + "/shiip/public-api/", Token: "secret"}, srv.Client())
	return client, &calls
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestCreateOrderSendsShipment(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `{"code":200,"message":"Success","data":{"order_code":"LKX7PD","total_fee":33000}}`)
	})
	shift := 2
	created, err := client.CreateOrder(context.Background(), 885, delivery.Order{
		PaymentTypeID:  delivery.DefaultPaymentTypeID,
		RequiredNote:   delivery.DefaultRequiredNote,
		ToName:         "Nguyễn Văn An",
		ToPhone:        "0912345678",
		CODAmount:      150000,
		Weight:         500,
		ServiceTypeID:  delivery.DefaultServiceTypeID,
		PickShift:      &shift,
		InsuranceValue: 150000,
		Content:        "Son môi [SL: 1]",
		Items:          []delivery.Item{{Name: "Son môi", Code: "Son môi_SP1", Quantity: 1, Price: 150000}},
	})
	require.NoError(t, err)
	require.Equal(t, "LKX7PD", created.OrderCode)
	require.Equal(t, "Success", created.Message)
	require.Equal(t, "33000", created.TotalFee.String())

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.Equal(t, "/shiip/public-api/v2/shipping-order/create", call.path)
	require.Equal(t, "secret", call.token)
	require.Equal(t, "885", call.shopID)
	require.Equal(t, "Nguyễn Văn An", call.body["to_name"])
	require.Equal(t, float64(885), call.body["shop_id"])
	require.Equal(t, []any{float64(2)}, call.body["pick_shift"])
	items := call.body["items"].([]any)
	require.Equal(t, "Son môi_SP1", items[0].(map[string]any)["code"])
}

func TestCarrierMessageIsSurfaced(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusBadRequest, `{"code":400,"message":"Số điện thoại không hợp lệ","data":null}`)
	})
	_, err := client.CreateOrder(context.Background(), 885, delivery.Order{})
	require.ErrorIs(t, err, delivery.ErrCarrierRejected)
	require.Contains(t, err.Error(), "Số điện thoại không hợp lệ")
}

func TestNestedMessageAndEnvelopeCode(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `{"code":400,"message":{"message":"ward not found"}}`)
	})
	_, err := client.Wards(context.Background(), 1442)
	require.ErrorIs(t, err, delivery.ErrCarrierRejected)
	require.Contains(t, err.Error(), "ward not found")
}

func TestMalformedPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `{"code":200,"message":"Success","data":{"order_code":""}}`)
	})
	_, err := client.CreateOrder(context.Background(), 885, delivery.Order{})
	require.ErrorIs(t, err, delivery.ErrCarrierMalformed)
}

func TestOrderDetailFallsBackToInternalStatus(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `{"code":200,"data":{"status":"","pickup_time":"2024-05-19T06:59:26Z","internal_process":{"status":"delivering"}}}`)
	})
	detail, err := client.OrderDetail(context.Background(), 885, "LKX7PD")
	require.NoError(t, err)
	require.Equal(t, "delivering", detail.Status)
	require.NotNil(t, detail.PickupTime)
	require.True(t, detail.PickupTime.Equal(time.Date(2024, 5, 19, 6, 59, 26, 0, time.UTC)))
	require.Equal(t, "LKX7PD", (*calls)[0].body["order_code"])
}

func TestOrderFeeReadsMainService(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `{"code":200,"data":{"detail":{"main_service":22000,"insurance":0}}}`)
	})
	fee, err := client.OrderFee(context.Background(), 885, "LKX7PD")
	require.NoError(t, err)
	require.Equal(t, "22000", fee.String())
	require.Equal(t, "/shiip/public-api/v2/shipping-order/soc", (*calls)[0].path)
}

func TestCancelOrderChecksEveryResult(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, `{"code":200,"data":[{"order_code":"LKX7PD","result":false,"message":"order already picked"}]}`)
	})
	err := client.CancelOrder(context.Background(), 885, []string{"LKX7PD"})
	require.ErrorIs(t, err, delivery.ErrCarrierRejected)
	require.Contains(t, err.Error(), "order already picked")
}

func TestPrintFlow(t *testing.T) {
	var printQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a5/public-api/printA5" {
			printQuery = r.URL.Query().Get("token")
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>label</html>")
			return
		}
		reply(w, http.StatusOK, `{"code":200,"data":{"token":"tok-1"}}`)
	})
	token, err := client.PrintToken(context.Background(), 885, []string{"LKX7PD"})
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)

	page, err := client.PrintLabel(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "<html>label</html>", string(page))
	require.Equal(t, "tok-1", printQuery)
}

func TestReferenceData(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/shiip/public-api/master-data/province":
			reply(w, http.StatusOK, `{"code":200,"data":[{"ProvinceID":202,"ProvinceName":"Hồ Chí Minh"}]}`)
		case "/shiip/public-api/master-data/district":
			reply(w, http.StatusOK, `{"code":200,"data":[{"DistrictID":1442,"ProvinceID":202,"DistrictName":"Quận 1"}]}`)
		case "/shiip/public-api/v2/shop/register":
			reply(w, http.StatusOK, `{"code":200,"data":{"shop_id":190017}}`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	provinces, err := client.Provinces(ctx)
	require.NoError(t, err)
	require.Equal(t, []delivery.Province{{ProvinceID: 202, ProvinceName: "Hồ Chí Minh"}}, provinces)

	districts, err := client.Districts(ctx, 202)
	require.NoError(t, err)
	require.Equal(t, "Quận 1", districts[0].DistrictName)
	require.Equal(t, float64(202), (*calls)[1].body["province_id"])

	id, err := client.CreateShop(ctx, delivery.ShopInput{Name: "Lilas", Address: "1 Nguyễn Huệ", Phone: "0912345678", DistrictID: 1442, WardCode: "20101"})
	require.NoError(t, err)
	require.Equal(t, 190017, id)

	_, err = client.PickShifts(ctx)
	require.ErrorIs(t, err, delivery.ErrCarrierRejected)
}
