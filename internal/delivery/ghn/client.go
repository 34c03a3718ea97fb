// Package ghn talks to the Giao Hàng Nhanh public API.
package ghn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lilas/backoffice/internal/delivery"
)

const maxErrorBody = 4 << 10

// Config holds the adapter settings.
type Config struct {
	BaseURL  string
	PrintURL string
	Token    string
	Timeout  time.Duration
}

// Client implements delivery.Carrier over HTTP.
type Client struct {
	baseURL    string
	printURL   string
	token      string
	httpClient *http.Client
}

var _ delivery.Carrier = (*Client)(nil)

// NewClient constructs a client. PrintURL defaults to the A5 label page on
// the same host as BaseURL.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	printURL := cfg.PrintURL
	if printURL == "" {
		if u, err := url.Parse(base); err == nil {
			printURL = u.Scheme + "://" + u.Host + "/a5/public-api/printA5"
		}
	}
	return &Client{baseURL: base, printURL: printURL, token: cfg.Token, httpClient: httpClient}
}

type envelope struct {
	Code    int             `json:"code"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// message accepts both the plain string and the nested object GHN uses on
// some validation errors.
func (e envelope) message() string {
	if len(e.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Message, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	return string(e.Message)
}

func (c *Client) call(ctx context.Context, method, path string, shopID int, payload, out any) error {
	env, err := c.do(ctx, method, path, shopID, payload)
	if err != nil {
		return err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return delivery.ErrCarrierMalformed.WithMessage("%s: empty data", path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return delivery.ErrCarrierMalformed.WithMessage("%s: %v", path, err)
	}
	return nil
}

// do sends one request and returns the decoded envelope. Any non-200 HTTP
// status or envelope code becomes ErrCarrierRejected carrying GHN's message.
func (c *Client) do(ctx context.Context, method, path string, shopID int, payload any) (envelope, error) {
	var env envelope
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return env, fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return env, err
	}
	req.Header.Set("Token", c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if shopID > 0 {
		req.Header.Set("ShopId", strconv.Itoa(shopID))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return env, delivery.ErrCarrierRejected.WithMessage("%s: %v", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return env, delivery.ErrCarrierMalformed.WithMessage("%s: %v", path, err)
	}
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode != http.StatusOK || (decodeErr == nil && env.Code != http.StatusOK) {
		msg := env.message()
		if msg == "" {
			msg = fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(raw))
		}
		return env, delivery.ErrCarrierRejected.WithMessage("%s", msg)
	}
	if decodeErr != nil {
		return env, delivery.ErrCarrierMalformed.WithMessage("%s: %v", path, decodeErr)
	}
	return env, nil
}

func snippet(raw []byte) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return strings.TrimSpace(string(raw))
}

type orderItem struct {
	Name          string `json:"name"`
	Code          string `json:"code"`
	Quantity      int    `json:"quantity"`
	Price         int64  `json:"price"`
	Length        int    `json:"length"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Weight        int    `json:"weight"`
	ItemOrderCode string `json:"item_order_code"`
}

type createOrderRequest struct {
	PaymentTypeID      int         `json:"payment_type_id"`
	Note               string      `json:"note"`
	RequiredNote       string      `json:"required_note"`
	ToName             string      `json:"to_name"`
	ToPhone            string      `json:"to_phone"`
	ToAddress          string      `json:"to_address"`
	ToWardName         string      `json:"to_ward_name"`
	ToDistrictName     string      `json:"to_district_name"`
	ToProvinceName     string      `json:"to_province_name"`
	CODAmount          int64       `json:"cod_amount"`
	CODFailedAmount    int64       `json:"cod_failed_amount"`
	Weight             int         `json:"weight"`
	Length             int         `json:"length"`
	Width              int         `json:"width"`
	Height             int         `json:"height"`
	ServiceTypeID      int         `json:"service_type_id"`
	PickStationID      *int        `json:"pick_station_id,omitempty"`
	PickShift          []int       `json:"pick_shift,omitempty"`
	InsuranceValue     int64       `json:"insurance_value"`
	Content            string      `json:"content"`
	Coupon             string      `json:"coupon,omitempty"`
	ShopID             int         `json:"shop_id"`
	ReturnPhone        string      `json:"return_phone,omitempty"`
	ReturnAddress      string      `json:"return_address,omitempty"`
	ReturnWardName     string      `json:"return_ward_name,omitempty"`
	ReturnDistrictName string      `json:"return_district_name,omitempty"`
	Items              []orderItem `json:"items"`
}

// CreateOrder registers a shipment for shopID.
func (c *Client) CreateOrder(ctx context.Context, shopID int, o delivery.Order) (delivery.CreatedOrder, error) {
	req := createOrderRequest{
		PaymentTypeID:      o.PaymentTypeID,
		Note:               o.Note,
		RequiredNote:       o.RequiredNote,
		ToName:             o.ToName,
		ToPhone:            o.ToPhone,
		ToAddress:          o.ToAddress,
		ToWardName:         o.ToWardName,
		ToDistrictName:     o.ToDistrictName,
		ToProvinceName:     o.ToProvinceName,
		CODAmount:          o.CODAmount,
		CODFailedAmount:    o.CODFailedAmount,
		Weight:             o.Weight,
		Length:             o.Length,
		Width:              o.Width,
		Height:             o.Height,
		ServiceTypeID:      o.ServiceTypeID,
		PickStationID:      o.PickStationID,
		InsuranceValue:     o.InsuranceValue,
		Content:            o.Content,
		Coupon:             o.Coupon,
		ShopID:             shopID,
		ReturnPhone:        o.ReturnPhone,
		ReturnAddress:      o.ReturnAddress,
		ReturnWardName:     o.ReturnWardName,
		ReturnDistrictName: o.ReturnDistrictName,
		Items:              make([]orderItem, 0, len(o.Items)),
	}
	if o.PickShift != nil {
		req.PickShift = []int{*o.PickShift}
	}
	for _, it := range o.Items {
		req.Items = append(req.Items, orderItem{
			Name:          it.Name,
			Code:          it.Code,
			Quantity:      it.Quantity,
			Price:         it.Price,
			Length:        it.Length,
			Width:         it.Width,
			Height:        it.Height,
			Weight:        it.Weight,
			ItemOrderCode: it.Code,
		})
	}

	env, err := c.do(ctx, http.MethodPost, "/v2/shipping-order/create", shopID, req)
	if err != nil {
		return delivery.CreatedOrder{}, err
	}
	var data struct {
		OrderCode string          `json:"order_code"`
		TotalFee  decimal.Decimal `json:"total_fee"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return delivery.CreatedOrder{}, delivery.ErrCarrierMalformed.WithMessage("create order: %v", err)
	}
	if data.OrderCode == "" {
		return delivery.CreatedOrder{}, delivery.ErrCarrierMalformed.WithMessage("no order code returned")
	}
	msg := env.message()
	if msg == "" {
		msg = "Success"
	}
	return delivery.CreatedOrder{OrderCode: data.OrderCode, Message: msg, TotalFee: data.TotalFee}, nil
}

type orderCodeRequest struct {
	OrderCode string `json:"order_code"`
}

// OrderDetail reads the current status and pickup time of a shipment.
func (c *Client) OrderDetail(ctx context.Context, shopID int, orderCode string) (delivery.OrderDetail, error) {
	var data struct {
		Status          string     `json:"status"`
		PickupTime      *time.Time `json:"pickup_time"`
		InternalProcess struct {
			Status string `json:"status"`
		} `json:"internal_process"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/shipping-order/detail", shopID, orderCodeRequest{OrderCode: orderCode}, &data); err != nil {
		return delivery.OrderDetail{}, err
	}
	status := data.Status
	if status == "" {
		status = data.InternalProcess.Status
	}
	return delivery.OrderDetail{Status: status, PickupTime: data.PickupTime}, nil
}

// OrderFee returns the main service fee of a shipment.
func (c *Client) OrderFee(ctx context.Context, shopID int, orderCode string) (decimal.Decimal, error) {
	var data struct {
		Detail struct {
			MainService decimal.Decimal `json:"main_service"`
		} `json:"detail"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/shipping-order/soc", shopID, orderCodeRequest{OrderCode: orderCode}, &data); err != nil {
		return decimal.Zero, err
	}
	return data.Detail.MainService, nil
}

type orderCodesRequest struct {
	OrderCodes []string `json:"order_codes"`
}

// CancelOrder cancels shipments that have not been picked up.
func (c *Client) CancelOrder(ctx context.Context, shopID int, orderCodes []string) error {
	var results []struct {
		OrderCode string `json:"order_code"`
		Result    bool   `json:"result"`
		Message   string `json:"message"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/switch-status/cancel", shopID, orderCodesRequest{OrderCodes: orderCodes}, &results); err != nil {
		return err
	}
	for _, r := range results {
		if !r.Result {
			return delivery.ErrCarrierRejected.WithMessage("%s: %s", r.OrderCode, r.Message)
		}
	}
	return nil
}

// PrintToken requests a short-lived token for the label page.
func (c *Client) PrintToken(ctx context.Context, shopID int, orderCodes []string) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/a5/gen-token", shopID, orderCodesRequest{OrderCodes: orderCodes}, &data); err != nil {
		return "", err
	}
	if data.Token == "" {
		return "", delivery.ErrCarrierMalformed.WithMessage("no print token returned")
	}
	return data.Token, nil
}

// PrintLabel downloads the A5 label page for token.
func (c *Client) PrintLabel(ctx context.Context, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.printURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, delivery.ErrCarrierRejected.WithMessage("print label: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, delivery.ErrCarrierRejected.WithMessage("print label returned status %d: %s", resp.StatusCode, snippet(body))
	}
	return io.ReadAll(resp.Body)
}

type registerShopRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Phone      string `json:"phone"`
	DistrictID int    `json:"district_id"`
	WardCode   string `json:"ward_code"`
}

// CreateShop registers a pickup shop and returns its carrier id.
func (c *Client) CreateShop(ctx context.Context, in delivery.ShopInput) (int, error) {
	var data struct {
		ShopID int `json:"shop_id"`
	}
	req := registerShopRequest{Name: in.Name, Address: in.Address, Phone: in.Phone, DistrictID: in.DistrictID, WardCode: in.WardCode}
	if err := c.call(ctx, http.MethodPost, "/v2/shop/register", 0, req, &data); err != nil {
		return 0, err
	}
	if data.ShopID == 0 {
		return 0, delivery.ErrCarrierMalformed.WithMessage("no shop id returned")
	}
	return data.ShopID, nil
}

// Provinces lists every province.
func (c *Client) Provinces(ctx context.Context) ([]delivery.Province, error) {
	var out []delivery.Province
	err := c.call(ctx, http.MethodGet, "/master-data/province", 0, nil, &out)
	return out, err
}

// Districts lists the districts of a province.
func (c *Client) Districts(ctx context.Context, provinceID int) ([]delivery.District, error) {
	var out []delivery.District
	err := c.call(ctx, http.MethodPost, "/master-data/district", 0, map[string]int{"province_id": provinceID}, &out)
	return out, err
}

// Wards lists the wards of a district.
func (c *Client) Wards(ctx context.Context, districtID int) ([]delivery.Ward, error) {
	var out []delivery.Ward
	err := c.call(ctx, http.MethodPost, "/master-data/ward", 0, map[string]int{"district_id": districtID}, &out)
	return out, err
}

// PickShifts lists the pickup windows offered today.
func (c *Client) PickShifts(ctx context.Context) ([]delivery.PickShift, error) {
	var out []delivery.PickShift
	err := c.call(ctx, http.MethodGet, "/v2/shift/date", 0, nil, &out)
	return out, err
}
