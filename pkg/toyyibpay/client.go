// Package toyyibpay is a client for the ToyyibPay hosted bill API.
package toyyibpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://toyyibpay.com"
	defaultTimeout              = 15 * time.Second
	createBillPath              = "index.php/api/createBill"
	billTransactionsPath        = "index.php/api/getBillTransactions"
	responseBodyReadLimit int64 = 64 * 1024
	errorBodyReadLimit    int64 = 1024

	maxBillNameLen        = 30
	maxBillDescriptionLen = 100
)

var (
	errSecretKeyRequired    = errors.New("toyyibpay secret key is required")
	errCategoryCodeRequired = errors.New("toyyibpay category code is required")
)

// Observer receives the duration and outcome of every gateway call.
type Observer interface {
	ObserveGatewayCall(operation string, err error, elapsed time.Duration)
}

// Client wraps the ToyyibPay bill endpoints used by checkout and verification.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	secretKey    string
	categoryCode string
	billName     string
	timeout      time.Duration
	observer     Observer
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the ToyyibPay origin (for example the dev sandbox).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout bounds each gateway call. Expiry surfaces as GATEWAY_ERROR.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithBillName overrides the bill title shown on the hosted page.
func WithBillName(name string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			c.billName = truncate(trimmed, maxBillNameLen)
		}
	}
}

// WithObserver reports call latency and outcome, typically to Prometheus.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient builds the ToyyibPay client for a merchant secret and category.
func NewClient(secretKey, categoryCode string, opts ...Option) (*Client, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}
	categoryCode = strings.TrimSpace(categoryCode)
	if categoryCode == "" {
		return nil, errCategoryCodeRequired
	}

	client := &Client{
		secretKey:    secretKey,
		categoryCode: categoryCode,
		baseURL:      defaultBaseURL,
		billName:     "BND Order",
		timeout:      defaultTimeout,
		httpClient:   &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// BillRequest is the order data needed to open a hosted bill.
type BillRequest struct {
	OrderID     string
	AmountSen   int64
	Description string
	PayerName   string
	PayerEmail  string
	PayerPhone  string
	ReturnURL   string
	CallbackURL string
	// ExternalReference is echoed back by the gateway on callbacks.
	ExternalReference string
}

// Bill is a created ToyyibPay bill.
type Bill struct {
	BillCode   string
	PaymentURL string
}

// Transaction is one payment attempt reported for a bill.
type Transaction struct {
	BillName          string `json:"billName"`
	BillPaymentStatus string `json:"billpaymentStatus"`
	BillPaymentAmount string `json:"billpaymentAmount"`
	InvoiceNo         string `json:"billpaymentInvoiceNo"`
	BillPaymentDate   string `json:"billPaymentDate"`
	ExternalReference string `json:"billExternalReferenceNo"`
}

// Outcome maps the transaction's status code to a payment outcome.
func (t Transaction) Outcome() Status {
	return ParseStatus(t.BillPaymentStatus)
}

// CreateBill opens a bill and returns its hosted payment URL.
func (c *Client) CreateBill(ctx context.Context, req BillRequest) (bill *Bill, err error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toyyibpay client not configured")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	defer c.observe("create_bill", time.Now(), &err)

	form := url.Values{}
	form.Set("userSecretKey", c.secretKey)
	form.Set("categoryCode", c.categoryCode)
	form.Set("billName", c.billName)
	form.Set("billDescription", truncate(req.Description, maxBillDescriptionLen))
	form.Set("billPriceSetting", "1")
	form.Set("billPayorInfo", "1")
	form.Set("billAmount", strconv.FormatInt(req.AmountSen, 10))
	form.Set("billReturnUrl", req.ReturnURL)
	form.Set("billCallbackUrl", req.CallbackURL)
	form.Set("billExternalReferenceNo", req.ExternalReference)
	form.Set("billTo", req.PayerName)
	form.Set("billEmail", req.PayerEmail)
	form.Set("billPhone", req.PayerPhone)
	form.Set("billSplitPayment", "0")
	form.Set("billSplitPaymentArgs", "")
	form.Set("billPaymentChannel", "0")
	form.Set("billDisplayMerchant", "1")

	body, err := c.postForm(ctx, createBillPath, form)
	if err != nil {
		return nil, err
	}

	var created []struct {
		BillCode string `json:"BillCode"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("%w: %s", err, snippet(body)), "decode createBill response")
	}
	if len(created) == 0 || strings.TrimSpace(created[0].BillCode) == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("response: %s", snippet(body)), "createBill returned no bill code")
	}

	code := strings.TrimSpace(created[0].BillCode)
	return &Bill{
		BillCode:   code,
		PaymentURL: c.PaymentURL(code),
	}, nil
}

// GetBillTransactions lists the payment attempts recorded for a bill.
func (c *Client) GetBillTransactions(ctx context.Context, billCode string) (txs []Transaction, err error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "toyyibpay client not configured")
	}
	billCode = strings.TrimSpace(billCode)
	if billCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill code is required")
	}
	defer c.observe("get_bill_transactions", time.Now(), &err)

	form := url.Values{}
	form.Set("billCode", billCode)
	body, err := c.postForm(ctx, billTransactionsPath, form)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("%w: %s", err, snippet(body)), "decode getBillTransactions response")
	}
	return txs, nil
}

// PaymentURL is the hosted page for a bill code.
func (c *Client) PaymentURL(billCode string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(billCode))
}

// LatestOutcome reports the most decisive outcome among a bill's
// transactions: any success wins, then pending, then failure.
func LatestOutcome(txs []Transaction) Status {
	result := StatusUnknown
	for _, tx := range txs {
		switch tx.Outcome() {
		case StatusSuccess:
			return StatusSuccess
		case StatusPending:
			result = StatusPending
		case StatusFailure:
			if result == StatusUnknown {
				result = StatusFailure
			}
		}
	}
	return result
}

// MinorUnits converts an amount to integer minor units (sen for MYR).
func MinorUnits(amount decimal.Decimal, places int32) int64 {
	return amount.Shift(places).Round(0).IntPart()
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s", c.baseURL, path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "build toyyibpay request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute toyyibpay request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "toyyibpay request failed")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "read toyyibpay response")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "toyyibpay returned an empty response")
	}
	return body, nil
}

func (c *Client) observe(operation string, started time.Time, err *error) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveGatewayCall(operation, *err, time.Since(started))
}

func (r BillRequest) validate() error {
	details := map[string]string{}
	if strings.TrimSpace(r.OrderID) == "" {
		details["orderId"] = "is required"
	}
	if r.AmountSen <= 0 {
		details["amount"] = "must be positive"
	}
	if strings.TrimSpace(r.ReturnURL) == "" {
		details["returnUrl"] = "is required"
	}
	if strings.TrimSpace(r.CallbackURL) == "" {
		details["callbackUrl"] = "is required"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid bill request").WithDetails(details)
	}
	return nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func snippet(body []byte) string {
	return truncate(strings.TrimSpace(strings.ToValidUTF8(string(body), "")), 200)
}
