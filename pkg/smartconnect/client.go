// Package smartconnect is a minimal Angel One SmartAPI client covering
// session login, scrip search and historical candles.
//
// Usage example:
//
//	sc := smartconnect.New(smartconnect.Config{APIKey: "your_api_key"})
//	if err := sc.GenerateSession(ctx, "CLIENTID", "PIN", totpCode); err != nil { log.Fatal(err) }
//	candles, err := sc.GetCandleData(ctx, smartconnect.CandleParams{
//	    Exchange: "NSE", SymbolToken: "3045", Interval: "FIVE_MINUTE",
//	    From: time.Now().Add(-24 * time.Hour), To: time.Now(),
//	})
package smartconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrTokenExpired is returned when the API rejects the session token.
var ErrTokenExpired = errors.New("smartconnect: session token expired")

type Config struct {
	APIKey string

	RootURL        string        // default: https://apiconnect.angelone.in
	Timeout        time.Duration // default: 7s
	Debug          bool
	UserType       string // default: USER
	SourceID       string // default: WEB
	ClientPublicIP string // default 106.193.147.98
	ClientLocalIP  string // default resolved, else 127.0.0.1
	ClientMAC      string // default from interface MAC
}

type SmartConnect struct {
	apiKey       string
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string

	rootURL string
	debug   bool

	httpClient *http.Client

	userType       string
	sourceID       string
	clientPublicIP string
	clientLocalIP  string
	clientMAC      string
}

const (
	defaultRoot     = "https://apiconnect.angelone.in"
	defaultPublicIP = "106.193.147.98"

	// candle timestamps and the from/to parameters use this layout
	candleParamLayout = "2006-01-02 15:04"
)

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.candle.data":  "/rest/secure/angelbroking/historical/v1/getCandleData",
	"api.search.scrip": "/rest/secure/angelbroking/order/v1/searchScrip",
}

// New initializes the client. No network calls are made.
func New(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = defaultPublicIP
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = localIP()
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = macAddress()
	}

	return &SmartConnect{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", sc.userType)
	h.Set("X-SourceID", sc.sourceID)
	if sc.accessToken != "" {
		h.Set("Authorization", "Bearer "+sc.accessToken)
	}
	return h
}

// envelope is the common response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (sc *SmartConnect) post(ctx context.Context, route string, params map[string]any) (*envelope, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("unknown route: %s", route)
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.rootURL+uri, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header = sc.requestHeaders()
	if sc.debug {
		log.Printf("[smartconnect] request: POST %s params=%v", uri, params)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smartconnect %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if sc.debug {
		log.Printf("[smartconnect] response: code=%d body=%s", resp.StatusCode, raw)
	}

	var out envelope
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("smartconnect %s: http %d: couldn't parse JSON response: %w", route, resp.StatusCode, err)
	}
	if out.ErrorType == "TokenException" || resp.StatusCode == http.StatusForbidden {
		return &out, fmt.Errorf("%w: %s", ErrTokenExpired, out.Message)
	}
	if resp.StatusCode >= 400 {
		return &out, fmt.Errorf("smartconnect %s: http %d: %s", route, resp.StatusCode, out.Message)
	}
	if !out.Status {
		return &out, fmt.Errorf("smartconnect %s: %s (%s)", route, out.Message, out.ErrorCode)
	}
	return &out, nil
}

// ---- Session ----

// GenerateSession logs in with a fresh TOTP code and stores the tokens.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) error {
	res, err := sc.post(ctx, "api.login", map[string]any{
		"clientcode": clientCode,
		"password":   password,
		"totp":       totp,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	var data struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil || data.JWTToken == "" {
		return errors.New("unexpected login response format")
	}
	sc.accessToken = data.JWTToken
	sc.refreshToken = data.RefreshToken
	sc.feedToken = data.FeedToken
	sc.userID = clientCode
	return nil
}

// TerminateSession logs out. The tokens are cleared even on error.
func (sc *SmartConnect) TerminateSession(ctx context.Context) error {
	if sc.accessToken == "" {
		return nil
	}
	_, err := sc.post(ctx, "api.logout", map[string]any{"clientcode": sc.userID})
	sc.accessToken, sc.refreshToken, sc.feedToken = "", "", ""
	return err
}

// AccessToken returns the current JWT.
func (sc *SmartConnect) AccessToken() string { return sc.accessToken }

// ---- Market data ----

// Scrip is one searchScrip match.
type Scrip struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"tradingsymbol"`
	SymbolToken   string `json:"symboltoken"`
}

// SearchScrip looks up the tokens of instruments matching query.
func (sc *SmartConnect) SearchScrip(ctx context.Context, exchange, query string) ([]Scrip, error) {
	res, err := sc.post(ctx, "api.search.scrip", map[string]any{"exchange": exchange, "searchscrip": query})
	if err != nil {
		return nil, err
	}
	var out []Scrip
	if len(res.Data) > 0 && string(res.Data) != "null" {
		if err := json.Unmarshal(res.Data, &out); err != nil {
			return nil, fmt.Errorf("decode scrips: %w", err)
		}
	}
	return out, nil
}

// CandleParams selects a historical candle range.
type CandleParams struct {
	Exchange    string
	SymbolToken string
	Interval    string // ONE_MINUTE, FIVE_MINUTE, FIFTEEN_MINUTE, ONE_HOUR, ...
	From, To    time.Time
}

// Candle is one historical OHLCV row.
type Candle struct {
	Time                   time.Time
	Open, High, Low, Close float64
	Volume                 float64
}

// GetCandleData fetches historical candles. Rows are returned in the
// order the API sends them (ascending).
func (sc *SmartConnect) GetCandleData(ctx context.Context, p CandleParams) ([]Candle, error) {
	res, err := sc.post(ctx, "api.candle.data", map[string]any{
		"exchange":    p.Exchange,
		"symboltoken": p.SymbolToken,
		"interval":    p.Interval,
		"fromdate":    p.From.Format(candleParamLayout),
		"todate":      p.To.Format(candleParamLayout),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Data) == 0 || string(res.Data) == "null" {
		return nil, nil
	}

	// each row: ["2023-09-06T11:15:00+05:30", open, high, low, close, volume]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(res.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}
	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle %d: expected 6 fields, got %d", i, len(row))
		}
		var ts string
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("candle %d time: %w", i, err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("candle %d time %q: %w", i, ts, err)
		}
		c := Candle{Time: t}
		for j, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			v, err := strconv.ParseFloat(strings.Trim(string(row[j+1]), `"`), 64)
			if err != nil {
				return nil, fmt.Errorf("candle %d field %d: %w", i, j+1, err)
			}
			*dst = v
		}
		out = append(out, c)
	}
	return out, nil
}
