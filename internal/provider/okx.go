package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OkxFunding reads the current funding rate from the OKX public REST API.
type OkxFunding struct {
	baseURL string
	client  *http.Client
}

func NewOkxFunding(baseURL string, timeout time.Duration) *OkxFunding {
	return &OkxFunding{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OkxFunding) Exchange() string { return "okx" }

type okxFundingResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID      string `json:"instId"`
		FundingRate string `json:"fundingRate"`
	} `json:"data"`
}

func (o *OkxFunding) FundingRate(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/api/v5/public/funding-rate?instId=%s", o.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build okx request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("okx funding request failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("okx returned status %d for %s", resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read okx response: %w", err)
	}

	var decoded okxFundingResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, fmt.Errorf("failed to decode okx response: %w", err)
	}
	if decoded.Code != "0" {
		return 0, fmt.Errorf("okx funding request for %s rejected: %s", symbol, decoded.Msg)
	}
	if len(decoded.Data) == 0 {
		return 0, fmt.Errorf("okx returned no funding data for %s", symbol)
	}

	rate, err := strconv.ParseFloat(decoded.Data[0].FundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("okx funding rate for %s is not numeric: %w", symbol, err)
	}
	return rate, nil
}
