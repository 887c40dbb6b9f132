package utils

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	lndgRebalancesPath  = "/api/rebalancer/?status=2&limit=100"
	losHistoryPath      = "/api/rebalance/history"
	lndgStatusSucceeded = 2
	losStatusSucceeded  = "succeeded"
)

type lndgRebalance struct {
	ID          int64   `json:"id"`
	Value       int64   `json:"value"`
	FeesPaid    float64 `json:"fees_paid"`
	Status      int     `json:"status"`
	TargetAlias string  `json:"target_alias"`
	Stop        string  `json:"stop"`
}

type lndgRebalancePage struct {
	Results []lndgRebalance `json:"results"`
}

// FetchRebalances returns the most recent page of successful LNDg rebalances,
// ascending by id.
func (c *LndgClient) FetchRebalances(ctx context.Context) ([]model.FeedRecord, error) {
	var page lndgRebalancePage
	target := strings.TrimRight(c.config.Lndg.BaseURL, "/") + lndgRebalancesPath
	if err := c.getJSON(ctx, target, &page); err != nil {
		return nil, err
	}

	records := make([]model.FeedRecord, 0, len(page.Results))
	for _, rb := range page.Results {
		if rb.Status != lndgStatusSucceeded {
			continue
		}
		records = append(records, model.FeedRecord{
			ID:        rb.ID,
			AmountSat: rb.Value,
			FeeSat:    decimal.NewFromFloat(rb.FeesPaid),
			Status:    "succeeded",
			Target:    rb.TargetAlias,
			Finished:  parseTimestamp(rb.Stop),
		})
	}

	sortRecords(records)
	return records, nil
}

type losAttempt struct {
	ID              int64  `json:"id"`
	JobID           int64  `json:"job_id"`
	SourceChannelID uint64 `json:"source_channel_id"`
	AmountSat       int64  `json:"amount_sat"`
	FeePaidSat      int64  `json:"fee_paid_sat"`
	Status          string `json:"status"`
	FinishedAt      string `json:"finished_at"`
}

type losHistory struct {
	Attempts []losAttempt `json:"attempts"`
}

// LosClient reads the LightningOS rebalance history. The endpoint is local
// and unauthenticated.
type LosClient struct {
	log    *zap.Logger
	config *model.Config
	http   *retryablehttp.Client
}

func NewLosClient(log *zap.Logger, config *model.Config, client *retryablehttp.Client) *LosClient {
	return &LosClient{log: log, config: config, http: client}
}

func (c *LosClient) FetchAttempts(ctx context.Context) ([]model.FeedRecord, error) {
	ctx, cancel := GetContextWithTimeout(ctx, c.config)
	defer cancel()

	target := strings.TrimRight(c.config.Los.BaseURL, "/") + losHistoryPath
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")

	var history losHistory
	if err := doJSON(c.http, request, &history); err != nil {
		return nil, err
	}

	records := make([]model.FeedRecord, 0, len(history.Attempts))
	for _, at := range history.Attempts {
		if at.Status != losStatusSucceeded {
			continue
		}
		var source string
		if at.SourceChannelID != 0 {
			source = strconv.FormatUint(at.SourceChannelID, 10)
		}
		records = append(records, model.FeedRecord{
			ID:        at.ID,
			AmountSat: at.AmountSat,
			FeeSat:    decimal.NewFromInt(at.FeePaidSat),
			Status:    at.Status,
			Source:    source,
			Finished:  parseTimestamp(at.FinishedAt),
		})
	}

	sortRecords(records)
	return records, nil
}

func sortRecords(records []model.FeedRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
