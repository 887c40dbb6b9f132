package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

const channelsPath = "/api/channels/?is_open=true&is_active=true"

type channelPage struct {
	Results []map[string]interface{} `json:"results"`
	Next    string                   `json:"next"`
}

// LndgClient reads channel snapshots and completed rebalances from LNDg.
type LndgClient struct {
	log      *zap.Logger
	config   *model.Config
	http     *retryablehttp.Client
	excluded map[string]struct{}
}

func NewLndgClient(log *zap.Logger, config *model.Config, client *retryablehttp.Client) *LndgClient {
	excluded := make(map[string]struct{}, len(config.Lndg.ExcludedChannels))
	for _, id := range config.Lndg.ExcludedChannels {
		excluded[id] = struct{}{}
	}

	return &LndgClient{
		log:      log,
		config:   config,
		http:     client,
		excluded: excluded,
	}
}

// LoadChannels fetches every open and active channel, following pagination.
// Records with unusable values are dropped; any failed page aborts the load.
func (c *LndgClient) LoadChannels(ctx context.Context) ([]model.Channel, error) {
	next := strings.TrimRight(c.config.Lndg.BaseURL, "/") + channelsPath

	var channels []model.Channel
	for page := 1; next != ""; page++ {
		var response channelPage
		if err := c.getJSON(ctx, next, &response); err != nil {
			return nil, fmt.Errorf("cannot load channels page %d: %w", page, err)
		}

		for _, raw := range response.Results {
			channel, err := c.parseChannel(raw)
			if err != nil {
				c.log.Debug("dropping channel record", zap.Int("page", page), zap.Error(err))
				continue
			}
			if _, skip := c.excluded[channel.ID]; skip {
				continue
			}
			channels = append(channels, channel)
		}

		resolved, err := c.resolve(next, response.Next)
		if err != nil {
			return nil, err
		}
		next = resolved
	}

	return channels, nil
}

func (c *LndgClient) parseChannel(raw map[string]interface{}) (model.Channel, error) {
	id := asString(raw["chan_id"])
	if id == "" {
		return model.Channel{}, fmt.Errorf("record without chan_id")
	}

	capacity, ok := asInt64(raw["capacity"])
	if !ok {
		return model.Channel{}, fmt.Errorf("channel %s: missing or non-numeric capacity", id)
	}
	local, ok := asInt64(raw["local_balance"])
	if !ok {
		return model.Channel{}, fmt.Errorf("channel %s: missing or non-numeric local_balance", id)
	}
	pending, _ := asInt64(raw["pending_outbound"])
	outTarget, _ := asInt64(raw["ar_out_target"])
	inTarget, _ := asInt64(raw["ar_in_target"])

	return model.NewChannel(
		id,
		asString(raw["remote_pubkey"]),
		asString(raw["alias"]),
		capacity,
		local,
		pending,
		int(outTarget),
		int(inTarget),
		asBool(raw["auto_rebalance"]),
	)
}

func (c *LndgClient) resolve(current, next string) (string, error) {
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("invalid next page url %q: %w", next, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *LndgClient) getJSON(ctx context.Context, target string, out interface{}) error {
	ctx, cancel := GetContextWithTimeout(ctx, c.config)
	defer cancel()

	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	request.SetBasicAuth(c.config.Lndg.User, c.config.Lndg.Pass)
	request.Header.Set("Accept", "application/json")

	return doJSON(c.http, request, out)
}

func doJSON(client *retryablehttp.Client, request *retryablehttp.Request, out interface{}) error {
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", request.URL.Path, response.StatusCode)
	}

	return sonnet.Unmarshal(body, out)
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func asBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}
