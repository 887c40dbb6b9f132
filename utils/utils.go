package utils

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/lnops/rebalance-orchestrator-go/model"
	"go.uber.org/zap"
)

const (
	defaultRetryWaitMin = 1500 * time.Millisecond
	defaultRetryWaitMax = 15 * time.Second
)

func getTimeoutDuration(config *model.Config) time.Duration {
	if config.Daemon.ContextTimeoutDuration > 0 {
		return time.Duration(config.Daemon.ContextTimeoutDuration) * time.Second
	}

	return 30 * time.Second
}

func GetContextWithTimeout(parent context.Context, config *model.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, getTimeoutDuration(config))
}

// NewHTTPClient returns a client for idempotent reads against collaborator
// APIs. Network errors and 5xx responses are retried with exponential backoff.
func NewHTTPClient(log *zap.Logger, config *model.Config, insecureTLS bool) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = config.Lndg.RetryMax
	client.RetryWaitMin = defaultRetryWaitMin
	client.RetryWaitMax = defaultRetryWaitMax
	client.Logger = LeveledLogger(log)
	client.HTTPClient.Timeout = getTimeoutDuration(config)

	if insecureTLS {
		if transport, ok := client.HTTPClient.Transport.(*http.Transport); ok {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}

	return client
}
