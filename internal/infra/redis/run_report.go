package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/feedsync/internal/core/domain"
)

const (
	lastRunKey = "feedsync:last_run"
	historyKey = "feedsync:runs"

	// historySize is the number of reports kept in the history list.
	historySize = 50
	reportTTL   = 7 * 24 * time.Hour
)

// RecordRun stores the report as the last run and prepends it to the history.
func (c *Client) RecordRun(ctx context.Context, report *domain.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, lastRunKey, data, reportTTL)
	pipe.LPush(ctx, historyKey, data)
	pipe.LTrim(ctx, historyKey, 0, historySize-1)
	pipe.Expire(ctx, historyKey, reportTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record run report: %w", err)
	}
	return nil
}

// LastRun returns the most recent report, or nil when none is stored.
func (c *Client) LastRun(ctx context.Context) (*domain.RunReport, error) {
	data, err := c.rdb.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}

	var report domain.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run report: %w", err)
	}
	return &report, nil
}

// RecentRuns returns up to n reports, newest first. Entries that fail to
// decode are skipped.
func (c *Client) RecentRuns(ctx context.Context, n int) ([]*domain.RunReport, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := c.rdb.LRange(ctx, historyKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	reports := make([]*domain.RunReport, 0, len(items))
	for _, item := range items {
		var report domain.RunReport
		if err := json.Unmarshal([]byte(item), &report); err != nil {
			continue
		}
		reports = append(reports, &report)
	}
	return reports, nil
}
