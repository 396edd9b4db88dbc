package crawl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tubecrawl/internal/contracts"
	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/fetch"
)

// Stage names used for per-stage run markers.
const (
	stageChannels = "channels"
	stageVideos   = "videos"
	stageEnrich   = "enrich"
	stageHealth   = "health"
)

// markStageStart records the stage's started_at marker in crawl_state.
func markStageStart(s contracts.Store, stage string) error {
	return s.StateStore().SetState(stage+consts.StateStartedAtSuffix, strconv.FormatInt(time.Now().UnixMilli(), 10))
}

// markStageDone records the stage's finished_at marker in crawl_state.
func markStageDone(s contracts.Store, stage string) error {
	return s.StateStore().SetState(stage+consts.StateFinishedAtSuffix, strconv.FormatInt(time.Now().UnixMilli(), 10))
}

// faultMsg renders a fetch fault as the short message persisted in
// last_error fields.
func faultMsg(err error) string {
	if code, ok := fetch.StatusCode(err); ok {
		return fmt.Sprintf("HTTP %d", code)
	}
	if errors.Is(err, fetch.ErrInvalidJSON) {
		return "invalid JSON"
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
