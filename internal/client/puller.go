package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/model"
)

// Pull fetches every change since the local cursor and applies it in one
// step: confirmed records replace local state unless a newer version was
// already seen, and pending layers the server has disposed of are retired.
// Nothing is applied when any page fails.
func (c *Client) Pull(ctx context.Context) error {
	c.pullMu.Lock()
	defer c.pullMu.Unlock()

	c.mu.Lock()
	req := model.PullRequest{
		ClientGroupID: c.clientGroupID,
		SpaceID:       c.cfg.SpaceID,
		SubspaceIDs:   append([]string(nil), c.subspaceIDs...),
		SinceVersion:  c.cursor,
		Limit:         c.cfg.PullLimit,
	}
	epoch := c.epoch
	c.mu.Unlock()

	var (
		records        []*model.Record
		lastMutationID int64
		pages          int
	)
	for {
		page := req
		resp, err := c.transport.Pull(ctx, &page)
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		pages++
		records = append(records, resp.Records...)
		lastMutationID = resp.LastMutationID
		if resp.NewSinceVersion > req.SinceVersion {
			req.SinceVersion = resp.NewSinceVersion
		}
		if !resp.More || len(resp.Records) == 0 {
			break
		}
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding pull across rebind", zap.String("client_group_id", req.ClientGroupID))
		return nil
	}

	if err := c.local.ApplyPull(ctx, records, req.SinceVersion); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to persist pull: %w", err)
	}
	c.cursor = req.SinceVersion

	var events []Event
	changed := make(map[string]struct{})
	for _, r := range records {
		if c.view.confirm(r) {
			changed[r.Key] = struct{}{}
		}
	}
	for _, key := range c.view.retire(lastMutationID) {
		changed[key] = struct{}{}
	}
	c.advancePushed(lastMutationID)

	var retired []int64
	for _, m := range c.queue {
		if m.ClientMutationID <= lastMutationID {
			retired = append(retired, m.ClientMutationID)
		}
	}
	c.dropQueued(retired)

	for _, key := range sortedKeys(changed) {
		events = append(events, Event{Type: EventChange, Key: key})
	}
	c.mu.Unlock()

	if err := c.local.Ack(ctx, retired); err != nil {
		c.logger.Error("failed to ack confirmed mutations", zap.Error(err))
	}

	c.logger.Debug("pull applied",
		zap.Int("pages", pages),
		zap.Int("records", len(records)),
		zap.Int64("cursor", req.SinceVersion),
		zap.Int64("last_mutation_id", lastMutationID),
		zap.Int("retired", len(retired)))

	c.emit(events...)
	return nil
}
