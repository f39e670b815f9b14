package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/types"
)

// keyPrefix namespaces presence records in the fast store
const keyPrefix = "worker:"

// Hash field names of a presence record
const (
	fieldWorkerID      = "worker_id"
	fieldCPUs          = "cpus"
	fieldHostname      = "hostname"
	fieldStatus        = "status"
	fieldRegisteredAt  = "registered_at"
	fieldLastHeartbeat = "last_heartbeat"
)

// Registry tracks worker liveness through TTL-bounded hashes in the
// fast store. A worker that stops heartbeating disappears when its key
// expires; there is no explicit dead-worker list to maintain.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a registry. ttl bounds how long a presence record
// survives without a heartbeat; heartbeats must arrive well inside it.
func New(client *redis.Client, ttl time.Duration) *Registry {
	return &Registry{client: client, ttl: ttl}
}

func presenceKey(workerID string) string {
	return keyPrefix + workerID
}

// save writes the full presence hash and re-arms its TTL. Every write
// path funnels through here so a record that expired mid-flight is
// recreated whole, never as a partial hash.
func (r *Registry) save(ctx context.Context, p *types.WorkerPresence) error {
	key := presenceKey(p.WorkerID)
	fields := map[string]interface{}{
		fieldWorkerID:      p.WorkerID,
		fieldCPUs:          p.CPUs,
		fieldHostname:      p.Hostname,
		fieldStatus:        p.Status,
		fieldRegisteredAt:  p.RegisteredAt.UTC().Format(time.RFC3339Nano),
		fieldLastHeartbeat: p.LastHeartbeat.UTC().Format(time.RFC3339Nano),
	}

	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to save presence for worker %s: %w", p.WorkerID, err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to arm presence TTL for worker %s: %w", p.WorkerID, err)
	}

	return nil
}

// Register announces a worker to the cluster. It stamps RegisteredAt
// and LastHeartbeat, defaults the status to ready, and writes the
// presence record with its TTL armed.
func (r *Registry) Register(ctx context.Context, p *types.WorkerPresence) error {
	now := time.Now().UTC()
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = now
	}
	p.LastHeartbeat = now
	if p.Status == "" {
		p.Status = types.WorkerStatusReady
	}

	if err := r.save(ctx, p); err != nil {
		return err
	}

	log.Logger.Info().
		Str("worker", p.WorkerID).
		Int("cpus", p.CPUs).
		Str("hostname", p.Hostname).
		Dur("ttl", r.ttl).
		Msg("Worker registered")

	return nil
}

// Heartbeat stamps LastHeartbeat on the caller's record and rewrites
// it, refreshing the TTL. Rewriting the whole hash means a record that
// expired while the worker was stalled heals on the next beat.
func (r *Registry) Heartbeat(ctx context.Context, p *types.WorkerPresence) error {
	p.LastHeartbeat = time.Now().UTC()
	return r.save(ctx, p)
}

// UpdateStatus changes the worker's advertised status. The write also
// counts as a heartbeat.
func (r *Registry) UpdateStatus(ctx context.Context, p *types.WorkerPresence, status string) error {
	p.Status = status
	p.LastHeartbeat = time.Now().UTC()
	if err := r.save(ctx, p); err != nil {
		return err
	}

	log.Logger.Debug().
		Str("worker", p.WorkerID).
		Str("status", status).
		Msg("Worker status updated")

	return nil
}

// Unregister removes the worker's presence record. Removing an absent
// record is not an error.
func (r *Registry) Unregister(ctx context.Context, workerID string) error {
	if err := r.client.Del(ctx, presenceKey(workerID)).Err(); err != nil {
		return fmt.Errorf("failed to unregister worker %s: %w", workerID, err)
	}

	log.Logger.Info().
		Str("worker", workerID).
		Msg("Worker unregistered")

	return nil
}

// Exists reports whether a presence record is currently live for the
// given worker id. Startup uses this to spot a leftover record of its
// own name before registering.
func (r *Registry) Exists(ctx context.Context, workerID string) (bool, error) {
	n, err := r.client.Exists(ctx, presenceKey(workerID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence of worker %s: %w", workerID, err)
	}
	return n > 0, nil
}

// Get loads one worker's presence record. It returns nil without error
// when no live record exists.
func (r *Registry) Get(ctx context.Context, workerID string) (*types.WorkerPresence, error) {
	data, err := r.client.HGetAll(ctx, presenceKey(workerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load presence for worker %s: %w", workerID, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return parsePresence(workerID, data)
}

// ListAlive returns every worker with a live presence record, ordered
// by worker id. Records that fail to parse are skipped with a warning
// rather than poisoning the whole listing.
func (r *Registry) ListAlive(ctx context.Context) ([]*types.WorkerPresence, error) {
	var workers []*types.WorkerPresence

	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		workerID := key[len(keyPrefix):]

		data, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load presence for worker %s: %w", workerID, err)
		}
		if len(data) == 0 {
			// Expired between scan and read
			continue
		}

		p, err := parsePresence(workerID, data)
		if err != nil {
			log.Logger.Warn().
				Str("worker", workerID).
				Err(err).
				Msg("Skipping malformed presence record")
			continue
		}
		workers = append(workers, p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan worker presence records: %w", err)
	}

	sort.Slice(workers, func(i, j int) bool {
		return workers[i].WorkerID < workers[j].WorkerID
	})

	return workers, nil
}

// TotalCPUs sums the cpus advertised by all live workers. When the
// fast store is unreachable it returns 0 with the error, so callers
// treat the cluster as having no capacity instead of guessing.
func (r *Registry) TotalCPUs(ctx context.Context) (int, error) {
	workers, err := r.ListAlive(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, w := range workers {
		total += w.CPUs
	}
	return total, nil
}

// Count returns the number of live workers
func (r *Registry) Count(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count worker presence records: %w", err)
	}
	return count, nil
}

// parsePresence decodes a presence hash. Timestamps are RFC 3339; an
// unparseable cpus field is an error because capacity math depends on
// it, while a bad timestamp only degrades display.
func parsePresence(workerID string, data map[string]string) (*types.WorkerPresence, error) {
	cpus, err := strconv.Atoi(data[fieldCPUs])
	if err != nil {
		return nil, fmt.Errorf("invalid cpus field %q: %w", data[fieldCPUs], err)
	}

	p := &types.WorkerPresence{
		WorkerID: workerID,
		CPUs:     cpus,
		Hostname: data[fieldHostname],
		Status:   data[fieldStatus],
	}
	if id := data[fieldWorkerID]; id != "" {
		p.WorkerID = id
	}
	if ts, err := time.Parse(time.RFC3339Nano, data[fieldRegisteredAt]); err == nil {
		p.RegisteredAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, data[fieldLastHeartbeat]); err == nil {
		p.LastHeartbeat = ts
	}

	return p, nil
}
