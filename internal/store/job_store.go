package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/epcis-repository/internal/domain"
)

// MemoryJobStore keeps capture jobs for the lifetime of the process.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.CaptureJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*domain.CaptureJob)}
}

func (s *MemoryJobStore) SaveJob(_ context.Context, job *domain.CaptureJob) error {
	s.mu.Lock()
	s.jobs[job.CaptureID] = job.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, id string) (*domain.CaptureJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) ListJobs(_ context.Context) ([]domain.CaptureJob, error) {
	s.mu.RLock()
	jobs := make([]domain.CaptureJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job.Clone())
	}
	s.mu.RUnlock()
	sortJobs(jobs)
	return jobs, nil
}

// RedisJobStore keeps each job as a JSON string under its own key with a TTL
// and indexes job ids in a sorted set scored by creation time.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

const jobIndexKey = "epcis:capture:jobs"

func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{client: client, ttl: ttl}
}

func jobKey(id string) string {
	return fmt.Sprintf("epcis:capture:job:%s", id)
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job *domain.CaptureJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding capture job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.CaptureID), data, s.ttl)
	pipe.ZAdd(ctx, jobIndexKey, redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.CaptureID})
	if s.ttl > 0 {
		cutoff := time.Now().Add(-s.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, jobIndexKey, "-inf", fmt.Sprintf("(%d", cutoff))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving capture job %s: %w", job.CaptureID, err)
	}
	return nil
}

func (s *RedisJobStore) GetJob(ctx context.Context, id string) (*domain.CaptureJob, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading capture job %s: %w", id, err)
	}
	return decodeJob(data)
}

func (s *RedisJobStore) ListJobs(ctx context.Context) ([]domain.CaptureJob, error) {
	ids, err := s.client.ZRange(ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing capture jobs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.CaptureJob{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading capture jobs: %w", err)
	}

	jobs := make([]domain.CaptureJob, 0, len(values))
	var expired []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		job, err := decodeJob([]byte(str))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if len(expired) > 0 {
		s.client.ZRem(ctx, jobIndexKey, expired...)
	}
	sortJobs(jobs)
	return jobs, nil
}

func decodeJob(data []byte) (*domain.CaptureJob, error) {
	var job domain.CaptureJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decoding capture job: %w", err)
	}
	if job.Errors == nil {
		job.Errors = []domain.CaptureError{}
	}
	return &job, nil
}

// sortJobs orders jobs newest first.
func sortJobs(jobs []domain.CaptureJob) {
	slices.SortFunc(jobs, func(a, b domain.CaptureJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.CaptureID < b.CaptureID {
			return -1
		}
		if a.CaptureID > b.CaptureID {
			return 1
		}
		return 0
	})
}
