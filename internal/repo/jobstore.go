package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/incident-console/internal/cache"
	"github.com/miradorstack/incident-console/internal/config"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/utils"
)

// JobStoreClient talks to the job store, the recent-incident source, the
// cluster lookup endpoints and the batch scanner, which share one gateway.
type JobStoreClient struct {
	client         *jsonClient
	scanClient     *jsonClient
	jobsPath       string
	incidentsPath  string
	clustersPath   string
	namespacesPath string
	podsPath       string
	scanPath       string
	cache          cache.Provider
	lookupTTL      time.Duration
	lookups        singleflight.Group
	logger         *slog.Logger
}

// NewJobStoreClient constructs a JobStoreClient. Namespace and pod lookups are
// cached for lookupTTL when a cache is supplied.
func NewJobStoreClient(cfg config.JobStoreClientConfig, lookupTTL time.Duration, opts ...Option) *JobStoreClient {
	o := buildOptions(cfg.Timeout, opts)

	scanOpts := o
	if scanOpts.httpClient.Timeout != 0 && cfg.ScanTimeout > scanOpts.httpClient.Timeout {
		clone := *scanOpts.httpClient
		clone.Timeout = cfg.ScanTimeout
		scanOpts.httpClient = &clone
	}

	return &JobStoreClient{
		client:         newJSONClient(cfg.BaseURL, cfg.Token, o),
		scanClient:     newJSONClient(cfg.BaseURL, cfg.Token, scanOpts),
		jobsPath:       cfg.JobsPath,
		incidentsPath:  cfg.IncidentsPath,
		clustersPath:   cfg.ClustersPath,
		namespacesPath: cfg.NamespacesPath,
		podsPath:       cfg.PodsPath,
		scanPath:       cfg.ScanPath,
		cache:          o.cache,
		lookupTTL:      lookupTTL,
		logger:         o.logger,
	}
}

// ListJobs fetches the canonical job list.
func (c *JobStoreClient) ListJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	var raw json.RawMessage
	if err := c.client.getJSON(ctx, "list jobs", c.client.resolvePath(c.jobsPath), nil, &raw); err != nil {
		return nil, err
	}
	jobs, err := DecodeJobs(raw)
	if err != nil {
		return nil, &utils.RemoteError{Op: "list jobs", Msg: "decode response", Err: err}
	}
	return jobs, nil
}

// CreateJob stores a new job.
func (c *JobStoreClient) CreateJob(ctx context.Context, spec models.JobSpec) (models.ScheduledJob, error) {
	var w jobWire
	if err := c.client.postJSON(ctx, "create job", c.client.resolvePath(c.jobsPath), specToWire(spec), &w); err != nil {
		return models.ScheduledJob{}, err
	}
	return jobFromWire(w), nil
}

// UpdateJob replaces the writable fields of job id. Some stores answer with
// the full list instead of the job; both shapes are accepted.
func (c *JobStoreClient) UpdateJob(ctx context.Context, id string, spec models.JobSpec) (models.ScheduledJob, error) {
	var raw json.RawMessage
	if err := c.client.putJSON(ctx, "update job", c.client.resolvePath(c.jobsPath, id), specToWire(spec), &raw); err != nil {
		return models.ScheduledJob{}, err
	}
	if len(raw) > 0 && raw[0] == '{' {
		var w jobWire
		if err := json.Unmarshal(raw, &w); err == nil && w.ID != "" {
			return jobFromWire(w), nil
		}
	}
	jobs, err := DecodeJobs(raw)
	if err != nil {
		return models.ScheduledJob{}, &utils.RemoteError{Op: "update job", Msg: "decode response", Err: err}
	}
	for _, job := range jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return models.ScheduledJob{}, &utils.RemoteError{Op: "update job", Msg: fmt.Sprintf("job %s missing from response", id)}
}

// DeleteJob removes job id. A 404 surfaces as a RemoteError with Status 404.
func (c *JobStoreClient) DeleteJob(ctx context.Context, id string) error {
	return c.client.delete(ctx, "delete job", c.client.resolvePath(c.jobsPath, id))
}

// RecentIncidents fetches the recent incident feed.
func (c *JobStoreClient) RecentIncidents(ctx context.Context) ([]models.Incident, error) {
	raw, err := c.FetchIncidentsPayload(ctx)
	if err != nil {
		return nil, err
	}
	incidents, err := DecodeIncidents(raw)
	if err != nil {
		return nil, &utils.RemoteError{Op: "recent incidents", Msg: "decode response", Err: err}
	}
	return incidents, nil
}

// FetchIncidentsPayload returns the undecoded recent-incident payload.
func (c *JobStoreClient) FetchIncidentsPayload(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.client.getJSON(ctx, "recent incidents", c.client.resolvePath(c.incidentsPath), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ListClusters returns the selectable clusters; wildcard entries are dropped.
func (c *JobStoreClient) ListClusters(ctx context.Context) ([]models.Cluster, error) {
	var resp struct {
		Clusters []struct {
			Name    string `json:"name"`
			Cluster string `json:"cluster"`
			Context string `json:"context"`
		} `json:"clusters"`
	}
	if err := c.client.getJSON(ctx, "list clusters", c.client.resolvePath(c.clustersPath), nil, &resp); err != nil {
		return nil, err
	}
	clusters := make([]models.Cluster, 0, len(resp.Clusters))
	for _, cl := range resp.Clusters {
		name := firstNonEmpty(cl.Name, cl.Cluster)
		if name == "" || name == "*" {
			continue
		}
		clusters = append(clusters, models.Cluster{Name: name, Context: firstNonEmpty(cl.Context, cl.Cluster)})
	}
	return clusters, nil
}

// ListNamespaces returns the namespaces of cluster.
func (c *JobStoreClient) ListNamespaces(ctx context.Context, cluster string) ([]string, error) {
	if strings.TrimSpace(cluster) == "" {
		return nil, utils.NewValidationError("cluster", "is required")
	}
	query := url.Values{"cluster": {cluster}}
	return c.lookup(ctx, "list namespaces", "namespaces:"+cluster, c.namespacesPath, query, "namespaces")
}

// ListPods returns the pods of namespace in cluster.
func (c *JobStoreClient) ListPods(ctx context.Context, cluster, namespace string) ([]string, error) {
	if strings.TrimSpace(cluster) == "" || strings.TrimSpace(namespace) == "" {
		return nil, utils.NewValidationError("namespace", "cluster and namespace are required")
	}
	query := url.Values{"cluster": {cluster}, "namespace": {namespace}}
	return c.lookup(ctx, "list pods", "pods:"+cluster+"/"+namespace, c.podsPath, query, "pods")
}

// lookup serves a cascade level from cache, collapsing concurrent misses for
// the same key into one request.
func (c *JobStoreClient) lookup(ctx context.Context, op, key, endpoint string, query url.Values, field string) ([]string, error) {
	cacheKey := "incident-console:lookup:" + key
	var cached []string
	if err := cache.GetJSON(ctx, c.cache, cacheKey, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("lookup cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	v, err, _ := c.lookups.Do(key, func() (any, error) {
		var resp map[string]json.RawMessage
		if err := c.client.getJSON(ctx, op, c.client.resolvePath(endpoint), query, &resp); err != nil {
			return nil, err
		}
		var names []string
		if raw, ok := resp[field]; ok {
			if err := json.Unmarshal(raw, &names); err != nil {
				return nil, &utils.RemoteError{Op: op, Msg: "decode response", Err: err}
			}
		}
		names = dedupeSorted(names)
		if c.lookupTTL > 0 {
			if err := cache.SetJSON(ctx, c.cache, cacheKey, names, c.lookupTTL); err != nil {
				c.logger.Warn("lookup cache write failed", slog.String("key", key), slog.Any("error", err))
			}
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// ScanLogs submits a batch scan and returns the raw response for normalisation.
func (c *JobStoreClient) ScanLogs(ctx context.Context, req models.ScanRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.scanClient.postJSON(ctx, "scan logs", c.scanClient.resolvePath(c.scanPath), scanRequestToWire(req), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
