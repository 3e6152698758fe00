package scanners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/yourorg/scan-aggregator/internal/model"
	"go.uber.org/zap"
)

const (
	sonarMetricKeys = "bugs,vulnerabilities,code_smells,coverage,duplicated_lines_density,ncloc,complexity"
	sonarPageSize   = "500"
	maxSonarBody    = 32 << 20
)

var ErrProjectNotFound = errors.New("sonar project not found")

// Sonar reads measures and open issues of an already analysed project from the
// SonarCloud (or SonarQube) web API.
type Sonar struct {
	host   string
	token  string
	org    string
	client *retryablehttp.Client
	log    *zap.SugaredLogger
}

func NewSonar(host, token, org string, timeout time.Duration, log *zap.SugaredLogger) *Sonar {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient = &http.Client{Timeout: timeout}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sonar{host: strings.TrimRight(host, "/"), token: token, org: org, client: rc, log: log}
}

func (s *Sonar) Tool() model.ToolID { return model.ToolSonar }

// Scan returns a document of the form {"component": {...measures}, "issues": [...]}.
// Issues are best effort; measures are not.
func (s *Sonar) Scan(ctx context.Context, t Target) (Result, error) {
	if t.ProjectKey == "" {
		return Result{}, fmt.Errorf("sonar: %w: no project key", ErrNotConfigured)
	}
	if s.host == "" {
		return Result{}, fmt.Errorf("sonar: %w: no host", ErrNotConfigured)
	}

	var doc struct {
		Component json.RawMessage `json:"component,omitempty"`
		Issues    json.RawMessage `json:"issues,omitempty"`
	}

	body, err := s.get(ctx, "/api/measures/component", url.Values{
		"component":  {t.ProjectKey},
		"metricKeys": {sonarMetricKeys},
	})
	if err != nil {
		return Result{}, err
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Result{}, fmt.Errorf("sonar measures: %w", err)
	}

	q := url.Values{
		"componentKeys": {t.ProjectKey},
		"resolved":      {"false"},
		"ps":            {sonarPageSize},
	}
	if s.org != "" {
		q.Set("organization", s.org)
	}
	if body, err := s.get(ctx, "/api/issues/search", q); err != nil {
		s.log.Warnf("sonar %s: issues unavailable: %v", t.ProjectKey, err)
	} else if err := json.Unmarshal(body, &doc); err != nil {
		s.log.Warnf("sonar %s: issues response: %v", t.ProjectKey, err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return Result{}, err
	}
	return Result{Tool: model.ToolSonar, Output: out}, nil
}

func (s *Sonar) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.host+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.SetBasicAuth(s.token, "")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sonar %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("sonar %s: %w", path, ErrProjectNotFound)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("sonar %s: unexpected status %s", path, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSonarBody))
}
