package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
)

// Fetch stages recorded on fetchError, so callers and logs can tell an
// expired token from a flaky network from a garbled body.
const (
	stageAuth    = "auth"
	stageNetwork = "network"
	stageDecode  = "decode"
)

// fetchError is any failure to pull one entity listing from the Mist cloud.
// It degrades the scrape cycle's status; it never crashes the process.
type fetchError struct {
	stage string
	err   error
}

func (e *fetchError) Error() string {
	return fmt.Sprintf("mist api %s failure: %v", e.stage, e.err)
}

func (e *fetchError) Unwrap() error { return e.err }

type site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// mistClient talks to the Mist cloud REST API. All calls carry the caller's
// context; the per-scrape deadline is applied by the exporter, not here.
type mistClient struct {
	baseURL    string
	token      string
	orgID      string
	siteFilter *regexp.Regexp
	pageLimit  int
	httpClient *http.Client
}

func newMistClient(baseURL, token, orgID string, siteFilter *regexp.Regexp, pageLimit int) *mistClient {
	return &mistClient{
		baseURL:    baseURL,
		token:      token,
		orgID:      orgID,
		siteFilter: siteFilter,
		pageLimit:  pageLimit,
		httpClient: http.DefaultClient,
	}
}

// getPage performs one authenticated GET and decodes the body into out.
func (c *mistClient) getPage(ctx context.Context, path string, page int, out interface{}) error {
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, url.Values{
		"limit": []string{fmt.Sprint(c.pageLimit)},
		"page":  []string{fmt.Sprint(page)},
	}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &fetchError{stage: stageNetwork, err: err}
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &fetchError{stage: stageNetwork, err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &fetchError{stage: stageAuth, err: fmt.Errorf("status %d from %s", resp.StatusCode, path)}
	case resp.StatusCode != http.StatusOK:
		return &fetchError{stage: stageNetwork, err: fmt.Errorf("expected status 200, got %d from %s", resp.StatusCode, path)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &fetchError{stage: stageDecode, err: err}
	}
	return nil
}

// getRecords follows page numbers until a short page, concatenating results
// in response order. Elements that are not JSON objects come back as nil
// records so the normalizer can count them as skips instead of the whole
// listing failing.
func (c *mistClient) getRecords(ctx context.Context, path string) ([]rawRecord, error) {
	var records []rawRecord
	for page := 1; ; page++ {
		var body []json.RawMessage
		if err := c.getPage(ctx, path, page, &body); err != nil {
			return nil, err
		}
		for _, raw := range body {
			var rec rawRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				records = append(records, nil)
				continue
			}
			records = append(records, rec)
		}
		if len(body) < c.pageLimit {
			return records, nil
		}
	}
}

// sites lists the org's sites, filtered by the site name regex.
func (c *mistClient) sites(ctx context.Context) ([]site, error) {
	var all []site
	for page := 1; ; page++ {
		var body []site
		if err := c.getPage(ctx, "/orgs/"+c.orgID+"/sites", page, &body); err != nil {
			return nil, err
		}
		for _, s := range body {
			if c.siteFilter.MatchString(s.Name) {
				all = append(all, s)
			}
		}
		if len(body) < c.pageLimit {
			return all, nil
		}
	}
}

// fetchDevices returns the raw AP stats records of every matching site, in
// site order then response order.
func (c *mistClient) fetchDevices(ctx context.Context) ([]rawRecord, error) {
	sites, err := c.sites(ctx)
	if err != nil {
		return nil, err
	}
	var records []rawRecord
	for _, s := range sites {
		siteRecords, err := c.getRecords(ctx, "/sites/"+s.ID+"/stats/devices")
		if err != nil {
			return nil, err
		}
		records = append(records, siteRecords...)
	}
	return records, nil
}

// fetchEdges returns the raw Mist Edge stats records of the org.
func (c *mistClient) fetchEdges(ctx context.Context) ([]rawRecord, error) {
	return c.getRecords(ctx, "/orgs/"+c.orgID+"/stats/mxedges")
}

// whoami probes /self, which any valid token may call. Used at startup to
// catch bad credentials before the first scrape.
func (c *mistClient) whoami(ctx context.Context) (string, error) {
	var self struct {
		Email string `json:"email"`
	}
	if err := c.getPage(ctx, "/self", 1, &self); err != nil {
		return "", err
	}
	return self.Email, nil
}
