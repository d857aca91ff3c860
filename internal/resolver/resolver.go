// Package resolver is a client for the measurement-federation address
// service. The protocol is request/poll: the client invokes a capability,
// then polls for a receipt, exception or result. Capability refreshes are
// throttled to once every five seconds across all callers.
package resolver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"pathprobe/internal/model"
)

// ErrRequestTimeout is returned when a result could not be retrieved
// within the overall request timeout. Callers distinguish it because job
// generation depends on the resolver.
var ErrRequestTimeout = errors.New("resolver: could not complete address retrieval within timeout")

const defaultPollInterval = 5 * time.Second

// Address is one resolved target.
type Address struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

type capabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}

type invokeRequest struct {
	Capability string `json:"capability"`
	Count      int    `json:"count"`
}

type invokeResponse struct {
	Token string `json:"token"`
}

type resultResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Addresses []Address `json:"addresses,omitempty"`
}

// Client talks to one federation endpoint. The mutex guards the cached
// capability snapshot and the last-refreshed timestamp.
type Client struct {
	url            string
	httpClient     *http.Client
	requestTimeout time.Duration
	pollInterval   time.Duration

	mu           sync.Mutex
	lastRefresh  time.Time
	capabilities map[string]bool
}

// New creates a client and retrieves the endpoint's capabilities.
func New(url string, requestTimeout time.Duration) (*Client, error) {
	c := &Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		requestTimeout: requestTimeout,
		pollInterval:   defaultPollInterval,
		capabilities:   make(map[string]bool),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshLocked(); err != nil {
		return nil, fmt.Errorf("failed to retrieve capabilities from %s: %w", url, err)
	}
	return c, nil
}

// Request invokes the named capability for count addresses and polls until
// a result arrives or the request timeout elapses.
func (c *Client) Request(label string, count int) ([]model.Job, error) {
	c.mu.Lock()
	if !c.capabilities[label] {
		c.mu.Unlock()
		return nil, fmt.Errorf("endpoint %s does not support capability %q", c.url, label)
	}
	token, err := c.invoke(label, count)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.fetchResult(token)
}

// fetchResult polls for the result of an invocation. Each poll first
// refreshes the capability snapshot if it is stale, matching the service's
// expectation that clients keep their view current while waiting.
func (c *Client) fetchResult(token string) ([]model.Job, error) {
	for start := time.Now(); time.Since(start) < c.requestTimeout; {
		c.mu.Lock()
		if time.Since(c.lastRefresh) >= c.pollInterval {
			if err := c.refreshLocked(); err != nil {
				log.Printf("Resolver %s unreachable, retrying: %v", c.url, err)
			}
		}
		res, err := c.resultFor(token)
		c.mu.Unlock()

		if err == nil {
			switch res.Status {
			case "exception":
				return nil, fmt.Errorf("resolver exception: %s", res.Message)
			case "result":
				jobs := make([]model.Job, 0, len(res.Addresses))
				for _, addr := range res.Addresses {
					jobs = append(jobs, model.Job{Addr: addr.IP, Port: addr.Port})
				}
				return jobs, nil
			}
			// A receipt means the invocation is still running.
		}

		time.Sleep(c.pollInterval)
	}
	return nil, ErrRequestTimeout
}

func (c *Client) refreshLocked() error {
	resp, err := c.httpClient.Get(c.url + "/capabilities")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("capabilities request returned %s", resp.Status)
	}
	var caps capabilitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return err
	}
	c.capabilities = make(map[string]bool, len(caps.Capabilities))
	for _, label := range caps.Capabilities {
		c.capabilities[label] = true
	}
	c.lastRefresh = time.Now()
	return nil
}

func (c *Client) invoke(label string, count int) (string, error) {
	body, err := json.Marshal(invokeRequest{Capability: label, Count: count})
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Post(c.url+"/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to invoke capability %q: %w", label, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("invoke request returned %s", resp.Status)
	}
	var inv invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		return "", err
	}
	if inv.Token == "" {
		return "", errors.New("could not acquire request token")
	}
	return inv.Token, nil
}

func (c *Client) resultFor(token string) (*resultResponse, error) {
	resp, err := c.httpClient.Get(c.url + "/result?token=" + token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result request returned %s", resp.Status)
	}
	var res resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}
