// Package pool implements the HTTP client side of the Burst pool mining
// protocol: polling for mining info, detecting round changes, broadcasting
// derived work to subscribed workers, and submitting winning nonces.
//
// Grounded on stratum/client.go's Client shape (mutex-guarded state,
// logrus-logged RPC calls) and original_source/src/pool.rs's Pool (mutex
// scope: compare-and-swap the generation signature under lock, HTTP calls
// and subscriber sends outside that lock).
package pool

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Polyomino/burst-rminer/internal/scoop"
)

// PollInterval is the fixed delay between getMiningInfo polls, regardless
// of whether the previous poll succeeded.
const PollInterval = 5 * time.Second

// MiningInfo is one round's mining parameters as reported by the pool.
type MiningInfo struct {
	GenerationSignature   string
	BaseTarget            uint64
	Height                uint64
	TargetDeadline        uint64
	RequestProcessingTime int64
}

// wireMiningInfo mirrors the pool's JSON shape, where baseTarget and height
// are tolerated as either JSON numbers or JSON strings.
type wireMiningInfo struct {
	GenerationSignature   string      `json:"generationSignature"`
	BaseTarget            looseUint64 `json:"baseTarget"`
	Height                looseUint64 `json:"height"`
	TargetDeadline        uint64      `json:"targetDeadline"`
	RequestProcessingTime int64       `json:"requestProcessingTime"`
}

// looseUint64 decodes a uint64 from either a JSON number or a JSON string,
// matching spec.md §4.3's "stringified numeric fields are tolerated".
type looseUint64 uint64

func (v *looseUint64) UnmarshalJSON(data []byte) error {
	var asNumber uint64
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*v = looseUint64(asNumber)
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return fmt.Errorf("value is neither a number nor a string: %w", err)
	}
	n, err := strconv.ParseUint(asString, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing stringified uint64 %q: %w", asString, err)
	}
	*v = looseUint64(n)
	return nil
}

func (i wireMiningInfo) toMiningInfo() MiningInfo {
	return MiningInfo{
		GenerationSignature:  i.GenerationSignature,
		BaseTarget:            uint64(i.BaseTarget),
		Height:                uint64(i.Height),
		TargetDeadline:        i.TargetDeadline,
		RequestProcessingTime: i.RequestProcessingTime,
	}
}

// toScoopMiningInfo converts to the leaf-package shape scoop.DeriveWork
// consumes, decoding the hex generation signature into raw bytes.
func (i MiningInfo) toScoopMiningInfo() (scoop.MiningInfo, error) {
	raw, err := hex.DecodeString(i.GenerationSignature)
	if err != nil {
		return scoop.MiningInfo{}, fmt.Errorf("decoding generation signature: %w", err)
	}
	if len(raw) != 32 {
		return scoop.MiningInfo{}, fmt.Errorf(
			"generation signature is %d bytes, want 32", len(raw))
	}

	var sig [32]byte
	copy(sig[:], raw)

	return scoop.MiningInfo{
		GenerationSignature: sig,
		Height:              i.Height,
		BaseTarget:          i.BaseTarget,
		TargetDeadline:      i.TargetDeadline,
	}, nil
}

// Client is the pool HTTP client: it polls for mining info, fans out
// derived work to subscribers, and submits winning nonces.
type Client struct {
	baseURL string
	http    *http.Client

	mu             sync.Mutex
	lastMiningInfo *MiningInfo

	subMu       sync.Mutex
	subscribers []chan<- scoop.Work

	log *logrus.Entry
}

// NewClient builds a pool client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logrus.WithField("component", "pool"),
	}
}

// Subscribe registers a worker's inbox to receive every derived Work the
// poll loop produces, from this point forward.
func (c *Client) Subscribe(inbox chan<- scoop.Work) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, inbox)
}

// Run starts the poll loop and blocks until ctx is cancelled. Each
// iteration fetches mining info, and on a generation-signature change,
// derives and broadcasts new Work. Poll failures are logged and do not
// stop the loop.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	c.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	info, err := c.queryMiningInfo(ctx)
	if err != nil {
		c.log.WithError(err).Warn("failed to poll pool for mining info")
		return
	}

	changed := c.compareAndSwap(info)
	if !changed {
		return
	}

	work, err := info.toScoopMiningInfo()
	if err != nil {
		c.log.WithError(err).Error("failed to decode mining info for round derivation")
		return
	}

	derived, err := scoop.DeriveWork(work)
	if err != nil {
		c.log.WithError(err).Error("failed to derive round work")
		return
	}

	c.log.WithFields(logrus.Fields{
		"height":    info.Height,
		"scoop_num": derived.ScoopNum,
	}).Info("new mining round")

	c.broadcast(derived)
}

// compareAndSwap replaces the retained mining info under lock if, and only
// if, the generation signature changed. The lock is held only for this
// compare-and-swap, never across HTTP I/O or subscriber delivery, per
// spec.md §5.
func (c *Client) compareAndSwap(info MiningInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastMiningInfo != nil && c.lastMiningInfo.GenerationSignature == info.GenerationSignature {
		return false
	}
	c.lastMiningInfo = &info
	return true
}

// broadcast sends work to every subscriber. A single subscriber's inbox
// being full/blocked is not allowed to stall the others or the poll loop;
// subscriber inboxes are expected to be large enough (per spec.md §5,
// "unbounded single-slot-is-fine") that this send never blocks in
// practice, but a slow subscriber is best-effort dropped rather than
// allowed to wedge broadcast.
func (c *Client) broadcast(work scoop.Work) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subscribers {
		select {
		case sub <- work:
		default:
			c.log.Warn("subscriber inbox full, dropping round notification")
		}
	}
}

func (c *Client) queryMiningInfo(ctx context.Context) (MiningInfo, error) {
	u, err := c.buildURL("getMiningInfo", nil)
	if err != nil {
		return MiningInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return MiningInfo{}, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return MiningInfo{}, fmt.Errorf("requesting mining info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return MiningInfo{}, fmt.Errorf("reading mining info response: %w", err)
	}

	var wire wireMiningInfo
	if err := json.Unmarshal(body, &wire); err != nil {
		return MiningInfo{}, fmt.Errorf("decoding mining info: %w", err)
	}

	return wire.toMiningInfo(), nil
}

// Submit reports a candidate nonce to the pool and returns the raw response
// body.
func (c *Client) Submit(ctx context.Context, nonce, accountID uint64, secretPhrase string) (string, error) {
	params := url.Values{
		"accountId":    {strconv.FormatUint(accountID, 10)},
		"nonce":        {strconv.FormatUint(nonce, 10)},
		"secretPhrase": {secretPhrase},
	}

	u, err := c.buildURL("submitNonce", params)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building submit request: %w", err)
	}

	c.log.WithFields(logrus.Fields{"nonce": nonce, "account_id": accountID}).
		Info("submitting nonce")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting nonce: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading submit response: %w", err)
	}

	response := string(body)
	c.log.WithField("response", response).Info("submit response")

	return response, nil
}

func (c *Client) buildURL(requestType string, extra url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing pool url: %w", err)
	}
	u.Path = joinPath(u.Path, "burst")

	q := u.Query()
	q.Set("requestType", requestType)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func joinPath(base, elem string) string {
	if base == "" {
		return "/" + elem
	}
	if base[len(base)-1] == '/' {
		return base + elem
	}
	return base + "/" + elem
}
