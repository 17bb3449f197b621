package syncmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-dev/aura-sync/internal/httpkit"
	"github.com/halcyon-dev/aura-sync/internal/limbic"
	"github.com/halcyon-dev/aura-sync/internal/syncenc"
	"github.com/halcyon-dev/aura-sync/internal/syncstore"
)

// lastExchangeKey is the sync_state key holding the server time of the
// most recent completed exchange (the high-water mark).
const lastExchangeKey = "last_exchange"

// maxResponseBytes caps how much of a sync response we will read.
const maxResponseBytes = 64 << 20

// syncRequest is the plaintext form of one outbound exchange, encrypted
// before transmission.
type syncRequest struct {
	ExchangeID string                  `json:"exchange_id"`
	SentAt     time.Time               `json:"sent_at"`
	Since      string                  `json:"since,omitempty"`
	State      limbic.Vector           `json:"state"`
	Memories   []syncstore.MemoryEntry `json:"memories,omitempty"`
	Artifacts  []syncstore.Artifact    `json:"artifacts,omitempty"`
}

// syncResponse is the decrypted form of the server's reply.
type syncResponse struct {
	ExchangeID string                  `json:"exchange_id"`
	ServerTime time.Time               `json:"server_time"`
	State      *limbic.Delta           `json:"state,omitempty"`
	Memories   []syncstore.MemoryEntry `json:"memories,omitempty"`
	Artifacts  []syncstore.Artifact    `json:"artifacts,omitempty"`
}

// Exchange is the production Reconciler: it gathers local state and
// dirty rows, encrypts them, POSTs to <endpoint>/sync, decrypts the
// reply, and applies the remote side's state and rows locally.
type Exchange struct {
	endpoint string
	cipher   *syncenc.Cipher
	client   *http.Client
	local    *syncstore.Store
	state    *limbic.Store
	logger   *slog.Logger
}

// NewExchange builds the production reconciler. The base64Key must be
// a valid key per syncenc.New; client may be nil for the httpkit
// default.
func NewExchange(endpoint, base64Key string, local *syncstore.Store, state *limbic.Store, client *http.Client, logger *slog.Logger) (*Exchange, error) {
	cipher, err := syncenc.New(base64Key)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = httpkit.NewClient(
			httpkit.WithTimeout(2*time.Minute),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchange{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		cipher:   cipher,
		client:   client,
		local:    local,
		state:    state,
		logger:   logger,
	}, nil
}

// Reconcile implements Reconciler. Any failure leaves local rows dirty
// so the next exchange retries them.
func (e *Exchange) Reconcile(ctx context.Context) error {
	memories, err := e.local.DirtyMemories()
	if err != nil {
		return fmt.Errorf("gather memories: %w", err)
	}
	artifacts, err := e.local.DirtyArtifacts()
	if err != nil {
		return fmt.Errorf("gather artifacts: %w", err)
	}
	since, err := e.local.GetSyncState(lastExchangeKey)
	if err != nil {
		return fmt.Errorf("read high-water mark: %w", err)
	}

	req := syncRequest{
		ExchangeID: uuid.NewString(),
		SentAt:     time.Now().UTC(),
		Since:      since,
		State:      e.state.Read(),
		Memories:   memories,
		Artifacts:  artifacts,
	}

	resp, err := e.roundTrip(ctx, req)
	if err != nil {
		return err
	}

	if resp.State != nil {
		vec := e.state.Apply(*resp.State)
		e.logger.Debug("remote state applied",
			"trust", vec.Trust,
			"warmth", vec.Warmth,
			"arousal", vec.Arousal,
			"valence", vec.Valence,
			"posture", string(vec.Posture),
		)
	}
	for _, m := range resp.Memories {
		if err := e.local.ApplyRemoteMemory(m); err != nil {
			return err
		}
	}
	for _, a := range resp.Artifacts {
		if err := e.local.ApplyRemoteArtifact(a); err != nil {
			return err
		}
	}

	// Pushed rows only become clean after the whole reply applied, so
	// a partial failure re-pushes rather than losing data.
	memIDs := make([]string, len(memories))
	for i, m := range memories {
		memIDs[i] = m.ID
	}
	if err := e.local.MarkMemoriesClean(memIDs); err != nil {
		return err
	}
	artIDs := make([]string, len(artifacts))
	for i, a := range artifacts {
		artIDs[i] = a.ID
	}
	if err := e.local.MarkArtifactsClean(artIDs); err != nil {
		return err
	}

	if !resp.ServerTime.IsZero() {
		if err := e.local.SetSyncState(lastExchangeKey, resp.ServerTime.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}

	e.logger.Debug("exchange applied",
		"exchange_id", req.ExchangeID,
		"pushed_memories", len(memories),
		"pushed_artifacts", len(artifacts),
		"received_memories", len(resp.Memories),
		"received_artifacts", len(resp.Artifacts),
	)
	return nil
}

// roundTrip encrypts the request, POSTs it, and decrypts the reply.
func (e *Exchange) roundTrip(ctx context.Context, req syncRequest) (*syncResponse, error) {
	plaintext, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	sealed, err := e.cipher.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/sync", bytes.NewReader(sealed))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post sync: %w", err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 4096)

	if httpResp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(httpResp.Body, 2048)
		return nil, fmt.Errorf("sync endpoint returned %d: %s", httpResp.StatusCode, body)
	}

	sealedResp, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	opened, err := e.cipher.Open(sealedResp)
	if err != nil {
		return nil, fmt.Errorf("decrypt response: %w", err)
	}

	var resp syncResponse
	if err := json.Unmarshal(opened, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}
