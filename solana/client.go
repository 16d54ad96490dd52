package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Sentinel failures of the payment path. Wrapped errors carry detail; callers
// branch with errors.Is.
var (
	// ErrRPCUnavailable marks transport-level failures talking to the ledger.
	ErrRPCUnavailable = errors.New("solana: rpc unavailable")
	// ErrRecipientAccountMissing means the recipient has no token account for
	// the mint, so a transfer would fail on-ledger.
	ErrRecipientAccountMissing = errors.New("solana: recipient token account missing")
	// ErrInsufficientBalance means the payer's token account cannot cover the
	// transfer.
	ErrInsufficientBalance = errors.New("solana: insufficient token balance")
	// ErrTxNotFound means the ledger does not know the signature yet.
	ErrTxNotFound = errors.New("solana: transaction not found")
)

const defaultRPCTimeout = 10 * time.Second

// Client is a minimal Solana JSON-RPC client covering the calls the payment
// flow needs.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

// ClientOption adjusts a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client, used by tests and by
// services that share a transport.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient targets a JSON-RPC endpoint such as https://api.devnet.solana.com.
func NewClient(rpcURL string, opts ...ClientOption) *Client {
	c := &Client{
		rpcURL: strings.TrimRight(rpcURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultRPCTimeout,
			Transport: otelhttp.NewTransport(nil),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("solana: rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call posts one JSON-RPC request. Transport and HTTP-level failures wrap
// ErrRPCUnavailable; JSON-RPC error objects come back as *rpcError.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRPCUnavailable, method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrRPCUnavailable, method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrRPCUnavailable, method, resp.StatusCode)
	}
	var parsed rpcResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return parsed.Error
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// LatestBlockhash fetches a finalized recent blockhash for message building.
func (c *Client) LatestBlockhash(ctx context.Context) (Hash, error) {
	var result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	params := []any{map[string]string{"commitment": "finalized"}}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return Hash{}, err
	}
	hash, err := ParseHash(result.Value.Blockhash)
	if err != nil {
		return Hash{}, err
	}
	return hash, nil
}

// TokenAccountBalance returns the raw token balance of an account in minor
// units. A JSON-RPC error is how the ledger reports an account that does not
// exist; callers decide what that means for them.
func (c *Client) TokenAccountBalance(ctx context.Context, account PublicKey) (uint64, error) {
	var result struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	}
	params := []any{account.String(), map[string]string{"commitment": "confirmed"}}
	if err := c.call(ctx, "getTokenAccountBalance", params, &result); err != nil {
		return 0, err
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

// TokenBalance is one entry of a transaction's pre/post token balance meta.
type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals uint8  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// TransactionMeta is the status and balance movement of a processed
// transaction.
type TransactionMeta struct {
	Err               any            `json:"err"`
	Fee               uint64         `json:"fee"`
	PreBalances       []uint64       `json:"preBalances"`
	PostBalances      []uint64       `json:"postBalances"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

// TransactionResult is a processed transaction as reported by getTransaction.
type TransactionResult struct {
	Slot      uint64           `json:"slot"`
	BlockTime *int64           `json:"blockTime"`
	Meta      *TransactionMeta `json:"meta"`
}

// Transaction looks a signature up at confirmed commitment. ErrTxNotFound
// means the ledger has not (yet) recorded it.
func (c *Client) Transaction(ctx context.Context, signature string) (*TransactionResult, error) {
	params := []any{signature, map[string]any{
		"encoding":                       "json",
		"commitment":                     "confirmed",
		"maxSupportedTransactionVersion": 0,
	}}
	var result *TransactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, signature)
	}
	return result, nil
}

// ConfirmTransfer checks that a settled signature really moved at least
// minAmount minor units of mint to the recipient owner. The token-balance
// delta is summed across the recipient's accounts so wrapped or split
// transfers still count.
func (c *Client) ConfirmTransfer(ctx context.Context, signature string, recipientOwner, mint PublicKey, minAmount uint64) error {
	tx, err := c.Transaction(ctx, signature)
	if err != nil {
		return err
	}
	if tx.Meta == nil {
		return fmt.Errorf("solana: transaction %s carries no meta", signature)
	}
	if tx.Meta.Err != nil {
		return fmt.Errorf("solana: transaction %s failed on-ledger: %v", signature, tx.Meta.Err)
	}
	owner := recipientOwner.String()
	mintStr := mint.String()
	balance := func(entries []TokenBalance) (int64, error) {
		var total int64
		for _, entry := range entries {
			if entry.Owner != owner || entry.Mint != mintStr {
				continue
			}
			amount, err := strconv.ParseInt(entry.UITokenAmount.Amount, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse token amount %q: %w", entry.UITokenAmount.Amount, err)
			}
			total += amount
		}
		return total, nil
	}
	pre, err := balance(tx.Meta.PreTokenBalances)
	if err != nil {
		return err
	}
	post, err := balance(tx.Meta.PostTokenBalances)
	if err != nil {
		return err
	}
	delta := post - pre
	if delta < 0 || uint64(delta) < minAmount {
		return fmt.Errorf("solana: transaction %s moved %d minor units to %s, want at least %d", signature, delta, owner, minAmount)
	}
	return nil
}
