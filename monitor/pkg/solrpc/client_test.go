package solrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/lolly/utils/pkg/retry"
	lollytesting "github.com/malbeclabs/lolly/utils/pkg/testing"
)

type mockRPC struct {
	getSignaturesFunc  func(context.Context, solana.PublicKey, *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	getTransactionFunc func(context.Context, solana.Signature, *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	getAccountFunc     func(context.Context, solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

func (m *mockRPC) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	if m.getSignaturesFunc != nil {
		return m.getSignaturesFunc(ctx, account, opts)
	}
	return nil, nil
}

func (m *mockRPC) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if m.getTransactionFunc != nil {
		return m.getTransactionFunc(ctx, sig, opts)
	}
	return nil, rpc.ErrNotFound
}

func (m *mockRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if m.getAccountFunc != nil {
		return m.getAccountFunc(ctx, account)
	}
	return nil, rpc.ErrNotFound
}

func newTestClient(t *testing.T, m *mockRPC) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Logger: lollytesting.NewLogger(),
		RPC:    m,
		Retry:  retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

func TestLolly_SolRPC_Config_Validate(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	require.EqualError(t, cfg.Validate(), "logger is required")
	cfg.Logger = lollytesting.NewLogger()
	require.EqualError(t, cfg.Validate(), "rpc is required")
	cfg.RPC = &mockRPC{}
	require.NoError(t, cfg.Validate())
	require.Equal(t, retry.DefaultConfig().MaxAttempts, cfg.Retry.MaxAttempts)
	require.Equal(t, rpc.CommitmentConfirmed, cfg.Commitment)
}

func TestLolly_SolRPC_Signatures_PassesBoundsAndRetries(t *testing.T) {
	t.Parallel()
	program := solana.NewWallet().PublicKey()
	before, until := solana.Signature{1}, solana.Signature{2}

	calls := 0
	c := newTestClient(t, &mockRPC{
		getSignaturesFunc: func(_ context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
			calls++
			require.Equal(t, program, account)
			require.Equal(t, before, opts.Before)
			require.Equal(t, until, opts.Until)
			require.Equal(t, 25, *opts.Limit)
			if calls == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return []*rpc.TransactionSignature{{Signature: solana.Signature{3}, Slot: 7}}, nil
		},
	})

	sigs, err := c.Signatures(context.Background(), program, before, until, 25)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, sigs, 1)
	require.EqualValues(t, 7, sigs[0].Slot)
}

func TestLolly_SolRPC_Signatures_NonRetryable(t *testing.T) {
	t.Parallel()
	calls := 0
	c := newTestClient(t, &mockRPC{
		getSignaturesFunc: func(context.Context, solana.PublicKey, *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
			calls++
			return nil, errors.New("invalid param")
		},
	})
	_, err := c.Signatures(context.Background(), solana.NewWallet().PublicKey(), solana.Signature{}, solana.Signature{}, 0)
	require.ErrorContains(t, err, "invalid param")
	require.Equal(t, 1, calls)
}

func TestLolly_SolRPC_Transaction_Converts(t *testing.T) {
	t.Parallel()
	bt := solana.UnixTimeSeconds(1_700_000_000)
	c := newTestClient(t, &mockRPC{
		getTransactionFunc: func(_ context.Context, _ solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
			require.NotNil(t, opts.MaxSupportedTransactionVersion)
			return &rpc.GetTransactionResult{
				Slot:      42,
				BlockTime: &bt,
				Meta: &rpc.TransactionMeta{
					Err:         map[string]any{"InstructionError": []any{0, "x"}},
					LogMessages: []string{"Program log: hi"},
				},
			}, nil
		},
	})
	tx, err := c.Transaction(context.Background(), solana.Signature{5})
	require.NoError(t, err)
	require.Equal(t, solana.Signature{5}, tx.Signature)
	require.EqualValues(t, 42, tx.Slot)
	require.EqualValues(t, 1_700_000_000, tx.BlockTime)
	require.Equal(t, []string{"Program log: hi"}, tx.Logs)
	require.NotNil(t, tx.Err)
}

func TestLolly_SolRPC_AccountData(t *testing.T) {
	t.Parallel()
	present := solana.NewWallet().PublicKey()
	c := newTestClient(t, &mockRPC{
		getAccountFunc: func(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			if account.Equals(present) {
				return &rpc.GetAccountInfoResult{Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes([]byte{1, 2, 3})}}, nil
			}
			return nil, rpc.ErrNotFound
		},
	})
	data, err := c.AccountData(context.Background(), present)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)

	data, err = c.AccountData(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.Nil(t, data)
}
