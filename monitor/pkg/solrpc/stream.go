package solrpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// LogBundle is one transaction's logs as delivered by the subscription.
type LogBundle struct {
	Signature solana.Signature
	Slot      uint64
	Err       any
	Logs      []string
}

// LogStream yields log bundles until closed or broken.
type LogStream interface {
	Recv(ctx context.Context) (*LogBundle, error)
	Close()
}

// Subscriber opens log streams filtered to one program.
type Subscriber interface {
	SubscribeLogs(ctx context.Context, program solana.PublicKey) (LogStream, error)
}

// WSSubscriber subscribes over the cluster's websocket endpoint.
type WSSubscriber struct {
	URL        string
	Commitment rpc.CommitmentType
}

func (s *WSSubscriber) SubscribeLogs(ctx context.Context, program solana.PublicKey) (LogStream, error) {
	client, err := ws.Connect(ctx, s.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.URL, err)
	}
	commitment := s.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	sub, err := client.LogsSubscribeMentions(program, commitment)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to subscribe to logs of %s: %w", program, err)
	}
	return &wsStream{client: client, sub: sub}, nil
}

type wsStream struct {
	client *ws.Client
	sub    *ws.LogSubscription
	once   sync.Once
}

func (s *wsStream) Recv(ctx context.Context) (*LogBundle, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return &LogBundle{
		Signature: res.Value.Signature,
		Slot:      res.Context.Slot,
		Err:       res.Value.Err,
		Logs:      res.Value.Logs,
	}, nil
}

func (s *wsStream) Close() {
	s.once.Do(func() {
		s.sub.Unsubscribe()
		s.client.Close()
	})
}
