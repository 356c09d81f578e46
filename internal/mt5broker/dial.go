// Package mt5broker adapts the MT5 gRPC API (git.mtapi.io/root/mrpc-proto/mt5/libraries/go)
// to the engine's brokerport.Port contract. The dialing and session
// bookkeeping here are adapted from the upstream MT5Account helper: TLS
// transport credentials, keepalive, and a bounded connect backoff.
package mt5broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	pb "git.mtapi.io/root/mrpc-proto/mt5/libraries/go"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// requestRateLimit bounds how often this session calls out to the MT5
// server, independent of the engine's own tick cadence — several cycles on
// the same symbol can each want a call in the same tick.
const requestRateLimit = rate.Limit(30)
const requestBurst = 10

// Broker is a single MT5 account session implementing brokerport.Port.
type Broker struct {
	user       uint64
	password   string
	grpcServer string
	sessionID  uuid.UUID

	conn    *grpc.ClientConn
	limiter *rate.Limiter

	trade  pb.TradeFunctionsClient
	market pb.MarketInfoClient
	helper pb.TradingHelperClient
}

// Dial establishes the gRPC session (adapted from NewMT5Account: TLS
// credentials with SNI inferred from the server host, a 1.6x exponential
// backoff capped at 3s, and keepalive pings every 20s).
func Dial(ctx context.Context, user uint64, password, grpcServer string) (*Broker, error) {
	if grpcServer == "" {
		grpcServer = "mt5.mrpc.pro:443"
	}

	host := grpcServer
	if strings.Contains(host, ":") {
		if h, _, err := net.SplitHostPort(grpcServer); err == nil {
			host = h
		}
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if ip := net.ParseIP(host); ip == nil && host != "" {
		tlsCfg.ServerName = host
	}

	dctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	bcfg := backoff.Config{
		BaseDelay:  200 * time.Millisecond,
		Multiplier: 1.6,
		Jitter:     0.2,
		MaxDelay:   3 * time.Second,
	}
	kp := keepalive.ClientParameters{
		Time:                20 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.DialContext(dctx, grpcServer,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)),
		grpc.WithBlock(),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: bcfg, MinConnectTimeout: 5 * time.Second}),
		grpc.WithKeepaliveParams(kp),
	)
	if err != nil {
		return nil, fmt.Errorf("mt5broker: dial %s: %w", grpcServer, err)
	}

	return &Broker{
		user:       user,
		password:   password,
		grpcServer: grpcServer,
		sessionID:  uuid.New(),
		conn:       conn,
		limiter:    rate.NewLimiter(requestRateLimit, requestBurst),
		trade:      pb.NewTradeFunctionsClient(conn),
		market:     pb.NewMarketInfoClient(conn),
		helper:     pb.NewTradingHelperClient(conn),
	}, nil
}

// Close tears down the underlying gRPC channel.
func (b *Broker) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// headers stamps the session id the same way the upstream client does, so
// the server can correlate calls to this session.
func (b *Broker) headers() metadata.MD {
	return metadata.Pairs("id", b.sessionID.String())
}

// outgoing stamps the session header and blocks until the per-session
// token bucket admits another call, so a tick touching many cycles on the
// same symbol can't burst the MT5 server.
func (b *Broker) outgoing(ctx context.Context) context.Context {
	_ = b.limiter.Wait(ctx)
	return metadata.NewOutgoingContext(ctx, b.headers())
}
