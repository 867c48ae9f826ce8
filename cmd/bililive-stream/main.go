// Command bililive-stream connects to one Bilibili live room and
// prints every decoded packet to stdout until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/bililive-go/bililive/bootstrap"
	"github.com/bililive-go/bililive/builder"
	"github.com/bililive-go/bililive/packet"
	"github.com/bililive-go/bililive/stream"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		roomID uint64
		uid    uint64
		cookie string
	)

	cmd := &cobra.Command{
		Use:   "bililive-stream",
		Short: "Stream decoded danmaku packets from a Bilibili live room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), roomID, uid, cookie)
		},
	}

	cmd.Flags().Uint64Var(&roomID, "room", 0, "room ID to join (required)")
	cmd.Flags().Uint64Var(&uid, "uid", 0, "your own UID, optional")
	cmd.Flags().StringVar(&cookie, "cookie", "", "SESSDATA=...; bili_jct=...; cookie for an authenticated connection")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}

func run(ctx context.Context, roomID, uid uint64, cookie string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	requester := bootstrap.NewRequester()
	requester.Cookie = cookie

	cfg, err := builder.New(builder.WithUID(uid)).
		ByShortRoomID(ctx, requester, roomID).
		FetchServerConfig(ctx, requester).
		Build()
	if err != nil {
		return fmt.Errorf("build stream config: %w", err)
	}

	rs, err := stream.ConnectWithRetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer rs.Close()

	for {
		p, err := rs.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}
		printPacket(p)
	}
}

func printPacket(p *packet.Packet) {
	switch p.Op {
	case packet.OpHeartBeatResponse:
		if popularity, err := packet.AsInt32BE(p); err == nil {
			fmt.Printf("[popularity] %d\n", popularity)
		}
	case packet.OpNotification:
		fmt.Printf("[notification] %s\n", p.Body)
	case packet.OpRoomEnterResponse:
		fmt.Println("[room-enter] acknowledged")
	default:
		fmt.Printf("[%s] %s\n", p.Op, p.Body)
	}
}
