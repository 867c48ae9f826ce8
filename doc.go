// Package bililive provides a reconnecting client for Bilibili's live
// danmaku push protocol.
//
// Resolve a room's connection details with package builder and
// package bootstrap, then open the stream with package stream:
//
//	requester := bootstrap.NewRequester()
//	cfg, err := builder.New().
//		ByShortRoomID(ctx, requester, shortRoomID).
//		FetchServerConfig(ctx, requester).
//		Build()
//	rs, err := stream.ConnectWithRetry(ctx, cfg)
//	for {
//		p, err := rs.Recv(ctx)
//		...
//	}
//
// stream.Connect opens the same handshake but never reconnects,
// surfacing any WebSocket or I/O error from Recv directly.
//
// Package packet implements the wire codec, package retry implements
// the reconnect backoff policy, and package send implements the
// separate chat-send HTTP API.
package bililive
