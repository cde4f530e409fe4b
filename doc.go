// Package livechatapi implements the livechat-api service which connects
// operators to end-user conversations over WebSocket.
//
// The service provides:
//   - Operator authentication on the first frame (JWT, JWKS or dev bypass)
//   - Per-user rooms fanned out across instances through Redis pub/sub
//   - Presence, unread counters and read markers shared in Redis
//   - Session lifecycle (claim, transfer, close, handoff) with SLA alerts
//   - Internal HTTP endpoints for inbound ingestion and targeted broadcast
package livechatapi
