// Package http exposes the scheduling and matchmaking core over JSON and a
// WebSocket change feed.
//
// Identity is asserted by the upstream gateway through the X-User-ID and
// optional X-User-Name headers; RequireIdentity turns them into an
// application.Principal. Routes:
//   - POST /polls, GET /polls/{id}, DELETE /polls/{id}: availability polls.
//   - PUT /polls/{id}/slots: toggles a cell, or sets it when "selected" is
//     present. Body: {"date","hour","selected"}.
//   - GET /polls/{id}/grid, GET /polls/{id}/best?limit=n: the aggregated
//     heatmap and the best cells.
//   - POST /lobby: joins the queue for {"topic","demo"}. 201 when matched,
//     202 when waiting.
//   - GET /lobby/{id}, POST /lobby/{id}/heartbeat, DELETE /lobby/{id}.
//   - GET /sessions/{id}, POST /sessions/{id}/cards/{index}/answer,
//     POST /sessions/{id}/chat, POST /sessions/{id}/end.
//   - GET /feed?key=poll:<id>|lobby:<id>|session:<id>: WebSocket stream of
//     feed.Event values. A "feed.lagged" event means events were dropped and
//     the client must refetch.
//   - GET /healthz, GET /metrics: unauthenticated.
//
// Request DTOs live alongside their handlers and are validated with
// go-playground/validator tags before reaching the services.
package http
