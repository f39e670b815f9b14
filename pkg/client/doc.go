/*
Package client provides a Go client library for the drover REST API.

The client wraps the HTTP API with typed methods that reuse the server's
own request and view structs from pkg/api, so the wire contract has one
definition. It is the programmatic counterpart to driving the API with
curl: submit, inspect, list, cancel, dashboard, events and the health
probes.

# Architecture

	┌──────────────────── APPLICATION CODE ─────────────────────┐
	│                                                            │
	│  c := client.New("http://localhost:8088")                  │
	│  resp, err := c.SubmitJob(ctx, &api.SubmitRequest{...})    │
	│                                                            │
	└──────────────────────────┬─────────────────────────────────┘
	                           │
	┌──────────────────────────▼──── pkg/client ─────────────────┐
	│                                                            │
	│  Client                                                    │
	│   - one method per endpoint, context-first                 │
	│   - encodes api.SubmitRequest, decodes api.JobView etc.    │
	│   - non-2xx responses become *APIError                     │
	│                                                            │
	└──────────────────────────┬─────────────────────────────────┘
	                           │ HTTP (JSON)
	                           ▼
	                   drover API server

# Usage

Submitting and watching a job:

	c := client.New("http://localhost:8088")

	resp, err := c.SubmitJob(ctx, &api.SubmitRequest{
		Name:        "train",
		Account:     "research",
		Script:      "#!/bin/bash\n./train.sh\n",
		CPUsPerTask: 4,
	})
	if err != nil {
		log.Fatal(err)
	}

	job, err := c.GetJob(ctx, resp.JobID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("job %d: %s (elapsed %s)\n", job.JobID, job.State, job.Time.Elapsed)

Listing and cancelling:

	list, err := c.ListJobs(ctx, client.ListOptions{State: "running", Limit: 50})
	...
	cancelled, err := c.CancelJob(ctx, resp.JobID)

# Error Handling

Every non-2xx response is returned as *APIError carrying the status code
and the server's {"error": ...} message:

	_, err := c.GetJob(ctx, 42)
	if client.IsNotFound(err) {
		// job does not exist
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 400 {
		// rejected request; apiErr.Message says why
	}

Ready is the one exception: a 503 from /ready is a meaningful "not
ready" answer and decodes into api.ReadyResponse instead of erroring,
so deployment scripts can report which check failed.

# Thread Safety

A Client holds only its base URL and an http.Client; it is safe for
concurrent use. Create one per server and share it.

# Integration Points

This package integrates with:

  - pkg/api: request and view structs (the wire contract)
  - cmd/drover: operator tooling built on these calls
  - test/integration: end-to-end pipeline tests drive the system
    through this client

# Design Patterns

Client Pattern:
  - Single struct per server, one typed method per endpoint
  - Context-first signatures; the http.Client timeout is the outer bound

Shared Contract:
  - No duplicated DTOs; the server's structs are the schema

# Troubleshooting

Connection Refused:
  - Error: "connection refused"
  - Solution: check the API server is running and the base URL is right

Decode Failures:
  - Error: "failed to decode response"
  - Solution: base URL likely points at something other than a drover
    API server (a proxy error page, for example)

# See Also

  - pkg/api for the server-side implementation and view types
  - test/integration for full-pipeline usage
*/
package client
