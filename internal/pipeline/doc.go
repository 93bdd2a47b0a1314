// Package pipeline runs ordered handler pipelines against a request context.
//
// Handlers report their outcome on the context instead of aborting the run:
//   - Success replaces the request event and the next handler sees the new one
//   - Failure is recorded and the pipeline continues
//   - Fatal is recorded, forces a 500 response and stops the pipeline
//
// A handler that returns an error is recorded as a Failure with the error text.
// A handler that panics is recorded as Fatal. The dispatcher inspects the
// aggregate status once the run completes.
//
// # Webhook Contract
//
// The webhook handler delegates to an external service:
//
//	POST <webhook_url>
//	Content-Type: application/json
//
//	{
//	  "requestEvent": { "clientRequest": { ... }, "payload": { ... } },
//	  "log": [ { "handlerId": "...", "status": "SUCCESS" }, ... ]
//	}
//
// Response:
//
//	{
//	  "outcome": "success" | "failure" | "fatal",
//	  "requestEvent": { ... },   // replaces the event on success
//	  "statusCode": 201,         // optional
//	  "headers": { "X-A": ["1"] }, // optional, merged
//	  "body": "...",             // optional
//	  "errorMessage": "..."      // failure only
//	}
package pipeline
