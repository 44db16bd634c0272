// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workflow is the HTTP transport for the workflow run endpoint.
//
// A Client posts one streaming run request and hands back the response body
// for the caller to decode. Status handling is done here: 401 becomes
// ErrUnauthorized; any other non-2xx status, or a 2xx without a body,
// becomes a *RequestError carrying the server's detail message.
//
// # Usage
//
//	client := workflow.NewClient().WithRateLimit(cfg.API.RequestsPerMinute)
//	body, err := client.Run(ctx, workflow.RunRequest{
//		BaseURL: s.BaseURL,
//		APIKey:  s.APIKey,
//		Query:   "hello",
//		User:    ids.ClientID(),
//	})
//	if err != nil {
//		return err
//	}
//	defer body.Close()
//
// The streaming client has no timeout; cancel ctx to abandon a request.
package workflow
