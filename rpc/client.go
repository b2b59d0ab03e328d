// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"net"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/imagecraft/internal/store"
)

// Client is a plan service client.
type Client struct {
	conn *jsonrpc2.Connection
	uid  UID
}

// Dial returns a Client connected to the plan service at addr on the
// provided network. Messages sent by the client carry uid.
func Dial(ctx context.Context, network, addr string, uid UID) (*Client, error) {
	conn, err := jsonrpc2.Dial(ctx, jsonrpc2.NetDialer(network, addr, net.Dialer{}), jsonrpc2.ConnectionOptions{})
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, uid: uid}, nil
}

// Who returns the version of the service.
func (c *Client) Who(ctx context.Context) (string, error) {
	var resp Message[string]
	err := c.conn.Call(ctx, Who, NewMessage(c.uid, None{})).Await(ctx, &resp)
	return resp.Body, err
}

// Plan requests a decimation plan for the encoded GIF in req.
func (c *Client) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	var resp Message[PlanResult]
	err := c.conn.Call(ctx, Plan, NewMessage(c.uid, req)).Await(ctx, &resp)
	return resp.Body, err
}

// Dump returns the plans held by the service's cache.
func (c *Client) Dump(ctx context.Context) ([]store.Entry, error) {
	var resp Message[[]store.Entry]
	err := c.conn.Call(ctx, Dump, NewMessage(c.uid, None{})).Await(ctx, &resp)
	return resp.Body, err
}

// Stop asks the service to terminate. Stop returns after the service has
// acknowledged the request.
func (c *Client) Stop(ctx context.Context) error {
	var resp Message[string]
	return c.conn.Call(ctx, Stop, NewMessage(c.uid, None{})).Await(ctx, &resp)
}

// Close closes the connection to the service.
func (c *Client) Close() error {
	return c.conn.Close()
}
