// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc provides the imagecraft JSON RPC 2 frame planning service.
package rpc

import (
	"time"

	"github.com/kortschak/imagecraft/decimate"
	"github.com/kortschak/imagecraft/internal/policy"
)

// Service methods.
const (
	Who  = "who"  // call Message[None] → Message[string] (version)
	Plan = "plan" // call Message[PlanRequest] → Message[PlanResult]
	Dump = "dump" // call Message[None] → Message[[]store.Entry]
	Stop = "stop" // notify any → nil, or call Message[None] → Message[string]
)

// JSON RPC error codes.
const (
	ErrCodeInvalidMessage = 1 // an RPC message is invalid
	// Invalid message sub-codes:
	ErrCodeMessageSyntax       = 11 // syntax
	ErrCodeMessageUnknownField = 12 // unknown field
	ErrCodeShortMessage        = 13 // truncation
	ErrCodeMessageType         = 14 // type mismatch
	ErrCodeMethod              = 15 // method mismatch
	ErrCodeParameters          = 16 // invalid parameters

	ErrCodeInvalidData = 3 // data sent in a call was invalid
	// Invalid data sub-codes:
	ErrCodeImage  = 36 // image data
	ErrCodeBudget = 37 // decode budget exceeded
	ErrCodePolicy = 38 // policy evaluation

	ErrCodeInternal = 4  // an internal error happened
	ErrCodeNoStore  = 41 // no data store
	ErrCodeStoreErr = 42 // store operation error
)

// Message is the message passing container.
type Message[T any] struct {
	Time time.Time `json:"time"`
	UID  UID       `json:"uid,omitempty"`
	Body T         `json:"body,omitempty"`
}

// UID is a component's UID.
type UID struct {
	Module  string `json:"module,omitempty"`
	Service string `json:"service,omitempty"`
}

func (u UID) String() string {
	if u.Service == "" {
		return u.Module
	}
	return u.Module + "." + u.Service
}

// NewMessage is a convenience Message constructor. It populates the Time
// field and ensures that the sender's UID is included in the message.
func NewMessage[T any](uid UID, body T) *Message[T] {
	return &Message[T]{
		Time: time.Now(),
		UID:  uid,
		Body: body,
	}
}

// PlanRequest is the body of a plan call. Data holds the encoded GIF.
// If Integrity is nil the server's configured policy is used to obtain
// the fidelity target.
type PlanRequest struct {
	ID        string   `json:"id"`
	Data      []byte   `json:"data"`
	Integrity *float64 `json:"integrity,omitempty"`
}

// PlanResult is the body of a plan call response.
type PlanResult struct {
	ID        string        `json:"id"`
	Sum       string        `json:"sum"`
	Integrity float64       `json:"integrity"`
	Info      *policy.Info  `json:"info,omitempty"`
	Plan      decimate.Plan `json:"plan"`
	Cached    bool          `json:"cached"`
}

// None is an empty parameter or response slot.
type None struct{}
