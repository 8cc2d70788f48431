// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

type InputKind int

const (
	InputOpaque InputKind = iota
	InputMouseMove
	InputMouseButton
	InputMouseWheel
	InputKeyDown
	InputKeyUp
	InputText
)

// InputPayload is implemented by the closed set of input event kinds below.
type InputPayload interface {
	Kind() InputKind
	EventType() string
}

type MouseMove struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type MouseButton struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Button  string `json:"button"`
	Pressed bool   `json:"-"`
}

type MouseWheel struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	DeltaX int `json:"deltaX"`
	DeltaY int `json:"deltaY"`
}

type KeyStroke struct {
	Key       string   `json:"key"`
	Code      int      `json:"keyCode"`
	Modifiers []string `json:"modifiers,omitempty"`
	Down      bool     `json:"-"`
}

type TextInput struct {
	Text string `json:"text"`
}

// OpaqueInput carries any event the relay does not model. Data is forwarded
// untouched.
type OpaqueInput struct {
	Type string
	Data []byte
}

func (MouseMove) Kind() InputKind       { return InputMouseMove }
func (MouseMove) EventType() string     { return "mousemove" }
func (MouseButton) Kind() InputKind     { return InputMouseButton }
func (MouseWheel) Kind() InputKind      { return InputMouseWheel }
func (MouseWheel) EventType() string    { return "wheel" }
func (TextInput) Kind() InputKind       { return InputText }
func (TextInput) EventType() string     { return "text" }
func (OpaqueInput) Kind() InputKind     { return InputOpaque }
func (o OpaqueInput) EventType() string { return o.Type }

func (b MouseButton) EventType() string {
	if b.Pressed {
		return "mousedown"
	}
	return "mouseup"
}

func (k KeyStroke) Kind() InputKind {
	if k.Down {
		return InputKeyDown
	}
	return InputKeyUp
}

func (k KeyStroke) EventType() string {
	if k.Down {
		return "keydown"
	}
	return "keyup"
}

// InputEvent is an input payload addressed to one target client. Type and
// Data hold the event exactly as the sender wrote it; Payload is a typed view
// for inspection only and is never what gets forwarded when Type is set.
type InputEvent struct {
	TargetID string
	Type     string
	Data     json.RawMessage
	Payload  InputPayload
}

// NewInputEvent keeps the sender's event type and bytes and attaches a typed
// view of them.
func NewInputEvent(targetID, eventType string, data []byte) InputEvent {
	return InputEvent{
		TargetID: targetID,
		Type:     eventType,
		Data:     json.RawMessage(data),
		Payload:  ParseInput(eventType, data),
	}
}

// Wire returns the event type and payload to forward. A received event is
// returned byte for byte; one built only from a Payload is encoded.
func (e InputEvent) Wire() (string, json.RawMessage, error) {
	if e.Type != "" {
		if len(e.Data) == 0 {
			return e.Type, json.RawMessage("null"), nil
		}
		if json.Valid(e.Data) {
			return e.Type, e.Data, nil
		}
		raw, err := json.Marshal([]byte(e.Data))
		return e.Type, raw, err
	}
	if e.Payload == nil {
		return "", nil, errors.New("input event has no type")
	}
	return EncodeInput(e.Payload)
}

// ParseInput decodes a wire event into a known kind. Unknown types and
// payloads that do not decode strictly fall back to OpaqueInput.
func ParseInput(eventType string, data []byte) InputPayload {
	opaque := OpaqueInput{Type: eventType, Data: data}

	switch strings.ToLower(eventType) {
	case "mousemove":
		var p MouseMove
		if decodeStrict(data, &p) {
			return p
		}
	case "mousedown", "mouseup":
		var p MouseButton
		if decodeStrict(data, &p) {
			p.Pressed = strings.EqualFold(eventType, "mousedown")
			return p
		}
	case "wheel", "mousewheel":
		var p MouseWheel
		if decodeStrict(data, &p) {
			return p
		}
	case "keydown", "keyup":
		var p KeyStroke
		if decodeStrict(data, &p) {
			p.Down = strings.EqualFold(eventType, "keydown")
			return p
		}
	case "text":
		var p TextInput
		if decodeStrict(data, &p) {
			return p
		}
	}
	return opaque
}

// EncodeInput renders a typed payload for events built in process.
func EncodeInput(p InputPayload) (string, json.RawMessage, error) {
	if o, ok := p.(OpaqueInput); ok {
		if len(o.Data) == 0 {
			return o.Type, json.RawMessage("null"), nil
		}
		if json.Valid(o.Data) {
			return o.Type, json.RawMessage(o.Data), nil
		}
		raw, err := json.Marshal(o.Data)
		return o.Type, raw, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", nil, err
	}
	return p.EventType(), raw, nil
}

func decodeStrict(data []byte, v any) bool {
	if len(data) == 0 {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v) == nil
}
