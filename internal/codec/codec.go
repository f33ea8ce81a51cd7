// Package codec turns a ticket identity into the text carried by its QR code
// and back. It is purely structural: a well formed code says nothing about
// whether the ticket exists or was already used.
package codec

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"event-ticket/internal/status"

	"golang.org/x/crypto/blake2b"
)

// Payload is the logical schema of a ticket code.
type Payload struct {
	TicketID string `json:"ticketId"`
	EventID  string `json:"eventId"`
	UserID   string `json:"userId"`
	Sig      string `json:"sig,omitempty"`
}

type Codec struct {
	key []byte
}

// New returns a codec. With a non-empty key every code carries a keyed
// BLAKE2b MAC and Decode rejects codes without a valid one.
func New(key []byte) (*Codec, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("codec: signing key longer than %d bytes", blake2b.Size)
	}
	c := &Codec{}
	if len(key) > 0 {
		c.key = append([]byte(nil), key...)
	}
	return c, nil
}

func (c *Codec) Signed() bool {
	return len(c.key) > 0
}

func (c *Codec) Encode(ticketID, eventID, userID string) (string, error) {
	if ticketID == "" || eventID == "" || userID == "" {
		return "", status.Invalid("ticket code needs ticket, event and user ids")
	}

	p := Payload{TicketID: ticketID, EventID: eventID, UserID: userID}
	if c.Signed() {
		sig, err := c.sign(p)
		if err != nil {
			return "", err
		}
		p.Sig = sig
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("codec: encode: %w", err)
	}
	return string(data), nil
}

func (c *Codec) Decode(text string) (Payload, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Payload{}, malformed("empty input")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return Payload{}, malformed(err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Payload{}, malformed("trailing data")
	}
	if p.TicketID == "" || p.EventID == "" || p.UserID == "" {
		return Payload{}, malformed("missing required field")
	}

	if c.Signed() {
		if p.Sig == "" {
			return Payload{}, malformed("missing signature")
		}
		want, err := c.sign(p)
		if err != nil {
			return Payload{}, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(p.Sig)) != 1 {
			return Payload{}, malformed("bad signature")
		}
	}
	return p, nil
}

// sign computes the MAC over the length prefixed ids so that no two distinct
// triples share an input.
func (c *Codec) sign(p Payload) (string, error) {
	mac, err := blake2b.New256(c.key)
	if err != nil {
		return "", fmt.Errorf("codec: mac: %w", err)
	}

	var buf bytes.Buffer
	for _, field := range []string{p.TicketID, p.EventID, p.UserID} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		buf.Write(n[:])
		buf.WriteString(field)
	}
	mac.Write(buf.Bytes())
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", status.ErrInvalidCode, reason)
}
