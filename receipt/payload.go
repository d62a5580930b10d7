/*
payload.go - The opaque claim payload

PURPOSE:
  Encodes receipt identity and purchase details into a single string
  suitable for outward transport (typically rendered as a QR code by a
  layer outside this system). The payload is base64-wrapped JSON with a
  type tag, so a scanner can reject foreign or stale codes before any
  lookup happens.

TRUST MODEL:
  The payload is NOT tamper-proof and is NOT trusted: the claim path
  re-reads the authoritative receipt by ID and validates state, expiry,
  and ownership from storage. The payload only carries enough to find
  and display the receipt.
*/
package receipt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
)

// payloadType tags claim payloads so other QR kinds are rejected early.
const payloadType = "receipt_claim"

// Payload is the wire form of an issued receipt.
type Payload struct {
	Type        string `json:"type"`
	ReceiptID   string `json:"receipt_id"`
	PurchaseRef string `json:"purchase_ref"`
	BusinessID  string `json:"business_id"`
	CustomerID  string `json:"customer_id"`
	AmountUSD   string `json:"amount_usd"`
	IssuedAt    int64  `json:"issued_at"`
}

// EncodePayload produces the transportable claim string for a receipt.
func EncodePayload(r Receipt) string {
	p := Payload{
		Type:        payloadType,
		ReceiptID:   string(r.ID),
		PurchaseRef: r.PurchaseRef,
		BusinessID:  string(r.BusinessID),
		CustomerID:  string(r.CustomerID),
		AmountUSD:   r.USDAmount.String(),
		IssuedAt:    r.IssuedAt.Unix(),
	}
	raw, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodePayload parses a claim string. Returns ledger.ErrMalformedPayload
// if the string is not valid base64 JSON, the type tag is wrong, or the
// receipt identity is missing.
func DecodePayload(s string) (Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", ledger.ErrMalformedPayload)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("parse payload: %w", ledger.ErrMalformedPayload)
	}
	if p.Type != payloadType {
		return Payload{}, fmt.Errorf("payload type %q: %w", p.Type, ledger.ErrMalformedPayload)
	}
	if p.ReceiptID == "" {
		return Payload{}, fmt.Errorf("payload missing receipt id: %w", ledger.ErrMalformedPayload)
	}
	if _, err := decimal.NewFromString(p.AmountUSD); p.AmountUSD != "" && err != nil {
		return Payload{}, fmt.Errorf("payload amount %q: %w", p.AmountUSD, ledger.ErrMalformedPayload)
	}
	return p, nil
}
